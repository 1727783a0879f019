package db

import (
	"errors"

	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// CheckAssetExists returns the asset or a typed not-found error.
func (dm *DatabaseManager) CheckAssetExists(assetID string) (*Asset, error) {
	var asset Asset
	err := dm.walletDb.Where("id = ?", assetID).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.AssetNotFoundError{AssetID: assetID}
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (dm *DatabaseManager) ListAssets(schemas []string) ([]Asset, error) {
	var assets []Asset
	query := dm.walletDb.Order("added_at asc")
	if len(schemas) > 0 {
		query = query.Where("schema IN ?", schemas)
	}
	if err := query.Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (dm *DatabaseManager) GetTxo(outpoint types.Outpoint) (*Txo, error) {
	var txo Txo
	err := dm.walletDb.Where("txid = ? AND vout = ?", outpoint.Txid, outpoint.Vout).First(&txo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txo, nil
}

func (dm *DatabaseManager) GetWalletTransactions(txType string) ([]WalletTransaction, error) {
	var txs []WalletTransaction
	query := dm.walletDb.Order("idx asc")
	if txType != "" {
		query = query.Where("type = ?", txType)
	}
	if err := query.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

// GetTransferByRecipientID finds the unique transfer leg carrying the given
// recipient ID.
func (dm *DatabaseManager) GetTransferByRecipientID(recipientID string) (*Transfer, error) {
	var transfer Transfer
	err := dm.walletDb.Where("recipient_id = ?", recipientID).First(&transfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.TransferNotFoundError{RecipientID: recipientID}
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// GetBatchTransferByTxid finds the unique batch transfer anchored to the
// given transaction ID.
func (dm *DatabaseManager) GetBatchTransferByTxid(txid string) (*BatchTransfer, error) {
	var batchTransfer BatchTransfer
	err := dm.walletDb.Where("txid = ?", txid).First(&batchTransfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.BatchTransferNotFoundError{Txid: txid}
	}
	if err != nil {
		return nil, err
	}
	return &batchTransfer, nil
}

// UpdateBatchTransferStatus moves a batch transfer to a new status, bumping
// its updated_at timestamp.
func UpdateBatchTransferStatus(tx *gorm.DB, batchTransfer *BatchTransfer, status string) error {
	batchTransfer.Status = status
	batchTransfer.UpdatedAt = types.Now()
	return tx.Model(&BatchTransfer{}).Where("idx = ?", batchTransfer.Idx).
		Updates(map[string]interface{}{
			"status":     batchTransfer.Status,
			"updated_at": batchTransfer.UpdatedAt,
		}).Error
}

// GetTransferTransportEndpoints returns the endpoints tried for a transfer
// leg, with the endpoint rows preloaded, ordered as they were added.
func (dm *DatabaseManager) GetTransferTransportEndpoints(transferIdx uint) ([]TransferTransportEndpoint, error) {
	var ttes []TransferTransportEndpoint
	err := dm.walletDb.Preload("TransportEndpoint").
		Where("transfer_idx = ?", transferIdx).
		Order("idx asc").
		Find(&ttes).Error
	if err != nil {
		return nil, err
	}
	return ttes, nil
}

// GetOrInsertTransportEndpoint returns the endpoint row for the given URL,
// creating it on first use.
func GetOrInsertTransportEndpoint(tx *gorm.DB, transportType, endpoint string) (*TransportEndpoint, error) {
	var te TransportEndpoint
	err := tx.Where("endpoint = ?", endpoint).First(&te).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		te = TransportEndpoint{TransportType: transportType, Endpoint: endpoint}
		if err := tx.Create(&te).Error; err != nil {
			return nil, err
		}
		return &te, nil
	}
	if err != nil {
		return nil, err
	}
	return &te, nil
}

// DelBatchTransfer removes a batch transfer and everything hanging off it.
// Colorings are removed first since their foreign key restricts deletion.
func DelBatchTransfer(tx *gorm.DB, batchTransfer *BatchTransfer) error {
	var assetTransferIdxs []uint
	if err := tx.Model(&AssetTransfer{}).
		Where("batch_transfer_idx = ?", batchTransfer.Idx).
		Pluck("idx", &assetTransferIdxs).Error; err != nil {
		return err
	}
	if len(assetTransferIdxs) > 0 {
		if err := tx.Where("asset_transfer_idx IN ?", assetTransferIdxs).
			Delete(&Coloring{}).Error; err != nil {
			return err
		}
		var transferIdxs []uint
		if err := tx.Model(&Transfer{}).
			Where("asset_transfer_idx IN ?", assetTransferIdxs).
			Pluck("idx", &transferIdxs).Error; err != nil {
			return err
		}
		if len(transferIdxs) > 0 {
			if err := tx.Where("transfer_idx IN ?", transferIdxs).
				Delete(&TransferTransportEndpoint{}).Error; err != nil {
				return err
			}
			if err := tx.Where("idx IN ?", transferIdxs).
				Delete(&Transfer{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("idx IN ?", assetTransferIdxs).
			Delete(&AssetTransfer{}).Error; err != nil {
			return err
		}
	}
	return tx.Where("idx = ?", batchTransfer.Idx).Delete(&BatchTransfer{}).Error
}

// BumpOperationTimestamp records that wallet data changed, so the next
// BackupInfo query reports a pending backup.
func BumpOperationTimestamp(tx *gorm.DB) error {
	var info BackupInfo
	err := tx.First(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		info = BackupInfo{LastOperationTimestamp: types.Now()}
		return tx.Create(&info).Error
	}
	if err != nil {
		return err
	}
	return tx.Model(&BackupInfo{}).Where("id = ?", info.ID).
		Update("last_operation_timestamp", types.Now()).Error
}

func (dm *DatabaseManager) GetBackupInfo() (*BackupInfo, error) {
	var info BackupInfo
	err := dm.walletDb.First(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}
