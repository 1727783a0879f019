package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/stock"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// RefreshFilter selects which pending transfers a refresh should advance.
type RefreshFilter struct {
	Status   string
	Incoming bool
}

// Refresh advances the pending transfers through their state machine,
// polling counterparties and the chain. It returns whether anything
// changed. An optional assetID restricts it to transfers involving that
// asset, optional filters restrict it by status and direction. Failures on
// individual transfers are logged and do not stop the others.
func (w *Wallet) Refresh(ctx context.Context, online Online, assetID string, filters []RefreshFilter, skipSync bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Refreshing transfers, asset: '%s'", assetID)

	if err := w.checkOnline(online); err != nil {
		return false, err
	}
	if assetID != "" {
		if _, err := w.dm.CheckAssetExists(assetID); err != nil {
			return false, err
		}
	}
	if !skipSync {
		if err := w.syncDbTxos(ctx); err != nil {
			return false, err
		}
	}

	data, err := w.dm.GetDbData(false)
	if err != nil {
		return false, err
	}

	changed := false
	for i := range data.BatchTransfers {
		batch := data.BatchTransfers[i]
		if !db.StatusPending(batch.Status) {
			continue
		}
		if assetID != "" && !batchInvolvesAsset(batch, assetID, data) {
			continue
		}
		if len(filters) > 0 && !batchMatchesFilters(batch, filters, data) {
			continue
		}
		batchChanged, err := w.refreshBatchTransfer(ctx, batch, data)
		if err != nil {
			log.Warnf("Failed to refresh batch transfer %d: %v", batch.Idx, err)
			continue
		}
		if batchChanged {
			changed = true
		}
	}

	log.Infof("Refresh completed, changed: %v", changed)
	return changed, nil
}

func batchInvolvesAsset(batch db.BatchTransfer, assetID string, data *db.DbData) bool {
	for _, at := range batch.GetAssetTransfers(data.AssetTransfers) {
		if at.AssetID != nil && *at.AssetID == assetID {
			return true
		}
	}
	return false
}

func batchIncoming(batch db.BatchTransfer, data *db.DbData) bool {
	assetTransfers := batch.GetAssetTransfers(data.AssetTransfers)
	return batch.Incoming(assetTransfers, data.Transfers)
}

func batchMatchesFilters(batch db.BatchTransfer, filters []RefreshFilter, data *db.DbData) bool {
	incoming := batchIncoming(batch, data)
	for _, f := range filters {
		if f.Status == batch.Status && f.Incoming == incoming {
			return true
		}
	}
	return false
}

func (w *Wallet) refreshBatchTransfer(ctx context.Context, batch db.BatchTransfer, data *db.DbData) (bool, error) {
	switch {
	case db.StatusWaitingCounterparty(batch.Status):
		if batch.Expiration != nil && types.Now() > *batch.Expiration {
			log.Infof("Batch transfer %d expired", batch.Idx)
			return true, db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_FAILED)
		}
		if batchIncoming(batch, data) {
			return w.waitConsignment(ctx, batch, data)
		}
		return w.waitAck(ctx, batch, data)
	case db.StatusWaitingConfirmations(batch.Status):
		return w.waitConfirmations(ctx, batch, data)
	default:
		return false, nil
	}
}

// waitConsignment polls the transport endpoints of an incoming transfer for
// the sender's consignment. Once one arrives it is validated and acked, a
// NACK is sent and the transfer failed when validation rejects it.
func (w *Wallet) waitConsignment(ctx context.Context, batch db.BatchTransfer, data *db.DbData) (bool, error) {
	log.Debugf("Waiting consignment for batch transfer %d", batch.Idx)
	assetTransfers := batch.GetAssetTransfers(data.AssetTransfers)
	if len(assetTransfers) != 1 {
		return false, &types.InconsistencyError{Details: "incoming batch with multiple asset transfers"}
	}
	assetTransfer := assetTransfers[0]
	transfers := batch.GetTransfers(data.AssetTransfers, data.Transfers)[0]
	if len(transfers) != 1 {
		return false, &types.InconsistencyError{Details: "incoming asset transfer with multiple transfers"}
	}
	transfer := transfers[0]
	if transfer.RecipientID == nil {
		return false, &types.InconsistencyError{Details: "incoming transfer without recipient ID"}
	}
	recipientID := *transfer.RecipientID

	endpoints, err := w.dm.GetTransferTransportEndpoints(transfer.Idx)
	if err != nil {
		return false, err
	}
	var consignment *stock.ConsignmentInfo
	var rawConsignment []byte
	var usedEndpointIdx uint
	for _, tte := range endpoints {
		result, err := w.proxy.GetConsignment(ctx, tte.TransportEndpoint.Endpoint, recipientID)
		if err != nil {
			log.Debugf("No consignment at %s: %v", tte.TransportEndpoint.Endpoint, err)
			continue
		}
		rawConsignment, err = result.Bytes()
		if err != nil {
			return false, err
		}
		info, err := w.stock.ValidateConsignment(rawConsignment, recipientID)
		if err != nil {
			log.Warnf("Invalid consignment for %s: %v", recipientID, err)
			return true, w.refuseConsignment(ctx, batch, tte.TransportEndpoint.Endpoint, recipientID)
		}
		info.Txid = result.Txid
		if result.Vout != nil {
			info.Vout = result.Vout
		}
		consignment = info
		usedEndpointIdx = tte.Idx
		break
	}
	if consignment == nil {
		return false, nil
	}

	// the transfer may have been created without a specific asset
	if assetTransfer.AssetID != nil && *assetTransfer.AssetID != consignment.Asset.AssetID {
		log.Warnf("Consignment for %s carries unexpected asset %s", recipientID, consignment.Asset.AssetID)
		return true, w.refuseConsignment(ctx, batch, endpointURL(endpoints, usedEndpointIdx), recipientID)
	}
	witness := transfer.RecipientType != nil && *transfer.RecipientType == db.RECIPIENT_TYPE_WITNESS
	if witness && consignment.Vout == nil {
		log.Warnf("Witness consignment for %s without vout", recipientID)
		return true, w.refuseConsignment(ctx, batch, endpointURL(endpoints, usedEndpointIdx), recipientID)
	}

	if err := w.importConsignmentAsset(consignment.Asset); err != nil {
		return false, err
	}
	if err := w.saveConsignment(recipientID, rawConsignment); err != nil {
		return false, err
	}

	url := endpointURL(endpoints, usedEndpointIdx)
	if err := w.proxy.PostAck(ctx, url, recipientID, true); err != nil {
		return false, err
	}

	err = w.dm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.TransferTransportEndpoint{}).
			Where("idx = ?", usedEndpointIdx).Update("used", true).Error; err != nil {
			return err
		}
		if assetTransfer.AssetID == nil {
			if err := tx.Model(&db.AssetTransfer{}).Where("idx = ?", assetTransfer.Idx).
				Update("asset_id", consignment.Asset.AssetID).Error; err != nil {
				return err
			}
		}
		updates := map[string]interface{}{"amount": consignment.Amount}
		if consignment.Vout != nil {
			updates["vout"] = *consignment.Vout
		}
		if err := tx.Model(&db.Transfer{}).Where("idx = ?", transfer.Idx).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&db.BatchTransfer{}).Where("idx = ?", batch.Idx).
			Update("txid", consignment.Txid).Error; err != nil {
			return err
		}
		if witness {
			// a sync may have cached the witness outpoint already when
			// the sender broadcast first
			var existing db.Txo
			err := tx.Where("txid = ? AND vout = ?", consignment.Txid, *consignment.Vout).
				First(&existing).Error
			switch {
			case err == nil:
				if err := tx.Model(&db.Txo{}).Where("idx = ?", existing.Idx).
					Updates(map[string]interface{}{
						"colorable":       true,
						"pending_witness": true,
					}).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				pendingTxo := db.Txo{
					Txid:           consignment.Txid,
					Vout:           *consignment.Vout,
					Colorable:      true,
					Exists:         false,
					PendingWitness: true,
				}
				if err := tx.Create(&pendingTxo).Error; err != nil {
					return err
				}
			default:
				return err
			}
		} else {
			// the blind receive coloring was created with the invoice
			// amount, the consignment is authoritative
			if err := tx.Model(&db.Coloring{}).
				Where("asset_transfer_idx = ?", assetTransfer.Idx).
				Update("amount", consignment.Amount).Error; err != nil {
				return err
			}
		}
		return db.UpdateBatchTransferStatus(tx, &batch, db.TRANSFER_STATUS_WAITING_CONFIRMATIONS)
	})
	if err != nil {
		return false, err
	}
	log.Infof("Consignment accepted for %s, txid: %s", recipientID, consignment.Txid)
	return true, nil
}

func endpointURL(endpoints []db.TransferTransportEndpoint, idx uint) string {
	for _, tte := range endpoints {
		if tte.Idx == idx {
			return tte.TransportEndpoint.Endpoint
		}
	}
	return ""
}

func (w *Wallet) refuseConsignment(ctx context.Context, batch db.BatchTransfer, url, recipientID string) error {
	if err := w.proxy.PostAck(ctx, url, recipientID, false); err != nil {
		log.Warnf("Failed to NACK consignment for %s: %v", recipientID, err)
	}
	return db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_FAILED)
}

// importConsignmentAsset registers an asset first seen in a consignment,
// both in the contract registry and in the wallet database.
func (w *Wallet) importConsignmentAsset(info stock.AssetInfo) error {
	known, err := w.stock.HasContract(info.AssetID)
	if err != nil {
		return err
	}
	if !known {
		contract, err := json.Marshal(&info)
		if err != nil {
			return err
		}
		if err := w.stock.ImportContract(info.AssetID, contract); err != nil {
			return err
		}
	}
	var count int64
	if err := w.dm.GetWalletDB().Model(&db.Asset{}).
		Where("id = ?", info.AssetID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		asset := db.Asset{
			ID:           info.AssetID,
			Schema:       info.Schema,
			AddedAt:      types.Now(),
			Name:         info.Name,
			Precision:    info.Precision,
			Ticker:       info.Ticker,
			Details:      info.Details,
			IssuedSupply: info.IssuedSupply,
			Timestamp:    info.Timestamp,
		}
		if err := w.dm.GetWalletDB().Create(&asset).Error; err != nil {
			return err
		}
	}
	return nil
}

// waitAck polls the counterparties of an outgoing transfer. Any NACK fails
// the whole batch, once every recipient acked the transaction is broadcast.
func (w *Wallet) waitAck(ctx context.Context, batch db.BatchTransfer, data *db.DbData) (bool, error) {
	log.Debugf("Waiting ACK for batch transfer %d", batch.Idx)
	transferGroups := batch.GetTransfers(data.AssetTransfers, data.Transfers)
	allAcked := true
	for _, transfers := range transferGroups {
		for _, transfer := range transfers {
			if transfer.RecipientID == nil {
				continue
			}
			if transfer.Ack != nil && *transfer.Ack {
				continue
			}
			endpoints, err := w.dm.GetTransferTransportEndpoints(transfer.Idx)
			if err != nil {
				return false, err
			}
			url := ""
			for _, tte := range endpoints {
				if tte.Used {
					url = tte.TransportEndpoint.Endpoint
					break
				}
			}
			if url == "" {
				return false, &types.InconsistencyError{Details: "outgoing transfer without a used endpoint"}
			}
			ack, err := w.proxy.GetAck(ctx, url, *transfer.RecipientID)
			if err != nil {
				return false, err
			}
			if ack == nil {
				allAcked = false
				continue
			}
			if !*ack {
				log.Infof("Recipient %s refused the transfer", *transfer.RecipientID)
				return true, db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_FAILED)
			}
			ackTrue := true
			if err := w.dm.GetWalletDB().Model(&db.Transfer{}).
				Where("idx = ?", transfer.Idx).Update("ack", &ackTrue).Error; err != nil {
				return false, err
			}
		}
	}
	if !allAcked {
		return false, nil
	}

	if batch.Txid == nil {
		return false, &types.InconsistencyError{Details: "outgoing batch without txid"}
	}
	signedHex, err := w.loadTransferTx(*batch.Txid)
	if err != nil {
		return false, err
	}
	if _, err := w.indexer.Broadcast(ctx, signedHex); err != nil {
		return false, err
	}
	log.Infof("All recipients acked, broadcast txid: %s", *batch.Txid)
	return true, db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_WAITING_CONFIRMATIONS)
}

// waitConfirmations settles a transfer once its transaction has enough
// confirmations.
func (w *Wallet) waitConfirmations(ctx context.Context, batch db.BatchTransfer, data *db.DbData) (bool, error) {
	log.Debugf("Waiting confirmations for batch transfer %d", batch.Idx)
	if batch.Txid == nil {
		// issuances settle immediately and never get here
		return false, &types.InconsistencyError{Details: "batch waiting confirmations without txid"}
	}
	confirmations, err := w.indexer.GetTxConfirmations(ctx, *batch.Txid)
	if err != nil {
		return false, err
	}
	if confirmations == nil || *confirmations < uint64(batch.MinConfirmations) {
		return false, nil
	}

	if batchIncoming(batch, data) {
		assetTransfers := batch.GetAssetTransfers(data.AssetTransfers)
		transfer := batch.GetTransfers(data.AssetTransfers, data.Transfers)[0][0]
		witness := transfer.RecipientType != nil && *transfer.RecipientType == db.RECIPIENT_TYPE_WITNESS
		if witness {
			if err := w.settleWitnessTxo(batch, assetTransfers[0], transfer); err != nil {
				return false, err
			}
		}
		if transfer.RecipientID != nil {
			rawConsignment, err := w.loadConsignment(*transfer.RecipientID)
			if err != nil {
				return false, err
			}
			if err := w.stock.AcceptTransfer(rawConsignment, *transfer.RecipientID); err != nil {
				return false, err
			}
		}
	}

	log.Infof("Batch transfer %d settled", batch.Idx)
	return true, db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_SETTLED)
}

// settleWitnessTxo binds the received allocation to the witness output,
// which must have reached the local txo cache through a sync first.
func (w *Wallet) settleWitnessTxo(batch db.BatchTransfer, assetTransfer db.AssetTransfer, transfer db.Transfer) error {
	if transfer.Vout == nil {
		return &types.InconsistencyError{Details: "witness transfer without vout"}
	}
	txo, err := w.dm.GetTxo(types.Outpoint{Txid: *batch.Txid, Vout: *transfer.Vout})
	if err != nil {
		return err
	}
	if txo == nil || !txo.Exists {
		return types.ErrSyncNeeded
	}
	return w.dm.Transaction(func(tx *gorm.DB) error {
		// a previous settle attempt may have committed the coloring before
		// a later step failed, so the refresh retry lands here again
		var count int64
		if err := tx.Model(&db.Coloring{}).
			Where("txo_idx = ? AND asset_transfer_idx = ?", txo.Idx, assetTransfer.Idx).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			coloring := db.Coloring{
				TxoIdx:           txo.Idx,
				AssetTransferIdx: assetTransfer.Idx,
				Type:             db.COLORING_TYPE_RECEIVE,
				Amount:           transfer.Amount,
			}
			if err := tx.Create(&coloring).Error; err != nil {
				return err
			}
		}
		return tx.Model(&db.Txo{}).Where("idx = ?", txo.Idx).
			Update("pending_witness", false).Error
	})
}

func (w *Wallet) consignmentPath(recipientID string) string {
	return filepath.Join(w.dataDir, transfersDirName, sanitizeFileName(recipientID)+".consignment")
}

func (w *Wallet) saveConsignment(recipientID string, consignment []byte) error {
	return os.WriteFile(w.consignmentPath(recipientID), consignment, 0600)
}

func (w *Wallet) loadConsignment(recipientID string) ([]byte, error) {
	return os.ReadFile(w.consignmentPath(recipientID))
}

func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
