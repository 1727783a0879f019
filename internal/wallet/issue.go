package wallet

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/stock"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const (
	maxNameLength   = 256
	maxTickerLength = 8
	maxPrecision    = 18
)

func checkName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return &types.InvalidNameError{Details: "name length out of range"}
	}
	for _, r := range name {
		if r < 32 || r > 126 {
			return &types.InvalidNameError{Details: "name contains invalid characters"}
		}
	}
	return nil
}

func checkTicker(ticker string) error {
	if ticker == "" || len(ticker) > maxTickerLength {
		return &types.InvalidTickerError{Details: "ticker length out of range"}
	}
	if ticker != strings.ToUpper(ticker) {
		return &types.InvalidTickerError{Details: "ticker needs to be all uppercase"}
	}
	return nil
}

func checkPrecision(precision uint8) error {
	if precision > maxPrecision {
		return &types.InvalidPrecisionError{Details: "precision is too high"}
	}
	return nil
}

// IssueAssetNIA issues a fungible asset, allocating each requested amount
// to a distinct colorable utxo.
func (w *Wallet) IssueAssetNIA(ticker, name string, precision uint8, amounts []uint64) (db.Asset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Issuing NIA asset with ticker '%s', name '%s'", ticker, name)

	if err := checkTicker(ticker); err != nil {
		return db.Asset{}, err
	}
	return w.issueAsset(db.ASSET_SCHEMA_NIA, name, &ticker, nil, precision, amounts)
}

// IssueAssetCFA issues a collectible fungible asset. Details are optional.
func (w *Wallet) IssueAssetCFA(name string, details *string, precision uint8, amounts []uint64) (db.Asset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Issuing CFA asset with name '%s'", name)

	return w.issueAsset(db.ASSET_SCHEMA_CFA, name, nil, details, precision, amounts)
}

// IssueAssetUDA issues a unique digital asset with a single unit of supply.
func (w *Wallet) IssueAssetUDA(ticker, name string, details *string, precision uint8) (db.Asset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Issuing UDA asset with ticker '%s', name '%s'", ticker, name)

	if err := checkTicker(ticker); err != nil {
		return db.Asset{}, err
	}
	return w.issueAsset(db.ASSET_SCHEMA_UDA, name, &ticker, details, precision, []uint64{1})
}

func (w *Wallet) issueAsset(schema, name string, ticker, details *string, precision uint8, amounts []uint64) (db.Asset, error) {
	if err := w.checkXprv(); err != nil {
		return db.Asset{}, err
	}
	if err := checkName(name); err != nil {
		return db.Asset{}, err
	}
	if err := checkPrecision(precision); err != nil {
		return db.Asset{}, err
	}
	if len(amounts) == 0 {
		return db.Asset{}, types.ErrNoIssuanceAmounts
	}
	var issuedSupply uint64
	for _, amount := range amounts {
		if amount == 0 {
			return db.Asset{}, types.ErrInvalidAmountZero
		}
		issuedSupply += amount
	}

	unspents, err := w.localUnspents()
	if err != nil {
		return db.Asset{}, err
	}
	// each amount gets its own utxo
	issueUtxos := make([]db.Txo, 0, len(amounts))
	exclude := make(map[string]bool, len(amounts))
	for range amounts {
		utxo, err := w.getUtxo(exclude, unspents, false)
		if err != nil {
			return db.Asset{}, err
		}
		exclude[utxo.Outpoint().String()] = true
		issueUtxos = append(issueUtxos, utxo)
	}

	now := types.Now()
	info := stock.AssetInfo{
		Schema:       schema,
		Name:         name,
		Precision:    precision,
		Ticker:       ticker,
		Details:      details,
		IssuedSupply: issuedSupply,
		Timestamp:    now,
	}
	assetID, err := w.stock.IssueContract(info)
	if err != nil {
		return db.Asset{}, err
	}

	asset := db.Asset{
		ID:           assetID,
		Schema:       schema,
		AddedAt:      now,
		Name:         name,
		Precision:    precision,
		Ticker:       ticker,
		Details:      details,
		IssuedSupply: issuedSupply,
		Timestamp:    now,
	}
	err = w.dm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&asset).Error; err != nil {
			return err
		}
		batchTransfer := db.BatchTransfer{
			Status:    db.TRANSFER_STATUS_SETTLED,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&batchTransfer).Error; err != nil {
			return err
		}
		assetTransfer := db.AssetTransfer{
			BatchTransferIdx: batchTransfer.Idx,
			AssetID:          &assetID,
			UserDriven:       true,
		}
		if err := tx.Create(&assetTransfer).Error; err != nil {
			return err
		}
		transfer := db.Transfer{
			AssetTransferIdx: assetTransfer.Idx,
			Amount:           issuedSupply,
			Incoming:         true,
		}
		if err := tx.Create(&transfer).Error; err != nil {
			return err
		}
		for i, utxo := range issueUtxos {
			coloring := db.Coloring{
				TxoIdx:           utxo.Idx,
				AssetTransferIdx: assetTransfer.Idx,
				Type:             db.COLORING_TYPE_ISSUE,
				Amount:           amounts[i],
			}
			if err := tx.Create(&coloring).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return db.Asset{}, err
	}

	w.bumpOperationTimestamp()
	log.Infof("Issue asset completed, ID: %s", assetID)
	return asset, nil
}
