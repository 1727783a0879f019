package wallet

import (
	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// AssetListItem is one asset with its balance as reported by ListAssets.
type AssetListItem struct {
	Asset   db.Asset
	Balance types.Balance
}

// Metadata is the issuance metadata of one asset.
type Metadata struct {
	AssetID      string
	Schema       string
	Name         string
	Precision    uint8
	Ticker       *string
	Details      *string
	IssuedSupply uint64
	Timestamp    int64
}

// GetAssetBalance returns the settled, future and spendable balance of one
// asset.
func (w *Wallet) GetAssetBalance(assetID string) (types.Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.dm.CheckAssetExists(assetID); err != nil {
		return types.Balance{}, err
	}
	data, err := w.dm.GetDbData(false)
	if err != nil {
		return types.Balance{}, err
	}
	return w.dm.GetAssetBalance(assetID, data)
}

// ListAssets returns the known assets with their balances, restricted to
// the given schemas when any.
func (w *Wallet) ListAssets(schemas []string) ([]AssetListItem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Debug("Listing assets...")

	assets, err := w.dm.ListAssets(schemas)
	if err != nil {
		return nil, err
	}
	data, err := w.dm.GetDbData(false)
	if err != nil {
		return nil, err
	}
	items := make([]AssetListItem, 0, len(assets))
	for _, asset := range assets {
		balance, err := w.dm.GetAssetBalance(asset.ID, data)
		if err != nil {
			return nil, err
		}
		items = append(items, AssetListItem{Asset: asset, Balance: balance})
	}
	return items, nil
}

// GetAssetMetadata returns the issuance metadata of one asset.
func (w *Wallet) GetAssetMetadata(assetID string) (Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	asset, err := w.dm.CheckAssetExists(assetID)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		AssetID:      asset.ID,
		Schema:       asset.Schema,
		Name:         asset.Name,
		Precision:    asset.Precision,
		Ticker:       asset.Ticker,
		Details:      asset.Details,
		IssuedSupply: asset.IssuedSupply,
		Timestamp:    asset.Timestamp,
	}, nil
}

// ListTransactions returns the bitcoin transactions this wallet created for
// its own operations, utxo creations and drains.
func (w *Wallet) ListTransactions() ([]db.WalletTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dm.GetWalletTransactions("")
}
