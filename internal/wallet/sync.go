package wallet

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// GetAddress reveals a new address on the vanilla keychain, for funding the
// wallet with plain bitcoins.
func (w *Wallet) GetAddress() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keyRing.NewAddress(false)
}

// Sync updates the local txo cache against the chain indexer.
func (w *Wallet) Sync(ctx context.Context, online Online) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOnline(online); err != nil {
		return err
	}
	return w.syncDbTxos(ctx)
}

// syncDbTxos reconciles the txo table with the indexer view. New unspents
// are inserted, cached unspents no longer on chain are marked spent. Txos
// awaiting a witness transaction keep their pending flag until the state
// machine clears it.
func (w *Wallet) syncDbTxos(ctx context.Context) error {
	unspents, err := w.indexer.ListUnspent(ctx)
	if err != nil {
		return err
	}

	dbTxos, err := allTxos(w.dm)
	if err != nil {
		return err
	}
	cached := make(map[string]*db.Txo, len(dbTxos))
	for i := range dbTxos {
		cached[dbTxos[i].Outpoint().String()] = &dbTxos[i]
	}

	tx := w.dm.GetWalletDB()
	seen := make(map[string]bool, len(unspents))
	for _, u := range unspents {
		seen[u.Outpoint.String()] = true
		if txo, ok := cached[u.Outpoint.String()]; ok {
			updates := map[string]interface{}{}
			if !txo.Exists {
				updates["exists"] = true
			}
			if txo.Spent {
				updates["spent"] = false
			}
			if txo.BtcAmount != u.AmountSat {
				updates["btc_amount"] = u.AmountSat
			}
			if len(updates) > 0 {
				if err := tx.Model(&db.Txo{}).Where("idx = ?", txo.Idx).
					Updates(updates).Error; err != nil {
					return err
				}
			}
			continue
		}
		newTxo := db.Txo{
			Txid:      u.Outpoint.Txid,
			Vout:      u.Outpoint.Vout,
			BtcAmount: u.AmountSat,
			Colorable: w.keyRing.IsColorable(u.Address),
			Exists:    true,
		}
		if err := tx.Create(&newTxo).Error; err != nil {
			return err
		}
	}

	for _, txo := range dbTxos {
		if txo.Spent || !txo.Exists {
			continue
		}
		if !seen[txo.Outpoint().String()] {
			if err := tx.Model(&db.Txo{}).Where("idx = ?", txo.Idx).
				Update("spent", true).Error; err != nil {
				return err
			}
		}
	}

	log.Debugf("Synced %d chain unspents against %d cached txos", len(unspents), len(dbTxos))
	return nil
}

func allTxos(dm *db.DatabaseManager) ([]db.Txo, error) {
	var txos []db.Txo
	if err := dm.GetWalletDB().Find(&txos).Error; err != nil {
		return nil, err
	}
	return txos, nil
}

// Unspent is a wallet txo together with the asset allocations it holds.
type Unspent struct {
	Outpoint    types.Outpoint
	BtcAmount   uint64
	Colorable   bool
	Allocations []db.RgbAllocation
}

// ListUnspents returns the wallet unspents and their allocations. When
// settledOnly is true only settled allocations are included.
func (w *Wallet) ListUnspents(ctx context.Context, online *Online, settledOnly bool, skipSync bool) ([]Unspent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if online != nil && !skipSync {
		if err := w.checkOnline(*online); err != nil {
			return nil, err
		}
		if err := w.syncDbTxos(ctx); err != nil {
			return nil, err
		}
	}
	localUnspents, err := w.localUnspents()
	if err != nil {
		return nil, err
	}
	unspents := make([]Unspent, 0, len(localUnspents))
	for _, lu := range localUnspents {
		allocations := lu.RgbAllocations
		if settledOnly {
			filtered := make([]db.RgbAllocation, 0, len(allocations))
			for _, a := range allocations {
				if a.Settled() {
					filtered = append(filtered, a)
				}
			}
			allocations = filtered
		}
		unspents = append(unspents, Unspent{
			Outpoint:    lu.Outpoint(),
			BtcAmount:   lu.Utxo.BtcAmount,
			Colorable:   lu.Utxo.Colorable,
			Allocations: allocations,
		})
	}
	return unspents, nil
}

func (w *Wallet) localUnspents() ([]db.LocalUnspent, error) {
	data, err := w.dm.GetDbData(false)
	if err != nil {
		return nil, err
	}
	utxos, err := w.dm.GetUnspentTxos(data.Txos)
	if err != nil {
		return nil, err
	}
	return db.GetRgbAllocations(utxos, data.Colorings, data.AssetTransfers, data.BatchTransfers)
}

// GetBtcBalance returns the on-chain balance split between the vanilla and
// colorable keychains. Settled means at least one confirmation.
func (w *Wallet) GetBtcBalance(ctx context.Context, online *Online, skipSync bool) (vanilla, colored types.BtcBalance, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if online != nil && !skipSync {
		if err = w.checkOnline(*online); err != nil {
			return
		}
		if err = w.syncDbTxos(ctx); err != nil {
			return
		}
	}
	if w.indexer == nil {
		err = types.ErrInvalidOnline
		return
	}
	unspents, err := w.indexer.ListUnspent(ctx)
	if err != nil {
		return
	}
	for _, u := range unspents {
		balance := &vanilla
		if w.keyRing.IsColorable(u.Address) {
			balance = &colored
		}
		balance.Future += u.AmountSat
		if u.Confirmations > 0 {
			balance.Settled += u.AmountSat
		}
	}
	return
}
