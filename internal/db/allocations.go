package db

import (
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// RgbAllocation is one asset allocation resolved against the status of the
// transfer that produced it and the spent state of its TXO.
type RgbAllocation struct {
	AssetID  *string
	Amount   uint64
	Status   string
	Incoming bool
	TxoSpent bool
}

// Settled reports whether the allocation contributes to the settled balance.
// An incoming allocation settles once its transfer does; an outgoing input on
// a spent TXO still counts while the spending transaction awaits
// confirmations, since the asset has not definitively left the wallet yet.
func (a *RgbAllocation) Settled() bool {
	return !StatusFailed(a.Status) &&
		((!a.TxoSpent && a.Incoming && StatusSettled(a.Status)) ||
			(a.TxoSpent && !a.Incoming && StatusWaitingConfirmations(a.Status)))
}

// Future reports whether the allocation will contribute to the balance once
// pending transfers complete.
func (a *RgbAllocation) Future() bool {
	return !a.TxoSpent && a.Incoming && !StatusFailed(a.Status) && !a.Settled()
}

// LocalUnspent pairs a wallet TXO with the allocations sitting on it.
type LocalUnspent struct {
	Utxo           Txo
	RgbAllocations []RgbAllocation
}

func (u *LocalUnspent) Outpoint() types.Outpoint {
	return u.Utxo.Outpoint()
}

func (t *Txo) Outpoint() types.Outpoint {
	return types.Outpoint{Txid: t.Txid, Vout: t.Vout}
}

// GetUnspentTxos filters the given TXOs down to the unspent ones, loading
// all TXOs from the database when none are given.
func (dm *DatabaseManager) GetUnspentTxos(txos []Txo) ([]Txo, error) {
	if len(txos) == 0 {
		if err := dm.walletDb.Find(&txos).Error; err != nil {
			return nil, err
		}
	}
	var unspent []Txo
	for _, t := range txos {
		if !t.Spent {
			unspent = append(unspent, t)
		}
	}
	return unspent, nil
}

func utxoAllocations(utxo *Txo, colorings []Coloring, assetTransfers []AssetTransfer, batchTransfers []BatchTransfer) ([]RgbAllocation, error) {
	var allocations []RgbAllocation
	for _, c := range colorings {
		if c.TxoIdx != utxo.Idx {
			continue
		}
		var assetTransfer *AssetTransfer
		for i := range assetTransfers {
			if assetTransfers[i].Idx == c.AssetTransferIdx {
				assetTransfer = &assetTransfers[i]
				break
			}
		}
		if assetTransfer == nil {
			return nil, &types.InconsistencyError{Details: "coloring without asset transfer"}
		}
		var batchTransfer *BatchTransfer
		for i := range batchTransfers {
			if batchTransfers[i].Idx == assetTransfer.BatchTransferIdx {
				batchTransfer = &batchTransfers[i]
				break
			}
		}
		if batchTransfer == nil {
			return nil, &types.InconsistencyError{Details: "asset transfer without batch transfer"}
		}
		allocations = append(allocations, RgbAllocation{
			AssetID:  assetTransfer.AssetID,
			Amount:   c.Amount,
			Status:   batchTransfer.Status,
			Incoming: c.Incoming(),
			TxoSpent: utxo.Spent,
		})
	}
	return allocations, nil
}

// GetRgbAllocations resolves the allocations sitting on each of the given
// TXOs against the current transfer statuses.
func GetRgbAllocations(utxos []Txo, colorings []Coloring, assetTransfers []AssetTransfer, batchTransfers []BatchTransfer) ([]LocalUnspent, error) {
	unspents := make([]LocalUnspent, 0, len(utxos))
	for i := range utxos {
		allocations, err := utxoAllocations(&utxos[i], colorings, assetTransfers, batchTransfers)
		if err != nil {
			return nil, err
		}
		unspents = append(unspents, LocalUnspent{
			Utxo:           utxos[i],
			RgbAllocations: allocations,
		})
	}
	return unspents, nil
}
