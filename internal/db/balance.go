package db

import (
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// GetAssetBalance computes the settled, future and spendable balance of an
// asset from the current allocation state. Nothing is cached, the totals are
// derived from the snapshot on every call.
func (dm *DatabaseManager) GetAssetBalance(assetID string, data *DbData) (types.Balance, error) {
	var balance types.Balance
	if data == nil {
		var err error
		data, err = dm.GetDbData(false)
		if err != nil {
			return balance, err
		}
	}

	txosAllocations, err := GetRgbAllocations(data.Txos, data.Colorings, data.AssetTransfers, data.BatchTransfers)
	if err != nil {
		return balance, err
	}

	var assAllocations []RgbAllocation
	for _, u := range txosAllocations {
		for _, a := range u.RgbAllocations {
			if a.AssetID != nil && *a.AssetID == assetID {
				assAllocations = append(assAllocations, a)
			}
		}
	}

	var settled uint64
	for _, a := range assAllocations {
		if a.Settled() {
			settled += a.Amount
		}
	}

	var pendingIncoming uint64
	for _, a := range assAllocations {
		if !a.TxoSpent && a.Incoming && StatusPending(a.Status) {
			pendingIncoming += a.Amount
		}
	}
	// Incoming witness transfers waiting confirmations have no coloring yet,
	// the receive UTXO only materializes once the counterparty transaction is
	// seen, so their amounts are pulled from the transfer rows.
	for i := range data.Transfers {
		t := &data.Transfers[i]
		if !t.Incoming || t.RecipientType == nil || *t.RecipientType != RECIPIENT_TYPE_WITNESS {
			continue
		}
		assetTransfer, batchTransfer, err := t.RelatedTransfers(data.AssetTransfers, data.BatchTransfers)
		if err != nil {
			return balance, err
		}
		if !batchTransfer.WaitingConfirmations() {
			continue
		}
		if assetTransfer.AssetID == nil || *assetTransfer.AssetID != assetID {
			continue
		}
		pendingIncoming += t.Amount
	}

	var pendingOutgoing uint64
	for _, a := range assAllocations {
		if !a.Incoming && StatusPending(a.Status) {
			pendingOutgoing += a.Amount
		}
	}

	future := int64(settled) + int64(pendingIncoming) - int64(pendingOutgoing)

	// Settled amounts on a UTXO involved in any pending operation are not
	// spendable until that operation resolves.
	var unspendable uint64
	for _, u := range txosAllocations {
		busy := false
		if !u.Utxo.Spent {
			for _, a := range u.RgbAllocations {
				if (!a.Incoming && !StatusFailed(a.Status)) || (a.Incoming && StatusPending(a.Status)) {
					busy = true
					break
				}
			}
		} else {
			for _, a := range u.RgbAllocations {
				if !a.Incoming && StatusWaitingConfirmations(a.Status) {
					busy = true
					break
				}
			}
		}
		if !busy {
			continue
		}
		for _, a := range u.RgbAllocations {
			if a.AssetID != nil && *a.AssetID == assetID && a.Settled() {
				unspendable += a.Amount
			}
		}
	}

	balance.Settled = settled
	balance.Future = uint64(future)
	balance.Spendable = settled - unspendable
	return balance, nil
}
