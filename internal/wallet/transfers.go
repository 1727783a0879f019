package wallet

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// transfer kinds reported by ListTransfers
const (
	TRANSFER_KIND_ISSUANCE        = "issuance"
	TRANSFER_KIND_RECEIVE_BLIND   = "receive_blind"
	TRANSFER_KIND_RECEIVE_WITNESS = "receive_witness"
	TRANSFER_KIND_SEND            = "send"
)

// TransferListItem is one user-driven transfer as reported by
// ListTransfers.
type TransferListItem struct {
	Idx                uint
	BatchTransferIdx   uint
	Kind               string
	Status             string
	Amount             uint64
	CreatedAt          int64
	UpdatedAt          int64
	Expiration         *int64
	Txid               *string
	RecipientID        *string
	ReceiveUtxo        *types.Outpoint
	ChangeUtxo         *types.Outpoint
	TransportEndpoints []string
}

// FailTransfers marks matching pending transfers as failed. A recipient ID
// or txid filter targets one batch, which must still be waiting for its
// counterparty; without a filter only expired batches are failed. Transfers
// are refreshed first so a transfer that meanwhile advanced is not failed
// by a stale view.
func (w *Wallet) FailTransfers(ctx context.Context, online Online, recipientID, txid *string, noAssetOnly bool, skipSync bool) (bool, error) {
	if _, err := w.Refresh(ctx, online, "", nil, skipSync); err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	log.Info("Failing transfers...")

	data, err := w.dm.GetDbData(false)
	if err != nil {
		return false, err
	}

	if recipientID != nil || txid != nil {
		batch, err := w.resolveBatchTransfer(recipientID, txid, data)
		if err != nil {
			return false, err
		}
		if batch == nil || !batch.WaitingCounterparty() {
			return false, types.ErrCannotFailTransfer
		}
		if err := checkBatchFailable(*batch, noAssetOnly, data); err != nil {
			return false, err
		}
		if err := db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), batch, db.TRANSFER_STATUS_FAILED); err != nil {
			return false, err
		}
		w.bumpOperationTimestamp()
		return true, nil
	}

	now := types.Now()
	changed := false
	for i := range data.BatchTransfers {
		batch := data.BatchTransfers[i]
		if !batch.WaitingCounterparty() {
			continue
		}
		if batch.Expiration == nil || now <= *batch.Expiration {
			continue
		}
		if err := checkBatchFailable(batch, noAssetOnly, data); err != nil {
			continue
		}
		if err := db.UpdateBatchTransferStatus(w.dm.GetWalletDB(), &batch, db.TRANSFER_STATUS_FAILED); err != nil {
			return changed, err
		}
		changed = true
	}
	if changed {
		w.bumpOperationTimestamp()
	}
	return changed, nil
}

// checkBatchFailable refuses to fail a batch with an acked leg, since the
// counterparty already committed to it, and enforces the no-asset
// restriction.
func checkBatchFailable(batch db.BatchTransfer, noAssetOnly bool, data *db.DbData) error {
	assetTransfers := batch.GetAssetTransfers(data.AssetTransfers)
	if noAssetOnly {
		for _, at := range assetTransfers {
			if at.AssetID != nil {
				return types.ErrCannotFailTransfer
			}
		}
	}
	for _, transfers := range batch.GetTransfers(data.AssetTransfers, data.Transfers) {
		for _, t := range transfers {
			if t.Ack != nil && *t.Ack {
				return types.ErrCannotFailTransfer
			}
		}
	}
	return nil
}

// DeleteTransfers removes matching failed transfers and everything hanging
// off them. Transfers not in failed status cannot be deleted. Returns
// whether anything was removed.
func (w *Wallet) DeleteTransfers(recipientID, txid *string, noAssetOnly bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Info("Deleting transfers...")

	data, err := w.dm.GetDbData(false)
	if err != nil {
		return false, err
	}

	var targets []db.BatchTransfer
	if recipientID != nil || txid != nil {
		batch, err := w.resolveBatchTransfer(recipientID, txid, data)
		if err != nil {
			var transferNotFound *types.TransferNotFoundError
			var batchNotFound *types.BatchTransferNotFoundError
			if errors.As(err, &transferNotFound) || errors.As(err, &batchNotFound) {
				return false, nil
			}
			return false, err
		}
		if batch == nil {
			return false, types.ErrCannotDeleteTransfer
		}
		if !batch.Failed() {
			return false, types.ErrCannotDeleteTransfer
		}
		if noAssetOnly {
			for _, at := range batch.GetAssetTransfers(data.AssetTransfers) {
				if at.AssetID != nil {
					return false, types.ErrCannotDeleteTransfer
				}
			}
		}
		targets = append(targets, *batch)
	} else {
		for _, batch := range data.BatchTransfers {
			if !batch.Failed() {
				continue
			}
			if noAssetOnly {
				hasAsset := false
				for _, at := range batch.GetAssetTransfers(data.AssetTransfers) {
					if at.AssetID != nil {
						hasAsset = true
						break
					}
				}
				if hasAsset {
					continue
				}
			}
			targets = append(targets, batch)
		}
	}
	if len(targets) == 0 {
		return false, nil
	}

	err = w.dm.Transaction(func(tx *gorm.DB) error {
		for i := range targets {
			if err := db.DelBatchTransfer(tx, &targets[i]); err != nil {
				return err
			}
		}
		// change txos of deleted transfers that never reached the chain
		return tx.Where("`exists` = ? AND spent = ? AND idx NOT IN (?)",
			false, false,
			tx.Session(&gorm.Session{NewDB: true}).Model(&db.Coloring{}).Select("txo_idx"),
		).Delete(&db.Txo{}).Error
	})
	if err != nil {
		return false, err
	}

	w.bumpOperationTimestamp()
	log.Infof("Deleted %d batch transfers", len(targets))
	return true, nil
}

// resolveBatchTransfer maps the optional recipient ID and txid filters to a
// single batch transfer. When both are given the recipient must belong to
// the txid's batch.
func (w *Wallet) resolveBatchTransfer(recipientID, txid *string, data *db.DbData) (*db.BatchTransfer, error) {
	var fromRecipient *db.BatchTransfer
	if recipientID != nil {
		transfer, err := w.dm.GetTransferByRecipientID(*recipientID)
		if err != nil {
			return nil, err
		}
		_, batch, err := transfer.RelatedTransfers(data.AssetTransfers, data.BatchTransfers)
		if err != nil {
			return nil, err
		}
		fromRecipient = batch
	}
	if txid == nil {
		return fromRecipient, nil
	}
	fromTxid, err := w.dm.GetBatchTransferByTxid(*txid)
	if err != nil {
		return nil, err
	}
	if fromRecipient != nil && fromRecipient.Idx != fromTxid.Idx {
		return nil, nil
	}
	return fromTxid, nil
}

// ListTransfers returns the user-driven transfers of one asset, most recent
// last.
func (w *Wallet) ListTransfers(assetID string) ([]TransferListItem, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.dm.CheckAssetExists(assetID); err != nil {
		return nil, err
	}
	data, err := w.dm.GetDbData(false)
	if err != nil {
		return nil, err
	}
	txoByIdx := make(map[uint]db.Txo, len(data.Txos))
	for _, t := range data.Txos {
		txoByIdx[t.Idx] = t
	}

	var items []TransferListItem
	for _, at := range data.AssetTransfers {
		if !at.UserDriven || at.AssetID == nil || *at.AssetID != assetID {
			continue
		}
		var batch *db.BatchTransfer
		for i := range data.BatchTransfers {
			if data.BatchTransfers[i].Idx == at.BatchTransferIdx {
				batch = &data.BatchTransfers[i]
				break
			}
		}
		if batch == nil {
			return nil, &types.InconsistencyError{Details: "asset transfer without batch transfer"}
		}

		var receiveUtxo, changeUtxo *types.Outpoint
		for _, c := range data.Colorings {
			if c.AssetTransferIdx != at.Idx {
				continue
			}
			txo, ok := txoByIdx[c.TxoIdx]
			if !ok {
				continue
			}
			outpoint := txo.Outpoint()
			switch c.Type {
			case db.COLORING_TYPE_RECEIVE:
				receiveUtxo = &outpoint
			case db.COLORING_TYPE_CHANGE:
				changeUtxo = &outpoint
			}
		}

		for _, t := range data.Transfers {
			if t.AssetTransferIdx != at.Idx {
				continue
			}
			item := TransferListItem{
				Idx:              t.Idx,
				BatchTransferIdx: batch.Idx,
				Kind:             transferKind(t),
				Status:           batch.Status,
				Amount:           t.Amount,
				CreatedAt:        batch.CreatedAt,
				UpdatedAt:        batch.UpdatedAt,
				Expiration:       batch.Expiration,
				Txid:             batch.Txid,
				RecipientID:      t.RecipientID,
				ReceiveUtxo:      receiveUtxo,
				ChangeUtxo:       changeUtxo,
			}
			endpoints, err := w.dm.GetTransferTransportEndpoints(t.Idx)
			if err != nil {
				return nil, err
			}
			for _, tte := range endpoints {
				item.TransportEndpoints = append(item.TransportEndpoints, tte.TransportEndpoint.Endpoint)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func transferKind(t db.Transfer) string {
	if !t.Incoming {
		return TRANSFER_KIND_SEND
	}
	if t.RecipientType == nil {
		return TRANSFER_KIND_ISSUANCE
	}
	if *t.RecipientType == db.RECIPIENT_TYPE_WITNESS {
		return TRANSFER_KIND_RECEIVE_WITNESS
	}
	return TRANSFER_KIND_RECEIVE_BLIND
}
