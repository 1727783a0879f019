package db

import (
	"github.com/go-errors/errors"
)

// DbData is a consistent in-memory snapshot of the transfer-related tables,
// loaded once per wallet operation so derived values are computed against a
// single view of the database.
type DbData struct {
	BatchTransfers []BatchTransfer
	AssetTransfers []AssetTransfer
	Transfers      []Transfer
	Colorings      []Coloring
	Txos           []Txo
}

func (dm *DatabaseManager) GetDbData(emptyTransfers bool) (*DbData, error) {
	var data DbData
	if err := dm.walletDb.Find(&data.BatchTransfers).Error; err != nil {
		return nil, err
	}
	if err := dm.walletDb.Find(&data.AssetTransfers).Error; err != nil {
		return nil, err
	}
	if !emptyTransfers {
		if err := dm.walletDb.Find(&data.Transfers).Error; err != nil {
			return nil, err
		}
	}
	if err := dm.walletDb.Find(&data.Colorings).Error; err != nil {
		return nil, err
	}
	if err := dm.walletDb.Find(&data.Txos).Error; err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAssetTransfers returns the asset transfers belonging to the batch.
func (b *BatchTransfer) GetAssetTransfers(assetTransfers []AssetTransfer) []AssetTransfer {
	var result []AssetTransfer
	for _, at := range assetTransfers {
		if at.BatchTransferIdx == b.Idx {
			result = append(result, at)
		}
	}
	return result
}

// GetTransfers returns the transfers belonging to the batch, grouped per
// asset transfer.
func (b *BatchTransfer) GetTransfers(assetTransfers []AssetTransfer, transfers []Transfer) [][]Transfer {
	var grouped [][]Transfer
	for _, at := range b.GetAssetTransfers(assetTransfers) {
		var group []Transfer
		for _, t := range transfers {
			if t.AssetTransferIdx == at.Idx {
				group = append(group, t)
			}
		}
		grouped = append(grouped, group)
	}
	return grouped
}

// Incoming reports whether every transfer in the batch is incoming, meaning
// the batch was created on the receive side.
func (b *BatchTransfer) Incoming(assetTransfers []AssetTransfer, transfers []Transfer) bool {
	assetTransferIdxs := make(map[uint]bool)
	for _, at := range assetTransfers {
		if at.BatchTransferIdx == b.Idx {
			assetTransferIdxs[at.Idx] = true
		}
	}
	for _, t := range transfers {
		if assetTransferIdxs[t.AssetTransferIdx] && !t.Incoming {
			return false
		}
	}
	return true
}

func (b *BatchTransfer) Failed() bool {
	return StatusFailed(b.Status)
}

func (b *BatchTransfer) Pending() bool {
	return StatusPending(b.Status)
}

func (b *BatchTransfer) WaitingCounterparty() bool {
	return StatusWaitingCounterparty(b.Status)
}

func (b *BatchTransfer) WaitingConfirmations() bool {
	return StatusWaitingConfirmations(b.Status)
}

// RelatedTransfers resolves the asset transfer and batch transfer a transfer
// leg belongs to.
func (t *Transfer) RelatedTransfers(assetTransfers []AssetTransfer, batchTransfers []BatchTransfer) (*AssetTransfer, *BatchTransfer, error) {
	var assetTransfer *AssetTransfer
	for i := range assetTransfers {
		if assetTransfers[i].Idx == t.AssetTransferIdx {
			assetTransfer = &assetTransfers[i]
			break
		}
	}
	if assetTransfer == nil {
		return nil, nil, errors.Errorf("transfer %d has no asset transfer", t.Idx)
	}
	var batchTransfer *BatchTransfer
	for i := range batchTransfers {
		if batchTransfers[i].Idx == assetTransfer.BatchTransferIdx {
			batchTransfer = &batchTransfers[i]
			break
		}
	}
	if batchTransfer == nil {
		return nil, nil, errors.Errorf("asset transfer %d has no batch transfer", assetTransfer.Idx)
	}
	return assetTransfer, batchTransfer, nil
}

func (c *Coloring) Incoming() bool {
	return ColoringIncoming(c.Type)
}
