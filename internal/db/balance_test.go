package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

func TestRgbAllocationSettled(t *testing.T) {
	cases := []struct {
		name       string
		allocation RgbAllocation
		settled    bool
		future     bool
	}{
		{
			name:       "settled incoming on unspent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_SETTLED, Incoming: true},
			settled:    true,
			future:     false,
		},
		{
			name:       "pending incoming on unspent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_WAITING_COUNTERPARTY, Incoming: true},
			settled:    false,
			future:     true,
		},
		{
			name:       "confirming incoming on unspent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_WAITING_CONFIRMATIONS, Incoming: true},
			settled:    false,
			future:     true,
		},
		{
			name:       "failed incoming",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_FAILED, Incoming: true},
			settled:    false,
			future:     false,
		},
		{
			// outgoing on a spent txo still counts while the spending tx
			// awaits confirmations
			name:       "confirming outgoing on spent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_WAITING_CONFIRMATIONS, TxoSpent: true},
			settled:    true,
			future:     false,
		},
		{
			name:       "settled outgoing on spent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_SETTLED, TxoSpent: true},
			settled:    false,
			future:     false,
		},
		{
			name:       "pending outgoing on unspent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_WAITING_COUNTERPARTY},
			settled:    false,
			future:     false,
		},
		{
			name:       "incoming on spent txo",
			allocation: RgbAllocation{Status: TRANSFER_STATUS_SETTLED, Incoming: true, TxoSpent: true},
			settled:    false,
			future:     false,
		},
	}
	for _, c := range cases {
		a := c.allocation
		assert.Equal(t, c.settled, a.Settled(), c.name)
		assert.Equal(t, c.future, a.Future(), c.name)
	}
}

func TestColoringIncoming(t *testing.T) {
	assert.True(t, ColoringIncoming(COLORING_TYPE_ISSUE))
	assert.True(t, ColoringIncoming(COLORING_TYPE_RECEIVE))
	assert.True(t, ColoringIncoming(COLORING_TYPE_CHANGE))
	assert.False(t, ColoringIncoming(COLORING_TYPE_INPUT))
}

// seedTransfer creates a batch/asset transfer pair with one coloring per
// given txo.
func seedTransfer(t *testing.T, dm *DatabaseManager, assetID, status, coloringType string, amounts map[uint]uint64) {
	t.Helper()
	now := types.Now()
	batch := BatchTransfer{Status: status, CreatedAt: now, UpdatedAt: now}
	if err := dm.GetWalletDB().Create(&batch).Error; err != nil {
		t.Fatalf("Failed to create batch transfer: %v", err)
	}
	at := AssetTransfer{BatchTransferIdx: batch.Idx, AssetID: &assetID, UserDriven: true}
	if err := dm.GetWalletDB().Create(&at).Error; err != nil {
		t.Fatalf("Failed to create asset transfer: %v", err)
	}
	for txoIdx, amount := range amounts {
		coloring := Coloring{TxoIdx: txoIdx, AssetTransferIdx: at.Idx, Type: coloringType, Amount: amount}
		if err := dm.GetWalletDB().Create(&coloring).Error; err != nil {
			t.Fatalf("Failed to create coloring: %v", err)
		}
	}
}

func TestGetAssetBalance(t *testing.T) {
	dm, err := NewDatabaseManager(t.TempDir())
	assert.NoError(t, err)

	assetID := "rgb:balancetest"
	var txoIdxs []uint
	for i := 0; i < 3; i++ {
		txo := Txo{Txid: "txo", Vout: uint32(i), BtcAmount: 1000, Colorable: true, Exists: true}
		assert.NoError(t, dm.GetWalletDB().Create(&txo).Error)
		txoIdxs = append(txoIdxs, txo.Idx)
	}

	// 100 settled, 30 incoming pending, 100 leaving with 70 change pending
	seedTransfer(t, dm, assetID, TRANSFER_STATUS_SETTLED, COLORING_TYPE_ISSUE, map[uint]uint64{txoIdxs[0]: 100})
	seedTransfer(t, dm, assetID, TRANSFER_STATUS_WAITING_COUNTERPARTY, COLORING_TYPE_RECEIVE, map[uint]uint64{txoIdxs[1]: 30})
	seedTransfer(t, dm, assetID, TRANSFER_STATUS_WAITING_COUNTERPARTY, COLORING_TYPE_INPUT, map[uint]uint64{txoIdxs[0]: 100})
	seedTransfer(t, dm, assetID, TRANSFER_STATUS_WAITING_COUNTERPARTY, COLORING_TYPE_CHANGE, map[uint]uint64{txoIdxs[2]: 70})

	balance, err := dm.GetAssetBalance(assetID, nil)
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), balance.Settled)
	// 100 + 30 + 70 - 100
	assert.Equal(t, uint64(100), balance.Future)
	// the settled allocation sits on the txo with a pending spend
	assert.Equal(t, uint64(0), balance.Spendable)
}

func TestGetAssetBalanceIgnoresOtherAssets(t *testing.T) {
	dm, err := NewDatabaseManager(t.TempDir())
	assert.NoError(t, err)

	txo := Txo{Txid: "txo", Vout: 0, BtcAmount: 1000, Colorable: true, Exists: true}
	assert.NoError(t, dm.GetWalletDB().Create(&txo).Error)
	seedTransfer(t, dm, "rgb:assetone", TRANSFER_STATUS_SETTLED, COLORING_TYPE_ISSUE, map[uint]uint64{txo.Idx: 10})
	seedTransfer(t, dm, "rgb:assettwo", TRANSFER_STATUS_SETTLED, COLORING_TYPE_ISSUE, map[uint]uint64{txo.Idx: 25})

	balance, err := dm.GetAssetBalance("rgb:assetone", nil)
	assert.NoError(t, err)
	assert.Equal(t, types.Balance{Settled: 10, Future: 10, Spendable: 10}, balance)
}

func TestGetAssetBalanceWitnessPending(t *testing.T) {
	dm, err := NewDatabaseManager(t.TempDir())
	assert.NoError(t, err)

	// witness receives waiting confirmations have no coloring yet, the
	// amount comes from the transfer row
	now := types.Now()
	assetID := "rgb:witnesstest"
	txid := "witness-tx"
	batch := BatchTransfer{Status: TRANSFER_STATUS_WAITING_CONFIRMATIONS, Txid: &txid, CreatedAt: now, UpdatedAt: now}
	assert.NoError(t, dm.GetWalletDB().Create(&batch).Error)
	at := AssetTransfer{BatchTransferIdx: batch.Idx, AssetID: &assetID, UserDriven: true}
	assert.NoError(t, dm.GetWalletDB().Create(&at).Error)
	recipientType := RECIPIENT_TYPE_WITNESS
	recipientID := "utxow:pendingaddr"
	assert.NoError(t, dm.GetWalletDB().Create(&Transfer{
		AssetTransferIdx: at.Idx, Amount: 40, Incoming: true,
		RecipientID: &recipientID, RecipientType: &recipientType,
	}).Error)

	balance, err := dm.GetAssetBalance(assetID, nil)
	assert.NoError(t, err)
	assert.Equal(t, types.Balance{Settled: 0, Future: 40, Spendable: 0}, balance)
}
