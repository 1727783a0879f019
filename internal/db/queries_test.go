package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

func newTestDb(t *testing.T) *DatabaseManager {
	t.Helper()
	dm, err := NewDatabaseManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open wallet DB: %v", err)
	}
	return dm
}

func TestCheckAssetExists(t *testing.T) {
	dm := newTestDb(t)

	_, err := dm.CheckAssetExists("rgb:missing")
	var notFoundErr *types.AssetNotFoundError
	assert.ErrorAs(t, err, &notFoundErr)

	ticker := "TKN"
	assert.NoError(t, dm.GetWalletDB().Create(&Asset{
		ID: "rgb:present", Schema: ASSET_SCHEMA_NIA, Name: "Token",
		Ticker: &ticker, Precision: 2, IssuedSupply: 100,
		AddedAt: types.Now(), Timestamp: types.Now(),
	}).Error)
	asset, err := dm.CheckAssetExists("rgb:present")
	assert.NoError(t, err)
	assert.Equal(t, "Token", asset.Name)
}

func TestGetTransferByRecipientID(t *testing.T) {
	dm := newTestDb(t)

	_, err := dm.GetTransferByRecipientID("utxob:missing")
	var notFoundErr *types.TransferNotFoundError
	assert.ErrorAs(t, err, &notFoundErr)

	batch := BatchTransfer{Status: TRANSFER_STATUS_SETTLED, CreatedAt: types.Now(), UpdatedAt: types.Now()}
	assert.NoError(t, dm.GetWalletDB().Create(&batch).Error)
	at := AssetTransfer{BatchTransferIdx: batch.Idx, UserDriven: true}
	assert.NoError(t, dm.GetWalletDB().Create(&at).Error)
	recipientID := "utxob:someblindid"
	assert.NoError(t, dm.GetWalletDB().Create(&Transfer{
		AssetTransferIdx: at.Idx, Amount: 10, Incoming: true, RecipientID: &recipientID,
	}).Error)

	transfer, err := dm.GetTransferByRecipientID(recipientID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), transfer.Amount)
}

func TestGetBatchTransferByTxid(t *testing.T) {
	dm := newTestDb(t)

	_, err := dm.GetBatchTransferByTxid("deadbeef")
	var notFoundErr *types.BatchTransferNotFoundError
	assert.ErrorAs(t, err, &notFoundErr)

	txid := "deadbeef"
	batch := BatchTransfer{Txid: &txid, Status: TRANSFER_STATUS_WAITING_CONFIRMATIONS, CreatedAt: types.Now(), UpdatedAt: types.Now()}
	assert.NoError(t, dm.GetWalletDB().Create(&batch).Error)

	found, err := dm.GetBatchTransferByTxid("deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, batch.Idx, found.Idx)
}

func TestUpdateBatchTransferStatus(t *testing.T) {
	dm := newTestDb(t)

	batch := BatchTransfer{Status: TRANSFER_STATUS_WAITING_COUNTERPARTY, CreatedAt: 1, UpdatedAt: 1}
	assert.NoError(t, dm.GetWalletDB().Create(&batch).Error)

	assert.NoError(t, UpdateBatchTransferStatus(dm.GetWalletDB(), &batch, TRANSFER_STATUS_FAILED))
	assert.Equal(t, TRANSFER_STATUS_FAILED, batch.Status)

	var reloaded BatchTransfer
	assert.NoError(t, dm.GetWalletDB().First(&reloaded, batch.Idx).Error)
	assert.Equal(t, TRANSFER_STATUS_FAILED, reloaded.Status)
	assert.Greater(t, reloaded.UpdatedAt, int64(1))
}

func TestGetOrInsertTransportEndpoint(t *testing.T) {
	dm := newTestDb(t)

	first, err := GetOrInsertTransportEndpoint(dm.GetWalletDB(), TRANSPORT_TYPE_JSON_RPC, "http://proxy.test")
	assert.NoError(t, err)
	second, err := GetOrInsertTransportEndpoint(dm.GetWalletDB(), TRANSPORT_TYPE_JSON_RPC, "http://proxy.test")
	assert.NoError(t, err)
	assert.Equal(t, first.Idx, second.Idx)

	other, err := GetOrInsertTransportEndpoint(dm.GetWalletDB(), TRANSPORT_TYPE_JSON_RPC, "http://other.test")
	assert.NoError(t, err)
	assert.NotEqual(t, first.Idx, other.Idx)

	var count int64
	assert.NoError(t, dm.GetWalletDB().Model(&TransportEndpoint{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDelBatchTransferCascade(t *testing.T) {
	dm := newTestDb(t)

	txo := Txo{Txid: "txo", Vout: 0, BtcAmount: 1000, Colorable: true, Exists: true}
	assert.NoError(t, dm.GetWalletDB().Create(&txo).Error)

	batch := BatchTransfer{Status: TRANSFER_STATUS_FAILED, CreatedAt: types.Now(), UpdatedAt: types.Now()}
	assert.NoError(t, dm.GetWalletDB().Create(&batch).Error)
	assetID := "rgb:cascade"
	at := AssetTransfer{BatchTransferIdx: batch.Idx, AssetID: &assetID, UserDriven: true}
	assert.NoError(t, dm.GetWalletDB().Create(&at).Error)
	recipientID := "utxob:cascadeid"
	transfer := Transfer{AssetTransferIdx: at.Idx, Amount: 5, Incoming: true, RecipientID: &recipientID}
	assert.NoError(t, dm.GetWalletDB().Create(&transfer).Error)
	te, err := GetOrInsertTransportEndpoint(dm.GetWalletDB(), TRANSPORT_TYPE_JSON_RPC, "http://proxy.test")
	assert.NoError(t, err)
	assert.NoError(t, dm.GetWalletDB().Create(&TransferTransportEndpoint{
		TransferIdx: transfer.Idx, TransportEndpointIdx: te.Idx, Used: true,
	}).Error)
	assert.NoError(t, dm.GetWalletDB().Create(&Coloring{
		TxoIdx: txo.Idx, AssetTransferIdx: at.Idx, Type: COLORING_TYPE_RECEIVE, Amount: 5,
	}).Error)

	// unrelated batch that must survive the deletion
	survivor := BatchTransfer{Status: TRANSFER_STATUS_SETTLED, CreatedAt: types.Now(), UpdatedAt: types.Now()}
	assert.NoError(t, dm.GetWalletDB().Create(&survivor).Error)
	survivorAt := AssetTransfer{BatchTransferIdx: survivor.Idx, AssetID: &assetID, UserDriven: true}
	assert.NoError(t, dm.GetWalletDB().Create(&survivorAt).Error)

	assert.NoError(t, DelBatchTransfer(dm.GetWalletDB(), &batch))

	countRows := func(model interface{}) int64 {
		var count int64
		assert.NoError(t, dm.GetWalletDB().Model(model).Count(&count).Error)
		return count
	}
	assert.Equal(t, int64(1), countRows(&BatchTransfer{}))
	assert.Equal(t, int64(1), countRows(&AssetTransfer{}))
	assert.Equal(t, int64(0), countRows(&Transfer{}))
	assert.Equal(t, int64(0), countRows(&Coloring{}))
	assert.Equal(t, int64(0), countRows(&TransferTransportEndpoint{}))

	// TXO and endpoint rows are reusable, never cascaded
	assert.Equal(t, int64(1), countRows(&Txo{}))
	assert.Equal(t, int64(1), countRows(&TransportEndpoint{}))
}

func TestBackupInfoLifecycle(t *testing.T) {
	dm := newTestDb(t)

	info, err := dm.GetBackupInfo()
	assert.NoError(t, err)
	assert.Nil(t, info)

	assert.NoError(t, BumpOperationTimestamp(dm.GetWalletDB()))
	info, err = dm.GetBackupInfo()
	assert.NoError(t, err)
	assert.NotNil(t, info)
	assert.Greater(t, info.LastOperationTimestamp, int64(0))
	assert.Equal(t, int64(0), info.LastBackupTimestamp)

	// second bump updates the singleton row in place
	assert.NoError(t, BumpOperationTimestamp(dm.GetWalletDB()))
	var count int64
	assert.NoError(t, dm.GetWalletDB().Model(&BackupInfo{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetUnspentTxos(t *testing.T) {
	dm := newTestDb(t)

	assert.NoError(t, dm.GetWalletDB().Create(&Txo{Txid: "a", Vout: 0, BtcAmount: 1000, Colorable: true, Exists: true}).Error)
	assert.NoError(t, dm.GetWalletDB().Create(&Txo{Txid: "a", Vout: 1, BtcAmount: 1000, Colorable: true, Exists: true, Spent: true}).Error)
	assert.NoError(t, dm.GetWalletDB().Create(&Txo{Txid: "b", Vout: 0, BtcAmount: 2000, Exists: true}).Error)

	unspent, err := dm.GetUnspentTxos(nil)
	assert.NoError(t, err)
	assert.Len(t, unspent, 2)
	for _, txo := range unspent {
		assert.False(t, txo.Spent)
	}
}

func TestGetTxo(t *testing.T) {
	dm := newTestDb(t)

	txo, err := dm.GetTxo(types.Outpoint{Txid: "nope", Vout: 0})
	assert.NoError(t, err)
	assert.Nil(t, txo)

	assert.NoError(t, dm.GetWalletDB().Create(&Txo{Txid: "yes", Vout: 3, BtcAmount: 500, Exists: true}).Error)
	txo, err = dm.GetTxo(types.Outpoint{Txid: "yes", Vout: 3})
	assert.NoError(t, err)
	assert.NotNil(t, txo)
	assert.Equal(t, uint64(500), txo.BtcAmount)
}
