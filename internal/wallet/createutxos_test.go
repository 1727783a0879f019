package wallet

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

func testBtcAddress(t *testing.T) string {
	t.Helper()
	hash := make([]byte, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Failed to build test address: %v", err)
	}
	return addr.EncodeAddress()
}

func TestCreateUtxos(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundVanilla(100_000)
	online := f.goOnline(t)

	// make the broadcast land on chain so the sync picks the outputs up
	f.indexer.onBroadcast = func(txid string) {
		for vout := uint32(0); vout < 2; vout++ {
			f.indexer.addUnspent(txid, vout, 1000, fmt.Sprintf("col-new-%d", vout), 0)
		}
	}

	num := uint8(2)
	created, err := f.wallet.CreateUtxos(ctx, online, false, &num, nil, 2, false)
	assert.NoError(t, err)
	assert.Equal(t, uint8(2), created)
	assert.Len(t, f.indexer.broadcasts, 1)

	var txos []db.Txo
	assert.NoError(t, f.wallet.DatabaseManager().GetWalletDB().
		Where("colorable = ?", true).Find(&txos).Error)
	assert.Len(t, txos, 2)

	txs, err := f.wallet.ListTransactions()
	assert.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, db.WALLET_TX_TYPE_CREATE_UTXOS, txs[0].Type)
}

func TestCreateUtxosUpToAlreadyAvailable(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(5, 10_000)
	online := f.goOnline(t)

	_, err := f.wallet.CreateUtxos(ctx, online, true, nil, nil, 2, false)
	assert.ErrorIs(t, err, types.ErrAllocationsAlreadyAvailable)
}

func TestCreateUtxosUpToTopsUp(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(3, 10_000)
	f.fundVanilla(100_000)
	online := f.goOnline(t)

	f.indexer.onBroadcast = func(txid string) {
		for vout := uint32(0); vout < 2; vout++ {
			f.indexer.addUnspent(txid, vout, 1000, fmt.Sprintf("col-up-%d", vout), 0)
		}
	}

	// 3 allocatable utxos exist, only the missing 2 are created
	created, err := f.wallet.CreateUtxos(ctx, online, true, nil, nil, 2, false)
	assert.NoError(t, err)
	assert.Equal(t, uint8(2), created)
	assert.Len(t, f.builder.requests, 1)
	assert.Len(t, f.builder.requests[0].Outputs, 2)
}

func TestCreateUtxosRetriesWithFewerOutputs(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.builder.maxOutputs = 1
	f.fundVanilla(3_000)
	online := f.goOnline(t)

	f.indexer.onBroadcast = func(txid string) {
		f.indexer.addUnspent(txid, 0, 1000, "col-retry", 0)
	}

	num := uint8(3)
	created, err := f.wallet.CreateUtxos(ctx, online, false, &num, nil, 2, false)
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), created)
}

func TestCreateUtxosZeroSize(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundVanilla(100_000)
	online := f.goOnline(t)

	size := uint32(0)
	_, err := f.wallet.CreateUtxos(ctx, online, false, nil, &size, 2, false)
	assert.ErrorIs(t, err, types.ErrInvalidAmountZero)
}

func TestSendBtc(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundVanilla(100_000)
	online := f.goOnline(t)

	txid, err := f.wallet.SendBtc(ctx, online, testBtcAddress(t), 10_000, 2, false)
	assert.NoError(t, err)
	assert.Equal(t, "btx-1", txid)
	assert.Len(t, f.indexer.broadcasts, 1)

	_, err = f.wallet.SendBtc(ctx, online, testBtcAddress(t), 0, 2, false)
	assert.ErrorIs(t, err, types.ErrInvalidAmountZero)

	_, err = f.wallet.SendBtc(ctx, online, "notanaddress", 1000, 2, false)
	var addrErr *types.InvalidAddressError
	assert.ErrorAs(t, err, &addrErr)
}

func TestDrainToSkipsColoredUtxos(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.fundVanilla(100_000)
	online := f.goOnline(t)
	issueTestAsset(t, f, []uint64{100})

	_, err := f.wallet.DrainTo(ctx, online, testBtcAddress(t), false, 2, false)
	assert.NoError(t, err)

	// only the vanilla utxo is drained
	assert.Len(t, f.builder.drains, 1)
	assert.Len(t, f.builder.drains[0], 1)
	assert.Contains(t, f.builder.drains[0][0].Txid, "fund-van")

	txs, err := f.wallet.ListTransactions()
	assert.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, db.WALLET_TX_TYPE_DRAIN, txs[0].Type)
}

func TestDrainToDestroyAssets(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	online := f.goOnline(t)
	issueTestAsset(t, f, []uint64{100})

	// without destroyAssets there is nothing drainable
	_, err := f.wallet.DrainTo(ctx, online, testBtcAddress(t), false, 2, false)
	var btcErr *types.InsufficientBitcoinsError
	assert.ErrorAs(t, err, &btcErr)

	_, err = f.wallet.DrainTo(ctx, online, testBtcAddress(t), true, 2, false)
	assert.NoError(t, err)
	assert.Len(t, f.builder.drains, 1)
	assert.Len(t, f.builder.drains[0], 1)
}
