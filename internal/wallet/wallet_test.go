package wallet

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

func TestGoOnlineSession(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)

	// operations before GoOnline are refused
	err := f.wallet.Sync(ctx, Online{ID: "stale"})
	assert.ErrorIs(t, err, types.ErrInvalidOnline)

	online, err := f.wallet.GoOnline(ctx, false, "fake://indexer")
	assert.NoError(t, err)
	assert.NotEmpty(t, online.ID)

	// the same URL keeps the session
	again, err := f.wallet.GoOnline(ctx, false, "fake://indexer")
	assert.NoError(t, err)
	assert.Equal(t, online.ID, again.ID)

	// a different URL mints a new session, the old token stops working
	other, err := f.wallet.GoOnline(ctx, false, "fake://other")
	assert.NoError(t, err)
	assert.NotEqual(t, online.ID, other.ID)
	err = f.wallet.Sync(ctx, online)
	assert.ErrorIs(t, err, types.ErrCannotChangeOnline)
	assert.NoError(t, f.wallet.Sync(ctx, other))
}

func TestGoOnlineConsistencyCheck(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)

	// a db asset without a backing contract means the data dir diverged
	now := types.Now()
	assert.NoError(t, f.wallet.DatabaseManager().GetWalletDB().Create(&db.Asset{
		ID: "rgb:orphanasset", Schema: db.ASSET_SCHEMA_NIA, AddedAt: now,
		Name: "Orphan", IssuedSupply: 1, Timestamp: now,
	}).Error)

	_, err := f.wallet.GoOnline(ctx, false, "fake://indexer")
	var inconsistent *types.InconsistencyError
	assert.ErrorAs(t, err, &inconsistent)

	// the check repeats on every attempt until reconciled
	_, err = f.wallet.GoOnline(ctx, false, "fake://indexer")
	assert.ErrorAs(t, err, &inconsistent)

	// skipping the check lets the session through
	_, err = f.wallet.GoOnline(ctx, true, "fake://indexer")
	assert.NoError(t, err)
}

func TestGetFeeEstimation(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	online := f.goOnline(t)

	feeRate, err := f.wallet.GetFeeEstimation(ctx, online, 6)
	assert.NoError(t, err)
	assert.Equal(t, 2.5, feeRate)

	_, err = f.wallet.GetFeeEstimation(ctx, online, 0)
	assert.ErrorIs(t, err, types.ErrInvalidEstimationBlocks)
	_, err = f.wallet.GetFeeEstimation(ctx, online, 1009)
	assert.ErrorIs(t, err, types.ErrInvalidEstimationBlocks)
}

func TestSyncTracksChain(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.fundVanilla(50_000)
	online := f.goOnline(t)

	var txos []db.Txo
	gdb := f.wallet.DatabaseManager().GetWalletDB()
	assert.NoError(t, gdb.Find(&txos).Error)
	assert.Len(t, txos, 2)
	colorable := 0
	for _, txo := range txos {
		assert.True(t, txo.Exists)
		assert.False(t, txo.Spent)
		if txo.Colorable {
			colorable++
		}
	}
	assert.Equal(t, 1, colorable)

	// a utxo dropped by the chain is marked spent
	for _, txo := range txos {
		if !txo.Colorable {
			f.indexer.removeUnspent(txo.Txid, txo.Vout)
		}
	}
	assert.NoError(t, f.wallet.Sync(ctx, online))
	var spentCount int64
	assert.NoError(t, gdb.Model(&db.Txo{}).Where("spent = ?", true).Count(&spentCount).Error)
	assert.Equal(t, int64(1), spentCount)
}

func TestListUnspents(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(2, 10_000)
	online := f.goOnline(t)
	asset := issueTestAsset(t, f, []uint64{100})
	_, err := f.wallet.BlindReceive(asset.ID, 5, nil, testEndpoints, 1)
	assert.NoError(t, err)

	unspents, err := f.wallet.ListUnspents(ctx, &online, false, false)
	assert.NoError(t, err)
	assert.Len(t, unspents, 2)
	var total int
	for _, u := range unspents {
		total += len(u.Allocations)
	}
	assert.Equal(t, 2, total)

	// settledOnly drops the pending receive allocation
	settled, err := f.wallet.ListUnspents(ctx, &online, true, false)
	assert.NoError(t, err)
	total = 0
	for _, u := range settled {
		total += len(u.Allocations)
	}
	assert.Equal(t, 1, total)
}

func TestGetBtcBalance(t *testing.T) {
	ctx := context.Background()
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.fundVanilla(50_000)
	f.indexer.addUnspent("fund-unconfirmed", 0, 3_000, "van-99", 0)
	online := f.goOnline(t)

	vanilla, colored, err := f.wallet.GetBtcBalance(ctx, &online, false)
	assert.NoError(t, err)
	assert.Equal(t, types.BtcBalance{Settled: 50_000, Future: 53_000}, vanilla)
	assert.Equal(t, types.BtcBalance{Settled: 10_000, Future: 10_000}, colored)
}

func TestGetAddress(t *testing.T) {
	f := newTestWallet(t, nil)

	address, err := f.wallet.GetAddress()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(address, "van-"))
}

func TestGetMediaDir(t *testing.T) {
	f := newTestWallet(t, nil)

	mediaDir := f.wallet.GetMediaDir()
	assert.True(t, strings.HasSuffix(mediaDir, "media"))
	info, err := os.Stat(mediaDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGetAssetMetadata(t *testing.T) {
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.goOnline(t)
	asset := issueTestAsset(t, f, []uint64{100})

	meta, err := f.wallet.GetAssetMetadata(asset.ID)
	assert.NoError(t, err)
	assert.Equal(t, asset.ID, meta.AssetID)
	assert.Equal(t, db.ASSET_SCHEMA_NIA, meta.Schema)
	assert.Equal(t, "TKN", *meta.Ticker)
	assert.Equal(t, uint64(100), meta.IssuedSupply)

	_, err = f.wallet.GetAssetMetadata("rgb:unknown")
	var notFound *types.AssetNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
