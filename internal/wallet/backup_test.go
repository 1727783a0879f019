package wallet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgbnetwork/rgb-wallet/internal/btc"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

func TestBackupRestore(t *testing.T) {
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.goOnline(t)
	asset := issueTestAsset(t, f, []uint64{100})

	needed, err := f.wallet.BackupInfo()
	assert.NoError(t, err)
	assert.True(t, needed)

	backupPath := filepath.Join(t.TempDir(), "wallet.backup")
	password := "correct horse battery staple"
	assert.NoError(t, f.wallet.Backup(backupPath, password))

	raw, err := os.ReadFile(backupPath)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "RGBWBAK1"))

	// nothing changed since, a second backup is refused
	needed, err = f.wallet.BackupInfo()
	assert.NoError(t, err)
	assert.False(t, needed)
	err = f.wallet.Backup(backupPath, password)
	assert.ErrorIs(t, err, types.ErrBackupNotNeeded)

	err = RestoreBackup(backupPath, "wrong password", filepath.Join(t.TempDir(), "restored"))
	assert.ErrorIs(t, err, types.ErrWrongBackupPassword)

	restoredDir := filepath.Join(t.TempDir(), "restored")
	assert.NoError(t, RestoreBackup(backupPath, password, restoredDir))

	// the restored copy is a working wallet with the same assets
	restored, err := New(Params{
		DataDir:   restoredDir,
		KeyRing:   &fakeKeyRing{},
		TxBuilder: &fakeTxBuilder{},
		Proxy:     newFakeProxy(),
		NewIndexer: func(indexerURL string) (btc.Indexer, error) {
			return f.indexer, nil
		},
	})
	assert.NoError(t, err)
	assets, err := restored.ListAssets(nil)
	assert.NoError(t, err)
	assert.Len(t, assets, 1)
	assert.Equal(t, asset.ID, assets[0].Asset.ID)
	assert.Equal(t, types.Balance{Settled: 100, Future: 100, Spendable: 100}, assets[0].Balance)
	needed, err = restored.BackupInfo()
	assert.NoError(t, err)
	assert.False(t, needed)
}

func TestRestoreRefusesOccupiedTarget(t *testing.T) {
	f := newTestWallet(t, nil)
	f.fundColorable(1, 10_000)
	f.goOnline(t)
	issueTestAsset(t, f, []uint64{1})

	backupPath := filepath.Join(t.TempDir(), "wallet.backup")
	assert.NoError(t, f.wallet.Backup(backupPath, "pw"))

	// restoring over an existing wallet is refused
	occupied := newTestWallet(t, nil)
	err := RestoreBackup(backupPath, "pw", occupied.wallet.dataDir)
	var internal *types.InternalError
	assert.ErrorAs(t, err, &internal)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	garbagePath := filepath.Join(t.TempDir(), "garbage")
	assert.NoError(t, os.WriteFile(garbagePath, []byte("not a backup"), 0600))

	err := RestoreBackup(garbagePath, "pw", filepath.Join(t.TempDir(), "restored"))
	var internal *types.InternalError
	assert.ErrorAs(t, err, &internal)
}
