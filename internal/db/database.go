package db

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// WalletDbName is the sqlite file name under the wallet data directory.
const WalletDbName = "wallet.db"

// DatabaseManager owns the wallet sqlite database.
type DatabaseManager struct {
	walletDb *gorm.DB
}

func NewDatabaseManager(dataDir string) (*DatabaseManager, error) {
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return nil, err
	}

	walletPath := filepath.Join(dataDir, WalletDbName)
	walletDb, err := gorm.Open(sqlite.Open(walletPath+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Wallet database connected, path: %s", walletPath)

	dm := &DatabaseManager{walletDb: walletDb}
	if err := dm.autoMigrate(); err != nil {
		return nil, err
	}
	log.Debugf("Database migration completed successfully")
	return dm, nil
}

func (dm *DatabaseManager) autoMigrate() error {
	return dm.walletDb.AutoMigrate(
		&Txo{},
		&BatchTransfer{},
		&AssetTransfer{},
		&Transfer{},
		&Coloring{},
		&Asset{},
		&TransportEndpoint{},
		&TransferTransportEndpoint{},
		&WalletTransaction{},
		&BackupInfo{},
	)
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}

// Transaction runs fn inside a single database transaction so one logical
// wallet operation commits or rolls back as a unit.
func (dm *DatabaseManager) Transaction(fn func(tx *gorm.DB) error) error {
	return dm.walletDb.Transaction(fn)
}
