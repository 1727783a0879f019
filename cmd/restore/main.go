package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rgbnetwork/rgb-wallet/internal/wallet"
)

// Standalone restore tool. Runs against a stopped wallet, the target data
// directory must not already hold a wallet database.
func main() {
	backupPath := flag.String("backup", "", "path of the encrypted backup file")
	password := flag.String("password", "", "password the backup was encrypted with")
	dataDir := flag.String("data-dir", "", "directory to restore the wallet data into")
	flag.Parse()

	if *backupPath == "" || *password == "" || *dataDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := wallet.RestoreBackup(*backupPath, *password, *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wallet restored to %s\n", *dataDir)
}
