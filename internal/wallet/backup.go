package wallet

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/scrypt"

	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const (
	backupMagic    = "RGBWBAK1"
	backupSaltLen  = 16
	backupKeyLen   = 32
	scryptN        = 1 << 15
	scryptR        = 8
	scryptP        = 1
	backupFileMode = 0600
)

// BackupInfo reports whether the wallet changed since the last backup.
func (w *Wallet) BackupInfo() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.dm.GetBackupInfo()
	if err != nil {
		return false, err
	}
	if info == nil {
		return true, nil
	}
	return info.LastOperationTimestamp > info.LastBackupTimestamp, nil
}

// Backup writes an encrypted archive of the wallet data to backupPath. The
// archive is a zip of the data directory encrypted with AES-256-GCM, the
// key derived from the password with scrypt.
func (w *Wallet) Backup(backupPath, password string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Starting backup to %s", backupPath)

	info, err := w.dm.GetBackupInfo()
	if err != nil {
		return err
	}
	if info != nil && info.LastOperationTimestamp <= info.LastBackupTimestamp {
		return types.ErrBackupNotNeeded
	}

	// record the backup before archiving so the restored copy also knows
	// it is up to date
	now := types.Now()
	if err := w.dm.GetWalletDB().Model(&db.BackupInfo{}).
		Where("id = ?", 1).
		Updates(map[string]interface{}{"last_backup_timestamp": now}).Error; err != nil {
		return err
	}
	if info == nil {
		row := db.BackupInfo{ID: 1, LastBackupTimestamp: now, LastOperationTimestamp: now}
		if err := w.dm.GetWalletDB().Save(&row).Error; err != nil {
			return err
		}
	}

	var zipBuf bytes.Buffer
	if err := zipDataDir(&zipBuf, w.dataDir); err != nil {
		return err
	}

	salt := make([]byte, backupSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	gcm, err := backupCipher(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ciphertext := gcm.Seal(nil, nonce, zipBuf.Bytes(), nil)

	var out bytes.Buffer
	out.WriteString(backupMagic)
	out.Write(salt)
	out.Write(nonce)
	out.Write(ciphertext)
	if err := os.WriteFile(backupPath, out.Bytes(), backupFileMode); err != nil {
		return err
	}

	log.Info("Backup completed")
	return nil
}

// RestoreBackup decrypts and unpacks an encrypted wallet backup into
// dataDir, which must not already hold wallet data.
func RestoreBackup(backupPath, password, dataDir string) error {
	log.Infof("Restoring backup from %s to %s", backupPath, dataDir)

	raw, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	headerLen := len(backupMagic) + backupSaltLen
	if len(raw) < headerLen || string(raw[:len(backupMagic)]) != backupMagic {
		return &types.InternalError{Details: "not a wallet backup file"}
	}
	salt := raw[len(backupMagic):headerLen]
	gcm, err := backupCipher(password, salt)
	if err != nil {
		return err
	}
	if len(raw) < headerLen+gcm.NonceSize() {
		return &types.InternalError{Details: "truncated wallet backup file"}
	}
	nonce := raw[headerLen : headerLen+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, raw[headerLen+gcm.NonceSize():], nil)
	if err != nil {
		return types.ErrWrongBackupPassword
	}

	if _, err := os.Stat(filepath.Join(dataDir, db.WalletDbName)); err == nil {
		return &types.InternalError{Details: "target directory already holds wallet data"}
	}
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return err
	}
	reader, err := zip.NewReader(bytes.NewReader(plaintext), int64(len(plaintext)))
	if err != nil {
		return err
	}
	for _, file := range reader.File {
		if err := extractBackupFile(file, dataDir); err != nil {
			return err
		}
	}

	log.Info("Restore completed")
	return nil
}

func backupCipher(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, backupKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func zipDataDir(out io.Writer, dataDir string) error {
	zw := zip.NewWriter(out)
	err := filepath.Walk(dataDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		// sqlite side files are volatile and recreated on open
		if strings.HasSuffix(rel, "-journal") || strings.HasSuffix(rel, "-wal") ||
			strings.HasSuffix(rel, "-shm") || strings.HasSuffix(rel, ".log") {
			return nil
		}
		fw, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func extractBackupFile(file *zip.File, dataDir string) error {
	rel := filepath.FromSlash(file.Name)
	if strings.Contains(rel, "..") {
		return &types.InternalError{Details: "invalid path in backup archive"}
	}
	target := filepath.Join(dataDir, rel)
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, backupFileMode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
