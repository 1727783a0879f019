package stock

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	contractsDirName = "contracts"
	transfersDirName = "transfers"
)

// FileStock keeps contracts and accepted consignments as files under the
// wallet data directory.
type FileStock struct {
	baseDir string
}

func NewFileStock(dataDir string) (*FileStock, error) {
	baseDir := filepath.Join(dataDir, "stock")
	for _, sub := range []string{contractsDirName, transfersDirName} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), os.ModePerm); err != nil {
			return nil, err
		}
	}
	return &FileStock{baseDir: baseDir}, nil
}

func (s *FileStock) contractPath(assetID string) string {
	return filepath.Join(s.baseDir, contractsDirName, sanitizeID(assetID)+".json")
}

func (s *FileStock) transferPath(recipientID string) string {
	return filepath.Join(s.baseDir, transfersDirName, sanitizeID(recipientID)+".json")
}

// sanitizeID makes an identifier safe to use as a file name.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *FileStock) ContractIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, contractsDirName))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, contractsDirName, entry.Name()))
		if err != nil {
			return nil, err
		}
		var info AssetInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, err
		}
		ids = append(ids, info.AssetID)
	}
	return ids, nil
}

func (s *FileStock) HasContract(assetID string) (bool, error) {
	_, err := os.Stat(s.contractPath(assetID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IssueContract assigns the asset ID by hashing the contract fields together
// with a random nonce, so two issuances of identical metadata still get
// distinct IDs.
func (s *FileStock) IssueContract(info AssetInfo) (string, error) {
	nonce := uuid.NewString()
	digest := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%d|%d|%d|%s", info.Schema, info.Name, info.Precision,
		info.IssuedSupply, info.Timestamp, nonce)))
	encoded := strings.ToLower(
		base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:20]))
	info.AssetID = "rgb:" + encoded

	data, err := json.Marshal(&info)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.contractPath(info.AssetID), data, 0600); err != nil {
		return "", err
	}
	log.Debugf("Issued contract, asset ID: %s", info.AssetID)
	return info.AssetID, nil
}

func (s *FileStock) ImportContract(assetID string, contract []byte) error {
	var info AssetInfo
	if err := json.Unmarshal(contract, &info); err != nil {
		return fmt.Errorf("invalid contract: %v", err)
	}
	if info.AssetID != assetID {
		return fmt.Errorf("contract asset ID mismatch: %s != %s", info.AssetID, assetID)
	}
	return os.WriteFile(s.contractPath(assetID), contract, 0600)
}

func (s *FileStock) ExportContract(assetID string) ([]byte, error) {
	data, err := os.ReadFile(s.contractPath(assetID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("contract not found for asset %s", assetID)
	}
	return data, err
}

func (s *FileStock) BuildConsignment(info ConsignmentInfo) ([]byte, error) {
	return json.Marshal(&info)
}

func (s *FileStock) ValidateConsignment(consignment []byte, recipientID string) (*ConsignmentInfo, error) {
	var info ConsignmentInfo
	if err := json.Unmarshal(consignment, &info); err != nil {
		return nil, fmt.Errorf("invalid consignment: %v", err)
	}
	if info.RecipientID != recipientID {
		return nil, fmt.Errorf("consignment recipient mismatch: %s != %s", info.RecipientID, recipientID)
	}
	if info.Amount == 0 {
		return nil, fmt.Errorf("consignment with zero amount")
	}
	if info.Asset.AssetID == "" {
		return nil, fmt.Errorf("consignment without asset ID")
	}
	return &info, nil
}

func (s *FileStock) AcceptTransfer(consignment []byte, recipientID string) error {
	info, err := s.ValidateConsignment(consignment, recipientID)
	if err != nil {
		return err
	}
	known, err := s.HasContract(info.Asset.AssetID)
	if err != nil {
		return err
	}
	if !known {
		contract, err := json.Marshal(&info.Asset)
		if err != nil {
			return err
		}
		if err := os.WriteFile(s.contractPath(info.Asset.AssetID), contract, 0600); err != nil {
			return err
		}
	}
	return os.WriteFile(s.transferPath(recipientID), consignment, 0600)
}
