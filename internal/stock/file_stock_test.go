package stock

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testAssetInfo() AssetInfo {
	ticker := "TKN"
	return AssetInfo{
		Schema:       "nia",
		Name:         "Token",
		Precision:    2,
		Ticker:       &ticker,
		IssuedSupply: 1000,
		Timestamp:    1700000000,
	}
}

func TestIssueContract(t *testing.T) {
	s, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)

	assetID, err := s.IssueContract(testAssetInfo())
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(assetID, "rgb:"))

	known, err := s.HasContract(assetID)
	assert.NoError(t, err)
	assert.True(t, known)

	ids, err := s.ContractIDs()
	assert.NoError(t, err)
	assert.Equal(t, []string{assetID}, ids)

	// identical metadata still gets a distinct ID
	other, err := s.IssueContract(testAssetInfo())
	assert.NoError(t, err)
	assert.NotEqual(t, assetID, other)
}

func TestExportImportContract(t *testing.T) {
	s, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)
	assetID, err := s.IssueContract(testAssetInfo())
	assert.NoError(t, err)

	contract, err := s.ExportContract(assetID)
	assert.NoError(t, err)

	_, err = s.ExportContract("rgb:unknownasset")
	assert.Error(t, err)

	other, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)
	assert.NoError(t, other.ImportContract(assetID, contract))
	known, err := other.HasContract(assetID)
	assert.NoError(t, err)
	assert.True(t, known)

	assert.Error(t, other.ImportContract("rgb:wrongid", contract))
	assert.Error(t, other.ImportContract(assetID, []byte("not json")))
}

func TestConsignmentRoundTrip(t *testing.T) {
	sender, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)
	assetID, err := sender.IssueContract(testAssetInfo())
	assert.NoError(t, err)
	contract, err := sender.ExportContract(assetID)
	assert.NoError(t, err)

	var asset AssetInfo
	assert.NoError(t, json.Unmarshal(contract, &asset))

	recipientID := "utxob:someblindedid"
	consignment, err := sender.BuildConsignment(ConsignmentInfo{
		Asset: asset, Amount: 50, RecipientID: recipientID, Txid: "anchortxid",
	})
	assert.NoError(t, err)

	receiver, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)
	info, err := receiver.ValidateConsignment(consignment, recipientID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(50), info.Amount)
	assert.Equal(t, assetID, info.Asset.AssetID)
	assert.Equal(t, "anchortxid", info.Txid)

	assert.NoError(t, receiver.AcceptTransfer(consignment, recipientID))
	known, err := receiver.HasContract(assetID)
	assert.NoError(t, err)
	assert.True(t, known)
}

func TestValidateConsignmentRejections(t *testing.T) {
	s, err := NewFileStock(t.TempDir())
	assert.NoError(t, err)

	base := ConsignmentInfo{
		Asset:       AssetInfo{AssetID: "rgb:someasset"},
		Amount:      10,
		RecipientID: "utxob:rightid",
		Txid:        "anchortxid",
	}

	build := func(mutate func(*ConsignmentInfo)) []byte {
		info := base
		mutate(&info)
		data, err := s.BuildConsignment(info)
		assert.NoError(t, err)
		return data
	}

	_, err = s.ValidateConsignment([]byte("garbage"), "utxob:rightid")
	assert.Error(t, err)

	_, err = s.ValidateConsignment(build(func(i *ConsignmentInfo) {}), "utxob:otherid")
	assert.Error(t, err)

	_, err = s.ValidateConsignment(build(func(i *ConsignmentInfo) { i.Amount = 0 }), "utxob:rightid")
	assert.Error(t, err)

	_, err = s.ValidateConsignment(build(func(i *ConsignmentInfo) { i.Asset.AssetID = "" }), "utxob:rightid")
	assert.Error(t, err)
}
