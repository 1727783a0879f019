package stock

// AssetInfo is the asset metadata carried inside contracts and consignments.
type AssetInfo struct {
	AssetID      string  `json:"asset_id"`
	Schema       string  `json:"schema"`
	Name         string  `json:"name"`
	Precision    uint8   `json:"precision"`
	Ticker       *string `json:"ticker,omitempty"`
	Details      *string `json:"details,omitempty"`
	IssuedSupply uint64  `json:"issued_supply"`
	Timestamp    int64   `json:"timestamp"`
}

// ConsignmentInfo is what consignment validation extracts for the receiving
// wallet.
type ConsignmentInfo struct {
	Asset       AssetInfo `json:"asset"`
	Amount      uint64    `json:"amount"`
	RecipientID string    `json:"recipient_id"`
	Txid        string    `json:"txid"`
	Vout        *uint32   `json:"vout,omitempty"`
}

// Stock is the contract registry and consignment engine behind the wallet.
// Proof validation beyond structural checks is delegated to implementations.
type Stock interface {
	// ContractIDs lists the asset IDs of all known contracts.
	ContractIDs() ([]string, error)
	// HasContract reports whether the contract for an asset is known.
	HasContract(assetID string) (bool, error)
	// IssueContract registers a new contract and returns its asset ID.
	IssueContract(info AssetInfo) (string, error)
	// ImportContract registers a contract received from a counterparty.
	ImportContract(assetID string, contract []byte) error
	// ExportContract returns the serialized contract for an asset.
	ExportContract(assetID string) ([]byte, error)
	// BuildConsignment assembles the transfer proof a sender posts for one
	// recipient.
	BuildConsignment(info ConsignmentInfo) ([]byte, error)
	// ValidateConsignment checks a received consignment and extracts its
	// contents. recipientID must match the one committed inside.
	ValidateConsignment(consignment []byte, recipientID string) (*ConsignmentInfo, error)
	// AcceptTransfer finalizes a validated consignment into the registry.
	AcceptTransfer(consignment []byte, recipientID string) error
}
