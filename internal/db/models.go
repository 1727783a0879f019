package db

import (
	"time"
)

// Txo model (wallet Bitcoin output)
type Txo struct {
	Idx            uint      `gorm:"primaryKey" json:"idx"`
	Txid           string    `gorm:"not null;index:unique_txid_vout,unique" json:"txid"`
	Vout           uint32    `gorm:"not null;index:unique_txid_vout,unique" json:"vout"`
	BtcAmount      uint64    `gorm:"not null" json:"btc_amount"`
	Colorable      bool      `gorm:"not null" json:"colorable"`
	Spent          bool      `gorm:"not null" json:"spent"`
	Exists         bool      `gorm:"not null" json:"exists"`
	PendingWitness bool      `gorm:"not null" json:"pending_witness"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`

	Colorings []Coloring `gorm:"foreignKey:TxoIdx;references:Idx;constraint:OnDelete:RESTRICT" json:"-"`
}

// BatchTransfer model (one Bitcoin transaction attempt)
type BatchTransfer struct {
	Idx              uint    `gorm:"primaryKey" json:"idx"`
	Txid             *string `gorm:"index:batch_transfer_txid_index" json:"txid"`
	Status           string  `gorm:"not null" json:"status"` // "waiting_counterparty", "waiting_confirmations", "settled", "failed"
	CreatedAt        int64   `gorm:"not null" json:"created_at"`
	UpdatedAt        int64   `gorm:"not null" json:"updated_at"`
	Expiration       *int64  `json:"expiration"`
	MinConfirmations uint8   `gorm:"not null" json:"min_confirmations"`

	AssetTransfers []AssetTransfer `gorm:"foreignKey:BatchTransferIdx;references:Idx;constraint:OnDelete:CASCADE" json:"-"`
}

// AssetTransfer model (one asset's participation in a batch)
type AssetTransfer struct {
	Idx              uint    `gorm:"primaryKey" json:"idx"`
	BatchTransferIdx uint    `gorm:"not null;index:asset_transfer_batch_index" json:"batch_transfer_idx"`
	AssetID          *string `gorm:"index:asset_transfer_asset_index" json:"asset_id"`
	UserDriven       bool    `gorm:"not null" json:"user_driven"`

	Transfers []Transfer `gorm:"foreignKey:AssetTransferIdx;references:Idx;constraint:OnDelete:CASCADE" json:"-"`
	Colorings []Coloring `gorm:"foreignKey:AssetTransferIdx;references:Idx;constraint:OnDelete:RESTRICT" json:"-"`
}

// Transfer model (one recipient or sender-side leg)
type Transfer struct {
	Idx              uint    `gorm:"primaryKey" json:"idx"`
	AssetTransferIdx uint    `gorm:"not null;index:transfer_asset_transfer_index" json:"asset_transfer_idx"`
	Amount           uint64  `gorm:"not null" json:"amount"`
	Incoming         bool    `gorm:"not null" json:"incoming"`
	RecipientID      *string `gorm:"index:transfer_recipient_index" json:"recipient_id"`
	RecipientType    *string `json:"recipient_type"` // "blind", "witness"
	Ack              *bool   `json:"ack"`
	Vout             *uint32 `json:"vout"`

	TransportEndpoints []TransferTransportEndpoint `gorm:"foreignKey:TransferIdx;references:Idx;constraint:OnDelete:CASCADE" json:"-"`
}

// Coloring model (one allocation unit binding an asset amount to a TXO)
type Coloring struct {
	Idx              uint   `gorm:"primaryKey" json:"idx"`
	TxoIdx           uint   `gorm:"not null;index:unique_coloring,unique" json:"txo_idx"`
	AssetTransferIdx uint   `gorm:"not null;index:unique_coloring,unique" json:"asset_transfer_idx"`
	Type             string `gorm:"not null" json:"type"` // "issue", "receive", "input", "change"
	Amount           uint64 `gorm:"not null" json:"amount"`
}

// Asset model (issued or received asset known to this wallet)
type Asset struct {
	ID           string  `gorm:"primaryKey" json:"id"`
	Schema       string  `gorm:"not null" json:"schema"` // "nia", "uda", "cfa"
	AddedAt      int64   `gorm:"not null" json:"added_at"`
	Name         string  `gorm:"not null" json:"name"`
	Precision    uint8   `gorm:"not null" json:"precision"`
	Ticker       *string `json:"ticker"`
	Details      *string `json:"details"`
	IssuedSupply uint64  `gorm:"not null" json:"issued_supply"`
	Timestamp    int64   `gorm:"not null" json:"timestamp"`
}

// TransportEndpoint model (known proxy endpoint)
type TransportEndpoint struct {
	Idx           uint   `gorm:"primaryKey" json:"idx"`
	TransportType string `gorm:"not null" json:"transport_type"` // "json_rpc"
	Endpoint      string `gorm:"not null;uniqueIndex" json:"endpoint"`
}

// TransferTransportEndpoint model (endpoint tried for one transfer leg)
type TransferTransportEndpoint struct {
	Idx                  uint `gorm:"primaryKey" json:"idx"`
	TransferIdx          uint `gorm:"not null;index:unique_transfer_endpoint,unique" json:"transfer_idx"`
	TransportEndpointIdx uint `gorm:"not null;index:unique_transfer_endpoint,unique" json:"transport_endpoint_idx"`
	Used                 bool `gorm:"not null" json:"used"`

	TransportEndpoint TransportEndpoint `gorm:"foreignKey:TransportEndpointIdx;references:Idx;constraint:OnDelete:RESTRICT" json:"-"`
}

// WalletTransaction model (bitcoin transactions created by this wallet)
type WalletTransaction struct {
	Idx  uint   `gorm:"primaryKey" json:"idx"`
	Txid string `gorm:"not null" json:"txid"`
	Type string `gorm:"not null" json:"type"` // "create_utxos", "drain"
}

// BackupInfo model (single row tracking whether a backup is needed)
type BackupInfo struct {
	ID                     uint  `gorm:"primaryKey" json:"id"`
	LastBackupTimestamp    int64 `gorm:"not null" json:"last_backup_timestamp"`
	LastOperationTimestamp int64 `gorm:"not null" json:"last_operation_timestamp"`
}
