package btc

import (
	"context"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// Unspent is a wallet output reported by the chain indexer.
type Unspent struct {
	Outpoint      types.Outpoint
	AmountSat     uint64
	Address       string
	Confirmations uint64
}

// Indexer exposes the chain queries the wallet needs. The bitcoind-backed
// implementation lives in this package; tests swap in a fake.
type Indexer interface {
	// ListUnspent returns the unspent outputs of the wallet's addresses.
	ListUnspent(ctx context.Context) ([]Unspent, error)
	// GetTxConfirmations returns the confirmation count of a transaction,
	// nil when the transaction is unknown to the chain and the mempool.
	GetTxConfirmations(ctx context.Context, txid string) (*uint64, error)
	// Broadcast submits a signed raw transaction, returning its txid.
	Broadcast(ctx context.Context, txHex string) (string, error)
	// EstimateFee returns the fee rate in sat/vB estimated to confirm
	// within the given number of blocks.
	EstimateFee(ctx context.Context, blocks uint16) (float64, error)
}
