package wallet

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/btc"
	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/proxy"
	"github.com/rgbnetwork/rgb-wallet/internal/stock"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const (
	minBtcRequired      = 2000
	minBlockEstimation  = 1
	maxBlockEstimation  = 1008
	minTransportCount   = 1
	maxTransportCount   = 3
	recipientBlindPfx   = "utxob:"
	recipientWitnessPfx = "utxow:"
)

// Online is the session token minted by GoOnline. Every online operation
// must present the token of the currently active session so operations
// cannot straddle two indexer configurations.
type Online struct {
	ID         string
	IndexerURL string
}

// ProxyClient is the consignment and ACK exchange surface the state machine
// needs, implemented by proxy.Client.
type ProxyClient interface {
	CheckEndpoint(ctx context.Context, url string) error
	GetAck(ctx context.Context, url, recipientID string) (*bool, error)
	PostAck(ctx context.Context, url, recipientID string, ack bool) error
	GetConsignment(ctx context.Context, url, recipientID string) (*proxy.Consignment, error)
	PostConsignment(ctx context.Context, url, recipientID, txid string, vout *uint32, consignment []byte) error
}

// KeyRing derives addresses and signs for the wallet. Key management is an
// external collaborator, the engine only consumes this surface.
type KeyRing interface {
	// NewAddress reveals the next address, on the colorable keychain when
	// colorable is true and on the vanilla keychain otherwise.
	NewAddress(colorable bool) (string, error)
	// IsColorable reports whether an address belongs to the colorable
	// keychain.
	IsColorable(address string) bool
	// SignTx signs a raw transaction.
	SignTx(txHex string) (string, error)
	// WatchOnly reports whether private keys are unavailable.
	WatchOnly() bool
}

// TxBuilder is the transaction construction collaborator. Requested outputs
// keep their order at vouts 0..n-1, change (when any) is appended after
// them. The builder must return *types.InsufficientBitcoinsError when the
// inputs cannot cover outputs and fee, so the engine can report the
// shortfall.
type TxBuilder interface {
	BuildTx(req btc.TxRequest) (*btc.BuiltTx, error)
	// DrainTx spends all inputs to a single output at address, minus fee.
	DrainTx(inputs []types.Outpoint, address string, feeRate uint64) (*btc.BuiltTx, error)
}

// IndexerFactory opens a chain indexer for GoOnline. Swapped in tests.
type IndexerFactory func(indexerURL string) (btc.Indexer, error)

// Wallet is the transfer and allocation engine handle. All mutating
// operations run under one exclusive lock; concurrent callers block.
type Wallet struct {
	mu sync.Mutex

	dataDir   string
	dm        *db.DatabaseManager
	keyRing   KeyRing
	txBuilder TxBuilder
	stock     stock.Stock
	proxy     ProxyClient

	newIndexer IndexerFactory
	indexer    btc.Indexer
	online     *Online

	// prepared sends and utxo creations between Begin and End, keyed by txid
	pendingBatches map[string]*pendingBatch
}

// Params collects the collaborators a wallet needs. Stock, Proxy and
// NewIndexer fall back to the built-in implementations when nil.
type Params struct {
	DataDir    string
	KeyRing    KeyRing
	TxBuilder  TxBuilder
	Stock      stock.Stock
	Proxy      ProxyClient
	NewIndexer IndexerFactory
}

func New(params Params) (*Wallet, error) {
	dm, err := db.NewDatabaseManager(params.DataDir)
	if err != nil {
		return nil, err
	}
	st := params.Stock
	if st == nil {
		st, err = stock.NewFileStock(params.DataDir)
		if err != nil {
			return nil, err
		}
	}
	proxyClient := params.Proxy
	if proxyClient == nil {
		proxyClient = proxy.NewClient(config.AppConfig.ProxyTimeout)
	}
	newIndexer := params.NewIndexer
	if newIndexer == nil {
		newIndexer = func(indexerURL string) (btc.Indexer, error) {
			return btc.NewRpcIndexer(indexerURL)
		}
	}
	for _, sub := range []string{transfersDirName, mediaDirName} {
		if err := os.MkdirAll(filepath.Join(params.DataDir, sub), os.ModePerm); err != nil {
			return nil, err
		}
	}
	log.Infof("Wallet initialized, data dir: %s", params.DataDir)
	return &Wallet{
		dataDir:        params.DataDir,
		dm:             dm,
		keyRing:        params.KeyRing,
		txBuilder:      params.TxBuilder,
		stock:          st,
		proxy:          proxyClient,
		newIndexer:     newIndexer,
		pendingBatches: make(map[string]*pendingBatch),
	}, nil
}

// DatabaseManager exposes the wallet database, mainly for read-only callers.
func (w *Wallet) DatabaseManager() *db.DatabaseManager {
	return w.dm
}

// GetMediaDir returns the directory where asset media files are stored.
func (w *Wallet) GetMediaDir() string {
	return filepath.Join(w.dataDir, mediaDirName)
}

func (w *Wallet) checkOnline(online Online) error {
	if w.online == nil {
		return types.ErrInvalidOnline
	}
	if online.ID != w.online.ID || online.IndexerURL != w.online.IndexerURL {
		return types.ErrCannotChangeOnline
	}
	return nil
}

func (w *Wallet) checkXprv() error {
	if w.keyRing.WatchOnly() {
		return types.ErrWatchOnly
	}
	return nil
}

func (w *Wallet) checkFeeRate(feeRate uint64) error {
	if feeRate < config.AppConfig.MinFeeRate {
		return &types.InvalidFeeRateError{
			Details: "fee rate below the minimum",
		}
	}
	if feeRate > config.AppConfig.MaxFeeRate {
		return &types.InvalidFeeRateError{
			Details: "fee rate above the maximum",
		}
	}
	return nil
}

// GoOnline connects the wallet to a chain indexer, runs the consistency
// check and mints the session token. A second call with a different URL
// replaces the session; online operations holding the old token then fail.
func (w *Wallet) GoOnline(ctx context.Context, skipConsistencyCheck bool, indexerURL string) (Online, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Info("Going online...")

	if w.online == nil || w.online.IndexerURL != indexerURL {
		indexer, err := w.newIndexer(indexerURL)
		if err != nil {
			return Online{}, err
		}
		w.indexer = indexer
		w.online = &Online{
			ID:         uuid.NewString(),
			IndexerURL: indexerURL,
		}
	}

	if !skipConsistencyCheck {
		if err := w.checkConsistency(ctx); err != nil {
			return Online{}, err
		}
	}

	log.Info("Go online completed")
	return *w.online, nil
}

// checkConsistency compares the local caches against the chain indexer and
// the contract registry. A mismatch means the same keys were used from a
// divergent wallet copy; the error repeats on every GoOnline until the
// state is reconciled.
func (w *Wallet) checkConsistency(ctx context.Context) error {
	log.Info("Doing a consistency check...")

	if err := w.syncDbTxos(ctx); err != nil {
		return err
	}
	chainUnspents, err := w.indexer.ListUnspent(ctx)
	if err != nil {
		return err
	}
	chainOutpoints := make(map[string]bool, len(chainUnspents))
	for _, u := range chainUnspents {
		chainOutpoints[u.Outpoint.String()] = true
	}
	var txos []db.Txo
	if err := w.dm.GetWalletDB().Find(&txos).Error; err != nil {
		return err
	}
	for _, t := range txos {
		if t.Spent || !t.Exists {
			continue
		}
		if !chainOutpoints[t.Outpoint().String()] {
			return &types.InconsistencyError{
				Details: "spent bitcoins with another wallet: " + t.Outpoint().String(),
			}
		}
	}

	contractIDs, err := w.stock.ContractIDs()
	if err != nil {
		return err
	}
	knownContracts := make(map[string]bool, len(contractIDs))
	for _, id := range contractIDs {
		knownContracts[id] = true
	}
	assets, err := w.dm.ListAssets(nil)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if !knownContracts[asset.ID] {
			return &types.InconsistencyError{
				Details: "DB assets do not match with ones stored in the contract registry",
			}
		}
	}

	log.Info("Consistency check completed")
	return nil
}

// GetFeeEstimation returns the estimated fee rate in sat/vB to confirm
// within blocks, which must be between 1 and 1008.
func (w *Wallet) GetFeeEstimation(ctx context.Context, online Online, blocks uint16) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOnline(online); err != nil {
		return 0, err
	}
	if blocks < minBlockEstimation || blocks > maxBlockEstimation {
		return 0, types.ErrInvalidEstimationBlocks
	}
	return w.indexer.EstimateFee(ctx, blocks)
}

// checkTransportEndpoints validates the endpoint list shape shared by
// receive and send operations.
func checkTransportEndpoints(transportEndpoints []string) error {
	if len(transportEndpoints) < minTransportCount {
		return &types.InvalidTransportEndpointsError{
			Details: "must provide at least a transport endpoint",
		}
	}
	if len(transportEndpoints) > maxTransportCount {
		return &types.InvalidTransportEndpointsError{
			Details: "library supports at max 3 transport endpoints",
		}
	}
	seen := make(map[string]bool, len(transportEndpoints))
	for _, endpoint := range transportEndpoints {
		if seen[endpoint] {
			return &types.InvalidTransportEndpointsError{
				Details: "no duplicate transport endpoints allowed",
			}
		}
		seen[endpoint] = true
	}
	return nil
}

// bumpOperationTimestamp flags that a backup is needed. Failures here must
// not fail the operation that already committed.
func (w *Wallet) bumpOperationTimestamp() {
	if err := db.BumpOperationTimestamp(w.dm.GetWalletDB()); err != nil {
		log.Warnf("Failed to update backup info: %v", err)
	}
}
