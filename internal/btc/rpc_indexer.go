package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// RpcIndexer implements Indexer against a bitcoind node with wallet RPCs
// enabled.
type RpcIndexer struct {
	client *rpcclient.Client
}

// NewRpcIndexer dials the node at the given URL using the credentials from
// the app config and checks the connection with a ping.
func NewRpcIndexer(indexerURL string) (*RpcIndexer, error) {
	host := indexerURL
	if parsed, err := url.Parse(indexerURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         config.AppConfig.BTCRPCUser,
		Pass:         config.AppConfig.BTCRPCPass,
		HTTPPostMode: true,
		DisableTLS:   !strings.HasPrefix(indexerURL, "https://"),
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		client.Shutdown()
		return nil, &types.InvalidIndexerError{Details: indexerURL}
	}
	log.Debugf("Connected to bitcoin node, host: %s", host)
	return &RpcIndexer{client: client}, nil
}

func (x *RpcIndexer) Close() {
	x.client.Shutdown()
}

func (x *RpcIndexer) ListUnspent(ctx context.Context) ([]Unspent, error) {
	results, err := x.client.ListUnspentMinMax(0, 9999999)
	if err != nil {
		return nil, err
	}
	unspents := make([]Unspent, 0, len(results))
	for _, r := range results {
		amount, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			return nil, err
		}
		unspents = append(unspents, Unspent{
			Outpoint:      types.Outpoint{Txid: r.TxID, Vout: r.Vout},
			AmountSat:     uint64(amount),
			Address:       r.Address,
			Confirmations: uint64(r.Confirmations),
		})
	}
	return unspents, nil
}

func (x *RpcIndexer) GetTxConfirmations(ctx context.Context, txid string) (*uint64, error) {
	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}
	txRaw, err := x.client.GetTransaction(txHash)
	if err != nil {
		if rpcErr, ok := err.(*btcjson.RPCError); ok &&
			rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey {
			return nil, nil
		}
		return nil, err
	}
	confirmations := uint64(txRaw.Confirmations)
	return &confirmations, nil
}

func (x *RpcIndexer) Broadcast(ctx context.Context, txHex string) (string, error) {
	txBytes, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return "", err
	}
	txHash, err := x.client.SendRawTransaction(&msgTx, false)
	if err != nil {
		return "", &types.FailedBroadcastError{Details: err.Error()}
	}
	return txHash.String(), nil
}

func (x *RpcIndexer) EstimateFee(ctx context.Context, blocks uint16) (float64, error) {
	estimate, err := x.client.EstimateSmartFee(int64(blocks), &btcjson.EstimateModeConservative)
	if err != nil {
		return 0, err
	}
	if estimate == nil || estimate.FeeRate == nil {
		// Nodes without enough history return no estimate, fall back to
		// the configured floor.
		return float64(config.AppConfig.MinFeeRate), nil
	}
	// btc/kvB to sat/vB
	return *estimate.FeeRate * 1e8 / 1000, nil
}
