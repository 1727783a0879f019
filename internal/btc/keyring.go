package btc

import (
	"bytes"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const colorableAddressLabel = "rgb"

// DialRpc connects to the bitcoind node at the given URL with the
// credentials from the app config.
func DialRpc(nodeURL string) (*rpcclient.Client, error) {
	host := nodeURL
	if parsed, err := url.Parse(nodeURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         config.AppConfig.BTCRPCUser,
		Pass:         config.AppConfig.BTCRPCPass,
		HTTPPostMode: true,
		DisableTLS:   !strings.HasPrefix(nodeURL, "https://"),
	}, nil)
}

// RpcKeyRing derives addresses and signs through the node wallet.
// Colorable addresses are labelled on the node side and cached locally so
// IsColorable stays a cheap lookup. Colorability of addresses handed out
// before a restart can be restored with ImportColorable.
type RpcKeyRing struct {
	mu        sync.Mutex
	client    *rpcclient.Client
	watchOnly bool
	colorable map[string]bool
}

func NewRpcKeyRing(client *rpcclient.Client, watchOnly bool) *RpcKeyRing {
	return &RpcKeyRing{
		client:    client,
		watchOnly: watchOnly,
		colorable: make(map[string]bool),
	}
}

// ImportColorable marks addresses restored from persistent storage as
// colorable.
func (r *RpcKeyRing) ImportColorable(addresses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, address := range addresses {
		r.colorable[address] = true
	}
}

func (r *RpcKeyRing) NewAddress(colorable bool) (string, error) {
	label := ""
	if colorable {
		label = colorableAddressLabel
	}
	addr, err := r.client.GetNewAddress(label)
	if err != nil {
		return "", err
	}
	address := addr.EncodeAddress()
	if colorable {
		r.mu.Lock()
		r.colorable[address] = true
		r.mu.Unlock()
	}
	return address, nil
}

func (r *RpcKeyRing) IsColorable(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.colorable[address]
}

func (r *RpcKeyRing) SignTx(txHex string) (string, error) {
	if r.watchOnly {
		return "", types.ErrWatchOnly
	}
	txBytes, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return "", err
	}
	signed, complete, err := r.client.SignRawTransactionWithWallet(&msgTx)
	if err != nil {
		return "", err
	}
	if !complete {
		return "", &types.InternalError{Details: "node wallet could not fully sign transaction"}
	}
	var buf bytes.Buffer
	if err := signed.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (r *RpcKeyRing) WatchOnly() bool {
	return r.watchOnly
}
