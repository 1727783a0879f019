package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// GetBTCNetwork maps a network type string to btcd chain params.
func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch strings.ToLower(networkType) {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// Outpoint identifies a Bitcoin transaction output.
type Outpoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.Vout)
}

func ParseOutpoint(s string) (Outpoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q", s)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint vout %q: %w", parts[1], err)
	}
	return Outpoint{Txid: parts[0], Vout: uint32(vout)}, nil
}

// Balance is the three-number balance model for one asset.
type Balance struct {
	Settled   uint64 `json:"settled"`
	Future    uint64 `json:"future"`
	Spendable uint64 `json:"spendable"`
}

// BtcBalance holds the bitcoin-side balances for one keychain.
type BtcBalance struct {
	Settled uint64 `json:"settled"`
	Future  uint64 `json:"future"`
}

func Now() int64 {
	return time.Now().Unix()
}
