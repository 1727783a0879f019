package btc

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const (
	dustLimitSat = 546
	// rough p2wpkh weight figures for fee estimation
	inputVbytes  = 68
	outputVbytes = 31
	txOverhead   = 11
)

// TxOutput is one fixed output of a transaction build request.
type TxOutput struct {
	Address   string
	AmountSat uint64
}

// TxRequest describes a transaction to assemble. The wallet decides what
// must be spent and what outputs to create, the builder adds fee handling
// and change.
type TxRequest struct {
	// MandatoryInputs must all be spent.
	MandatoryInputs []types.Outpoint
	// OptionalInputs may be drawn from to cover outputs plus fee.
	OptionalInputs []types.Outpoint
	Outputs        []TxOutput
	ChangeAddress  string
	// FeeRate in sat/vB.
	FeeRate uint64
	// Commitment is opret data committed into the transaction, empty for
	// plain bitcoin transactions.
	Commitment string
}

// BuiltTx is an unsigned transaction assembled by a builder. The txid is
// final for segwit-only inputs since signing only fills witnesses.
type BuiltTx struct {
	Txid         string
	TxHex        string
	ChangeVout   *uint32
	ChangeAmount uint64
}

// RpcTxBuilder assembles transactions locally with wire and txscript,
// resolving input amounts through the node. Requested outputs keep their
// order at vouts 0..n-1, change is appended after them, the opret
// commitment last.
type RpcTxBuilder struct {
	client *rpcclient.Client
	net    *chaincfg.Params
}

func NewRpcTxBuilder(client *rpcclient.Client, net *chaincfg.Params) *RpcTxBuilder {
	return &RpcTxBuilder{client: client, net: net}
}

func (b *RpcTxBuilder) BuildTx(req TxRequest) (*BuiltTx, error) {
	var outValue uint64
	outputs := make([]*wire.TxOut, 0, len(req.Outputs)+2)
	for _, out := range req.Outputs {
		script, err := b.payToAddressScript(out.Address)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, wire.NewTxOut(int64(out.AmountSat), script))
		outValue += out.AmountSat
	}

	// one extra output slot each for change and the commitment
	estimate := func(numInputs int) uint64 {
		vbytes := txOverhead + numInputs*inputVbytes + (len(outputs)+2)*outputVbytes
		return uint64(vbytes) * req.FeeRate
	}

	inputs := append([]types.Outpoint{}, req.MandatoryInputs...)
	inValue, err := b.inputValue(inputs)
	if err != nil {
		return nil, err
	}
	for _, candidate := range req.OptionalInputs {
		if inValue >= outValue+estimate(len(inputs)) {
			break
		}
		value, err := b.inputValue([]types.Outpoint{candidate})
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, candidate)
		inValue += value
	}
	fee := estimate(len(inputs))
	if inValue < outValue+fee {
		return nil, &types.InsufficientBitcoinsError{
			Needed:    outValue + fee,
			Available: inValue,
		}
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, input := range inputs {
		txHash, err := chainhash.NewHashFromStr(input.Txid)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(txHash, input.Vout), nil, nil))
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	var changeVout *uint32
	var changeAmount uint64
	if change := inValue - outValue - fee; change >= dustLimitSat {
		script, err := b.payToAddressScript(req.ChangeAddress)
		if err != nil {
			return nil, err
		}
		vout := uint32(len(tx.TxOut))
		tx.AddTxOut(wire.NewTxOut(int64(change), script))
		changeVout = &vout
		changeAmount = change
	}
	if req.Commitment != "" {
		script, err := txscript.NullDataScript([]byte(req.Commitment))
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(0, script))
	}

	return serializeBuiltTx(tx, changeVout, changeAmount)
}

func (b *RpcTxBuilder) DrainTx(inputs []types.Outpoint, address string, feeRate uint64) (*BuiltTx, error) {
	inValue, err := b.inputValue(inputs)
	if err != nil {
		return nil, err
	}
	vbytes := txOverhead + len(inputs)*inputVbytes + outputVbytes
	fee := uint64(vbytes) * feeRate
	if inValue <= fee+dustLimitSat {
		return nil, &types.InsufficientBitcoinsError{
			Needed:    fee + dustLimitSat,
			Available: inValue,
		}
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, input := range inputs {
		txHash, err := chainhash.NewHashFromStr(input.Txid)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(txHash, input.Vout), nil, nil))
	}
	script, err := b.payToAddressScript(address)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(inValue-fee), script))

	return serializeBuiltTx(tx, nil, 0)
}

func (b *RpcTxBuilder) payToAddressScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.net)
	if err != nil {
		return nil, &types.InvalidAddressError{Details: err.Error()}
	}
	if !addr.IsForNet(b.net) {
		return nil, &types.InvalidAddressError{Details: "address for wrong network"}
	}
	return txscript.PayToAddrScript(addr)
}

func (b *RpcTxBuilder) inputValue(inputs []types.Outpoint) (uint64, error) {
	var total uint64
	for _, input := range inputs {
		txHash, err := chainhash.NewHashFromStr(input.Txid)
		if err != nil {
			return 0, err
		}
		out, err := b.client.GetTxOut(txHash, input.Vout, true)
		if err != nil {
			return 0, err
		}
		if out == nil {
			return 0, &types.InternalError{Details: "input " + input.String() + " not found or spent"}
		}
		amount, err := btcutil.NewAmount(out.Value)
		if err != nil {
			return 0, err
		}
		total += uint64(amount)
	}
	return total, nil
}

func serializeBuiltTx(tx *wire.MsgTx, changeVout *uint32, changeAmount uint64) (*BuiltTx, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return &BuiltTx{
		Txid:         tx.TxHash().String(),
		TxHex:        hex.EncodeToString(buf.Bytes()),
		ChangeVout:   changeVout,
		ChangeAmount: changeAmount,
	}, nil
}
