package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/btc"
	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// CreateUtxos creates colorable utxos ready to take asset allocations. With
// upTo, only the missing count up to num is created. It signs and
// broadcasts in a single call.
func (w *Wallet) CreateUtxos(ctx context.Context, online Online, upTo bool, num *uint8, size *uint32, feeRate uint64, skipSync bool) (uint8, error) {
	unsignedHex, err := w.CreateUtxosBegin(ctx, online, upTo, num, size, feeRate, skipSync)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	if err := w.checkXprv(); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	signedHex, err := w.keyRing.SignTx(unsignedHex)
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return w.CreateUtxosEnd(ctx, online, signedHex)
}

// CreateUtxosBegin prepares the transaction creating colorable utxos and
// returns it unsigned.
func (w *Wallet) CreateUtxosBegin(ctx context.Context, online Online, upTo bool, num *uint8, size *uint32, feeRate uint64, skipSync bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Info("Creating UTXOs...")

	if err := w.checkOnline(online); err != nil {
		return "", err
	}
	if err := w.checkFeeRate(feeRate); err != nil {
		return "", err
	}
	if !skipSync {
		if err := w.syncDbTxos(ctx); err != nil {
			return "", err
		}
	}

	utxosToCreate := config.AppConfig.UtxoNum
	if num != nil {
		utxosToCreate = *num
	}
	if upTo {
		allocatable, err := w.allocatableUtxoCount()
		if err != nil {
			return "", err
		}
		if allocatable >= uint(utxosToCreate) {
			return "", types.ErrAllocationsAlreadyAvailable
		}
		utxosToCreate -= uint8(allocatable)
	}
	log.Debugf("Will try to create %d UTXOs", utxosToCreate)

	utxoSize := config.AppConfig.UtxoSize
	if size != nil {
		utxoSize = *size
	}
	if utxoSize == 0 {
		return "", types.ErrInvalidAmountZero
	}

	unspents, err := w.localUnspents()
	if err != nil {
		return "", err
	}
	inputs := make([]types.Outpoint, 0)
	for _, u := range unspents {
		if u.Utxo.Exists && len(u.RgbAllocations) == 0 && !u.Utxo.PendingWitness {
			inputs = append(inputs, u.Outpoint())
		}
	}
	changeAddress, err := w.keyRing.NewAddress(false)
	if err != nil {
		return "", err
	}

	// retry with fewer outputs when bitcoins are short, erroring out only
	// when not even one output fits
	var builtTx *btc.BuiltTx
	created := utxosToCreate
	for created > 0 {
		outputs := make([]btc.TxOutput, 0, created)
		for i := uint8(0); i < created; i++ {
			address, err := w.keyRing.NewAddress(true)
			if err != nil {
				return "", err
			}
			outputs = append(outputs, btc.TxOutput{Address: address, AmountSat: uint64(utxoSize)})
		}
		builtTx, err = w.txBuilder.BuildTx(btc.TxRequest{
			OptionalInputs: inputs,
			Outputs:        outputs,
			ChangeAddress:  changeAddress,
			FeeRate:        feeRate,
		})
		if err != nil {
			var insufficientErr *types.InsufficientBitcoinsError
			if errors.As(err, &insufficientErr) && created > 1 {
				created--
				continue
			}
			return "", err
		}
		break
	}
	if builtTx == nil {
		return "", &types.InsufficientBitcoinsError{Needed: uint64(utxoSize)}
	}

	w.pendingBatches[builtTx.Txid] = &pendingBatch{
		txid:        builtTx.Txid,
		unsignedHex: builtTx.TxHex,
		utxoOutputs: created,
	}
	return builtTx.TxHex, nil
}

// CreateUtxosEnd broadcasts the signed utxo creation transaction and
// returns the number of colorable utxos created.
func (w *Wallet) CreateUtxosEnd(ctx context.Context, online Online, signedHex string) (uint8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkOnline(online); err != nil {
		return 0, err
	}
	batch, err := w.takePendingBatch(signedHex)
	if err != nil {
		return 0, err
	}

	txid, err := w.indexer.Broadcast(ctx, signedHex)
	if err != nil {
		return 0, err
	}
	walletTx := db.WalletTransaction{
		Txid: txid,
		Type: db.WALLET_TX_TYPE_CREATE_UTXOS,
	}
	if err := w.dm.GetWalletDB().Create(&walletTx).Error; err != nil {
		return 0, err
	}
	if err := w.syncDbTxos(ctx); err != nil {
		return 0, err
	}

	// count what actually landed in the wallet
	var createdTxos []db.Txo
	if err := w.dm.GetWalletDB().
		Where("txid = ? AND colorable = ?", txid, true).
		Find(&createdTxos).Error; err != nil {
		return 0, err
	}
	created := uint8(len(createdTxos))
	if created == 0 {
		created = batch.utxoOutputs
	}

	w.bumpOperationTimestamp()
	log.Infof("Create UTXOs completed, created %d", created)
	return created, nil
}

func (w *Wallet) allocatableUtxoCount() (uint, error) {
	unspents, err := w.localUnspents()
	if err != nil {
		return 0, err
	}
	var colorable []db.LocalUnspent
	for _, u := range unspents {
		if u.Utxo.Colorable {
			colorable = append(colorable, u)
		}
	}
	return uint(len(getAvailableAllocations(colorable, nil, nil))), nil
}

// SendBtc sends plain bitcoins, spending only vanilla and unallocated
// utxos.
func (w *Wallet) SendBtc(ctx context.Context, online Online, address string, amountSat uint64, feeRate uint64, skipSync bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Sending %d sats to address '%s'", amountSat, address)

	if err := w.checkOnline(online); err != nil {
		return "", err
	}
	if err := w.checkXprv(); err != nil {
		return "", err
	}
	if err := w.checkFeeRate(feeRate); err != nil {
		return "", err
	}
	if amountSat == 0 {
		return "", types.ErrInvalidAmountZero
	}
	if err := w.checkAddress(address); err != nil {
		return "", err
	}
	if !skipSync {
		if err := w.syncDbTxos(ctx); err != nil {
			return "", err
		}
	}

	unspents, err := w.localUnspents()
	if err != nil {
		return "", err
	}
	inputs := make([]types.Outpoint, 0)
	for _, u := range unspents {
		if u.Utxo.Exists && len(u.RgbAllocations) == 0 && !u.Utxo.PendingWitness {
			inputs = append(inputs, u.Outpoint())
		}
	}
	changeAddress, err := w.keyRing.NewAddress(false)
	if err != nil {
		return "", err
	}
	builtTx, err := w.txBuilder.BuildTx(btc.TxRequest{
		OptionalInputs: inputs,
		Outputs:        []btc.TxOutput{{Address: address, AmountSat: amountSat}},
		ChangeAddress:  changeAddress,
		FeeRate:        feeRate,
	})
	if err != nil {
		return "", err
	}
	signedHex, err := w.keyRing.SignTx(builtTx.TxHex)
	if err != nil {
		return "", err
	}
	txid, err := w.indexer.Broadcast(ctx, signedHex)
	if err != nil {
		return "", err
	}
	if err := w.syncDbTxos(ctx); err != nil {
		return "", err
	}
	log.Infof("Send BTC completed, txid: %s", txid)
	return txid, nil
}

// DrainTo sends all spendable bitcoins to an address. With destroyAssets
// even colored utxos are drained, destroying the assets they hold.
func (w *Wallet) DrainTo(ctx context.Context, online Online, address string, destroyAssets bool, feeRate uint64, skipSync bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Draining to address '%s', destroy assets: %v", address, destroyAssets)

	if err := w.checkOnline(online); err != nil {
		return "", err
	}
	if err := w.checkXprv(); err != nil {
		return "", err
	}
	if err := w.checkFeeRate(feeRate); err != nil {
		return "", err
	}
	if err := w.checkAddress(address); err != nil {
		return "", err
	}
	if !skipSync {
		if err := w.syncDbTxos(ctx); err != nil {
			return "", err
		}
	}

	unspents, err := w.localUnspents()
	if err != nil {
		return "", err
	}
	inputs := make([]types.Outpoint, 0)
	for _, u := range unspents {
		if !u.Utxo.Exists || u.Utxo.PendingWitness {
			continue
		}
		if !destroyAssets && (u.Utxo.Colorable || len(u.RgbAllocations) > 0) {
			continue
		}
		inputs = append(inputs, u.Outpoint())
	}
	if len(inputs) == 0 {
		return "", &types.InsufficientBitcoinsError{}
	}

	builtTx, err := w.txBuilder.DrainTx(inputs, address, feeRate)
	if err != nil {
		return "", err
	}
	signedHex, err := w.keyRing.SignTx(builtTx.TxHex)
	if err != nil {
		return "", err
	}
	txid, err := w.indexer.Broadcast(ctx, signedHex)
	if err != nil {
		return "", err
	}
	walletTx := db.WalletTransaction{
		Txid: txid,
		Type: db.WALLET_TX_TYPE_DRAIN,
	}
	if err := w.dm.GetWalletDB().Create(&walletTx).Error; err != nil {
		return "", err
	}
	if err := w.syncDbTxos(ctx); err != nil {
		return "", err
	}

	w.bumpOperationTimestamp()
	log.Infof("Drain completed, txid: %s", txid)
	return txid, nil
}

func (w *Wallet) checkAddress(address string) error {
	network := types.GetBTCNetwork(config.AppConfig.BTCNetworkType)
	addr, err := btcutil.DecodeAddress(address, network)
	if err != nil {
		return &types.InvalidAddressError{Details: err.Error()}
	}
	if !addr.IsForNet(network) {
		return &types.InvalidAddressError{Details: "address for wrong network"}
	}
	return nil
}
