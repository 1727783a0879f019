package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/btc"
	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/stock"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

const (
	transfersDirName = "transfers"
	mediaDirName     = "media"
	// sat amount paid to a witness recipient when none is requested
	defaultWitnessAmountSat = 1000
	// proxy error code for a consignment already posted under the same
	// recipient ID
	proxyCodeRecipientIDAlreadyUsed = -101
)

// WitnessData carries the bitcoin side of a witness recipient.
type WitnessData struct {
	AmountSat uint64
}

// Recipient is one destination of a send operation.
type Recipient struct {
	RecipientID        string
	WitnessData        *WitnessData
	Amount             uint64
	TransportEndpoints []string
}

// SendResult identifies the batch transfer created by a send.
type SendResult struct {
	Txid             string
	BatchTransferIdx uint
}

// coloredInput is a spent txo together with the settled amount it holds
// for one asset.
type coloredInput struct {
	txo    db.Txo
	amount uint64
}

// pendingBatch carries a prepared send or utxo creation between its Begin
// and End halves.
type pendingBatch struct {
	txid             string
	unsignedHex      string
	donation         bool
	feeRate          uint64
	minConfirmations uint8
	recipientMap     map[string][]Recipient
	// inputs per sending asset
	assetInputs map[string][]coloredInput
	// rgb change amount per sending asset
	assetChange map[string]uint64
	// inputs per asset moved in full by a blank transfer
	blankInputs map[string][]coloredInput
	allInputs   []db.Txo
	// vout per witness recipient ID
	witnessVouts map[string]uint32
	changeVout   *uint32
	changeAmount uint64
	// existing utxo taking rgb change when the tx has no btc change
	changeUtxo *db.Txo
	// utxo creation bookkeeping, unused for sends
	utxoOutputs uint8
}

// Send moves assets to one or more recipients per asset. It prepares the
// transaction, signs it and exchanges consignments in a single call.
func (w *Wallet) Send(ctx context.Context, online Online, recipientMap map[string][]Recipient, donation bool, feeRate uint64, minConfirmations uint8, skipSync bool) (SendResult, error) {
	unsignedHex, err := w.SendBegin(ctx, online, recipientMap, donation, feeRate, minConfirmations, skipSync)
	if err != nil {
		return SendResult{}, err
	}
	w.mu.Lock()
	if err := w.checkXprv(); err != nil {
		w.mu.Unlock()
		return SendResult{}, err
	}
	signedHex, err := w.keyRing.SignTx(unsignedHex)
	w.mu.Unlock()
	if err != nil {
		return SendResult{}, err
	}
	return w.SendEnd(ctx, online, signedHex)
}

// SendBegin prepares the transaction for a send and returns it unsigned.
// Nothing is persisted yet, the prepared state is held in memory until
// SendEnd receives the signed transaction.
func (w *Wallet) SendBegin(ctx context.Context, online Online, recipientMap map[string][]Recipient, donation bool, feeRate uint64, minConfirmations uint8, skipSync bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Sending to: %v...", recipientMap)

	if err := w.checkOnline(online); err != nil {
		return "", err
	}
	if err := w.checkFeeRate(feeRate); err != nil {
		return "", err
	}
	if err := checkRecipientMap(recipientMap); err != nil {
		return "", err
	}
	if !skipSync {
		if err := w.syncDbTxos(ctx); err != nil {
			return "", err
		}
	}
	for assetID := range recipientMap {
		if _, err := w.dm.CheckAssetExists(assetID); err != nil {
			return "", err
		}
	}

	data, err := w.dm.GetDbData(false)
	if err != nil {
		return "", err
	}
	unspents, err := w.localUnspents()
	if err != nil {
		return "", err
	}
	inputUnspents := getInputUnspents(unspents)

	batch := &pendingBatch{
		donation:         donation,
		feeRate:          feeRate,
		minConfirmations: minConfirmations,
		recipientMap:     recipientMap,
		assetInputs:      make(map[string][]coloredInput),
		assetChange:      make(map[string]uint64),
		blankInputs:      make(map[string][]coloredInput),
		witnessVouts:     make(map[string]uint32),
	}

	inputTxoIdxs := make(map[uint]bool)
	for assetID, recipients := range recipientMap {
		var needed uint64
		for _, r := range recipients {
			needed += r.Amount
		}
		inputs, inputSum, err := w.selectRgbInputs(assetID, needed, inputUnspents, data)
		if err != nil {
			return "", err
		}
		batch.assetInputs[assetID] = inputs
		batch.assetChange[assetID] = inputSum - needed
		for _, input := range inputs {
			if !inputTxoIdxs[input.txo.Idx] {
				inputTxoIdxs[input.txo.Idx] = true
				batch.allInputs = append(batch.allInputs, input.txo)
			}
		}
	}

	// assets not being sent but allocated on the spent inputs move in full
	for _, u := range unspents {
		if !inputTxoIdxs[u.Utxo.Idx] {
			continue
		}
		perAsset := make(map[string]uint64)
		for _, a := range u.RgbAllocations {
			if a.AssetID == nil || !a.Settled() {
				continue
			}
			if _, sending := recipientMap[*a.AssetID]; sending {
				continue
			}
			perAsset[*a.AssetID] += a.Amount
		}
		for assetID, amount := range perAsset {
			batch.blankInputs[assetID] = append(batch.blankInputs[assetID],
				coloredInput{txo: u.Utxo, amount: amount})
		}
	}

	var outputs []btc.TxOutput
	for _, recipients := range recipientMap {
		for _, r := range recipients {
			if !strings.HasPrefix(r.RecipientID, recipientWitnessPfx) {
				continue
			}
			amountSat := uint64(defaultWitnessAmountSat)
			if r.WitnessData != nil {
				amountSat = r.WitnessData.AmountSat
			}
			batch.witnessVouts[r.RecipientID] = uint32(len(outputs))
			outputs = append(outputs, btc.TxOutput{
				Address:   strings.TrimPrefix(r.RecipientID, recipientWitnessPfx),
				AmountSat: amountSat,
			})
		}
	}

	changeAddress, err := w.keyRing.NewAddress(true)
	if err != nil {
		return "", err
	}
	mandatoryInputs := make([]types.Outpoint, 0, len(batch.allInputs))
	for _, txo := range batch.allInputs {
		mandatoryInputs = append(mandatoryInputs, txo.Outpoint())
	}
	optionalInputs := vanillaOutpoints(unspents)
	builtTx, err := w.txBuilder.BuildTx(btc.TxRequest{
		MandatoryInputs: mandatoryInputs,
		OptionalInputs:  optionalInputs,
		Outputs:         outputs,
		ChangeAddress:   changeAddress,
		FeeRate:         feeRate,
		Commitment:      opretCommitment(recipientMap),
	})
	if err != nil {
		return "", err
	}
	batch.txid = builtTx.Txid
	batch.unsignedHex = builtTx.TxHex
	batch.changeVout = builtTx.ChangeVout
	batch.changeAmount = builtTx.ChangeAmount

	if builtTx.ChangeVout == nil && needsRgbChange(batch) {
		exclude := make(map[string]bool, len(batch.allInputs))
		for _, txo := range batch.allInputs {
			exclude[txo.Outpoint().String()] = true
		}
		changeUtxo, err := w.getUtxo(exclude, unspents, true)
		if err != nil {
			return "", err
		}
		batch.changeUtxo = &changeUtxo
	}

	w.pendingBatches[builtTx.Txid] = batch
	log.Infof("Send prepared, txid: %s", builtTx.Txid)
	return builtTx.TxHex, nil
}

// SendEnd completes a prepared send. Consignments are posted to the
// recipients' transport endpoints, the transfer rows are persisted and, for
// donations, the transaction is broadcast right away.
func (w *Wallet) SendEnd(ctx context.Context, online Online, signedHex string) (SendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkOnline(online); err != nil {
		return SendResult{}, err
	}
	batch, err := w.takePendingBatch(signedHex)
	if err != nil {
		return SendResult{}, err
	}

	assets := make(map[string]db.Asset, len(batch.recipientMap))
	for assetID := range batch.recipientMap {
		asset, err := w.dm.CheckAssetExists(assetID)
		if err != nil {
			return SendResult{}, err
		}
		assets[assetID] = *asset
	}

	// exchange consignments before persisting anything
	endpointByRecipient := make(map[string]string)
	for assetID, recipients := range batch.recipientMap {
		asset := assets[assetID]
		for _, r := range recipients {
			var vout *uint32
			if v, ok := batch.witnessVouts[r.RecipientID]; ok {
				v := v
				vout = &v
			}
			consignment, err := w.stock.BuildConsignment(stock.ConsignmentInfo{
				Asset:       assetInfoFromDb(asset),
				Amount:      r.Amount,
				RecipientID: r.RecipientID,
				Txid:        batch.txid,
				Vout:        vout,
			})
			if err != nil {
				return SendResult{}, err
			}
			usedURL, err := w.postConsignment(ctx, r, batch.txid, vout, consignment)
			if err != nil {
				return SendResult{}, err
			}
			endpointByRecipient[r.RecipientID] = usedURL
		}
	}

	if err := w.saveTransferTx(batch.txid, signedHex); err != nil {
		return SendResult{}, err
	}

	status := db.TRANSFER_STATUS_WAITING_COUNTERPARTY
	if batch.donation {
		if _, err := w.indexer.Broadcast(ctx, signedHex); err != nil {
			return SendResult{}, err
		}
		status = db.TRANSFER_STATUS_WAITING_CONFIRMATIONS
	}

	batchTransferIdx, err := w.saveSendTransfers(batch, status, endpointByRecipient)
	if err != nil {
		return SendResult{}, err
	}

	w.bumpOperationTimestamp()
	log.Infof("Send completed, txid: %s", batch.txid)
	return SendResult{Txid: batch.txid, BatchTransferIdx: batchTransferIdx}, nil
}

// takePendingBatch matches a signed transaction to its prepared batch,
// either by the unsigned serialization or by the decoded txid, which stays
// stable under signing for segwit-only inputs.
func (w *Wallet) takePendingBatch(signedHex string) (*pendingBatch, error) {
	for txid, batch := range w.pendingBatches {
		if batch.unsignedHex == signedHex {
			delete(w.pendingBatches, txid)
			return batch, nil
		}
	}
	signedTxid := ""
	if rawTx, err := hex.DecodeString(signedHex); err == nil {
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(rawTx)); err == nil {
			signedTxid = tx.TxHash().String()
			if batch, ok := w.pendingBatches[signedTxid]; ok {
				delete(w.pendingBatches, signedTxid)
				return batch, nil
			}
		}
	}
	return nil, &types.BatchTransferNotFoundError{Txid: signedTxid}
}

func (w *Wallet) postConsignment(ctx context.Context, r Recipient, txid string, vout *uint32, consignment []byte) (string, error) {
	for _, endpoint := range r.TransportEndpoints {
		_, url, err := parseTransportEndpoint(endpoint)
		if err != nil {
			return "", err
		}
		if err := w.proxy.CheckEndpoint(ctx, url); err != nil {
			log.Warnf("Skipping endpoint %s: %v", url, err)
			continue
		}
		err = w.proxy.PostConsignment(ctx, url, r.RecipientID, txid, vout, consignment)
		if err != nil {
			var proxyErr *types.ProxyError
			if errors.As(err, &proxyErr) && proxyErr.Code == proxyCodeRecipientIDAlreadyUsed {
				return "", types.ErrRecipientIDAlreadyUsed
			}
			log.Warnf("Failed to post consignment to %s: %v", url, err)
			continue
		}
		return url, nil
	}
	return "", types.ErrNoValidTransportEndpoint
}

func (w *Wallet) saveSendTransfers(batch *pendingBatch, status string, endpointByRecipient map[string]string) (uint, error) {
	now := types.Now()
	var expiration *int64
	if status == db.TRANSFER_STATUS_WAITING_COUNTERPARTY {
		exp := now + config.AppConfig.DurationSendTransfer
		expiration = &exp
	}

	var batchTransferIdx uint
	err := w.dm.Transaction(func(tx *gorm.DB) error {
		batchTransfer := db.BatchTransfer{
			Txid:             &batch.txid,
			Status:           status,
			CreatedAt:        now,
			UpdatedAt:        now,
			Expiration:       expiration,
			MinConfirmations: batch.minConfirmations,
		}
		if err := tx.Create(&batchTransfer).Error; err != nil {
			return err
		}
		batchTransferIdx = batchTransfer.Idx

		changeTxoIdx, err := batch.changeTxoIdx(tx)
		if err != nil {
			return err
		}

		for assetID, recipients := range batch.recipientMap {
			assetID := assetID
			assetTransfer := db.AssetTransfer{
				BatchTransferIdx: batchTransfer.Idx,
				AssetID:          &assetID,
				UserDriven:       true,
			}
			if err := tx.Create(&assetTransfer).Error; err != nil {
				return err
			}
			for _, input := range batch.assetInputs[assetID] {
				coloring := db.Coloring{
					TxoIdx:           input.txo.Idx,
					AssetTransferIdx: assetTransfer.Idx,
					Type:             db.COLORING_TYPE_INPUT,
					Amount:           input.amount,
				}
				if err := tx.Create(&coloring).Error; err != nil {
					return err
				}
			}
			if change := batch.assetChange[assetID]; change > 0 {
				coloring := db.Coloring{
					TxoIdx:           changeTxoIdx,
					AssetTransferIdx: assetTransfer.Idx,
					Type:             db.COLORING_TYPE_CHANGE,
					Amount:           change,
				}
				if err := tx.Create(&coloring).Error; err != nil {
					return err
				}
			}
			for _, r := range recipients {
				recipientID := r.RecipientID
				recipientType := db.RECIPIENT_TYPE_BLIND
				var vout *uint32
				if v, ok := batch.witnessVouts[r.RecipientID]; ok {
					recipientType = db.RECIPIENT_TYPE_WITNESS
					v := v
					vout = &v
				}
				transfer := db.Transfer{
					AssetTransferIdx: assetTransfer.Idx,
					Amount:           r.Amount,
					Incoming:         false,
					RecipientID:      &recipientID,
					RecipientType:    &recipientType,
					Vout:             vout,
				}
				if err := tx.Create(&transfer).Error; err != nil {
					return err
				}
				if err := batch.saveTransferEndpoints(tx, transfer.Idx, r, endpointByRecipient[r.RecipientID]); err != nil {
					return err
				}
			}
		}

		for assetID, inputs := range batch.blankInputs {
			assetID := assetID
			assetTransfer := db.AssetTransfer{
				BatchTransferIdx: batchTransfer.Idx,
				AssetID:          &assetID,
				UserDriven:       false,
			}
			if err := tx.Create(&assetTransfer).Error; err != nil {
				return err
			}
			var moved uint64
			for _, input := range inputs {
				coloring := db.Coloring{
					TxoIdx:           input.txo.Idx,
					AssetTransferIdx: assetTransfer.Idx,
					Type:             db.COLORING_TYPE_INPUT,
					Amount:           input.amount,
				}
				if err := tx.Create(&coloring).Error; err != nil {
					return err
				}
				moved += input.amount
			}
			coloring := db.Coloring{
				TxoIdx:           changeTxoIdx,
				AssetTransferIdx: assetTransfer.Idx,
				Type:             db.COLORING_TYPE_CHANGE,
				Amount:           moved,
			}
			if err := tx.Create(&coloring).Error; err != nil {
				return err
			}
		}

		// inputs are not marked spent here: the transaction may never be
		// broadcast if the counterparty refuses it, sync flips them once
		// the chain stops listing them
		return nil
	})
	return batchTransferIdx, err
}

// changeTxoIdx resolves the txo taking rgb change allocations, inserting
// the to-be-created btc change output when the transaction has one. It only
// starts existing once confirmed on chain.
func (b *pendingBatch) changeTxoIdx(tx *gorm.DB) (uint, error) {
	if b.changeUtxo != nil {
		return b.changeUtxo.Idx, nil
	}
	if b.changeVout == nil {
		return 0, &types.InternalError{Details: "no change destination for rgb change"}
	}
	changeTxo := db.Txo{
		Txid:      b.txid,
		Vout:      *b.changeVout,
		BtcAmount: b.changeAmount,
		Colorable: true,
		Exists:    false,
	}
	if err := tx.Create(&changeTxo).Error; err != nil {
		return 0, err
	}
	return changeTxo.Idx, nil
}

func (b *pendingBatch) saveTransferEndpoints(tx *gorm.DB, transferIdx uint, r Recipient, usedURL string) error {
	for _, endpoint := range r.TransportEndpoints {
		transportType, url, err := parseTransportEndpoint(endpoint)
		if err != nil {
			return err
		}
		te, err := db.GetOrInsertTransportEndpoint(tx, transportType, url)
		if err != nil {
			return err
		}
		tte := db.TransferTransportEndpoint{
			TransferIdx:          transferIdx,
			TransportEndpointIdx: te.Idx,
			Used:                 url == usedURL,
		}
		if err := tx.Create(&tte).Error; err != nil {
			return err
		}
	}
	return nil
}

// selectRgbInputs picks the input utxos covering amount for one asset,
// spending the fewest utxos by taking the largest allocations first.
func (w *Wallet) selectRgbInputs(assetID string, amount uint64, inputUnspents []db.LocalUnspent, data *db.DbData) ([]coloredInput, uint64, error) {
	var candidates []coloredInput
	for _, u := range inputUnspents {
		var sum uint64
		for _, a := range u.RgbAllocations {
			if a.AssetID != nil && *a.AssetID == assetID && a.Settled() {
				sum += a.Amount
			}
		}
		if sum > 0 {
			candidates = append(candidates, coloredInput{txo: u.Utxo, amount: sum})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].amount > candidates[j].amount
	})

	var inputs []coloredInput
	var inputSum uint64
	for _, c := range candidates {
		if inputSum >= amount {
			break
		}
		inputs = append(inputs, c)
		inputSum += c.amount
	}
	if inputSum < amount {
		balance, err := w.dm.GetAssetBalance(assetID, data)
		if err != nil {
			return nil, 0, err
		}
		if balance.Future < amount {
			return nil, 0, &types.InsufficientTotalAssetsError{AssetID: assetID}
		}
		return nil, 0, &types.InsufficientSpendableAssetsError{AssetID: assetID}
	}
	return inputs, inputSum, nil
}

// getInputUnspents keeps the unspents usable as rgb inputs. Utxos with
// pending allocations in either direction or awaiting a witness
// transaction are off limits, an outgoing pending allocation means the
// utxo is already committed to an in-flight transaction.
func getInputUnspents(unspents []db.LocalUnspent) []db.LocalUnspent {
	var usable []db.LocalUnspent
	for _, u := range unspents {
		if !u.Utxo.Exists || u.Utxo.PendingWitness {
			continue
		}
		skip := false
		for _, a := range u.RgbAllocations {
			if db.StatusPending(a.Status) {
				skip = true
				break
			}
		}
		if !skip {
			usable = append(usable, u)
		}
	}
	return usable
}

func checkRecipientMap(recipientMap map[string][]Recipient) error {
	seen := make(map[string]bool)
	for _, recipients := range recipientMap {
		for _, r := range recipients {
			if r.Amount == 0 {
				return types.ErrInvalidAmountZero
			}
			if !strings.HasPrefix(r.RecipientID, recipientBlindPfx) &&
				!strings.HasPrefix(r.RecipientID, recipientWitnessPfx) {
				return &types.InvalidRecipientIDError{RecipientID: r.RecipientID}
			}
			if seen[r.RecipientID] {
				return types.ErrRecipientIDAlreadyUsed
			}
			seen[r.RecipientID] = true
			if err := checkTransportEndpoints(r.TransportEndpoints); err != nil {
				return err
			}
		}
	}
	return nil
}

func needsRgbChange(batch *pendingBatch) bool {
	for _, change := range batch.assetChange {
		if change > 0 {
			return true
		}
	}
	return len(batch.blankInputs) > 0
}

func vanillaOutpoints(unspents []db.LocalUnspent) []types.Outpoint {
	var outpoints []types.Outpoint
	for _, u := range unspents {
		if !u.Utxo.Colorable && u.Utxo.Exists && len(u.RgbAllocations) == 0 {
			outpoints = append(outpoints, u.Outpoint())
		}
	}
	return outpoints
}

// opretCommitment derives the opret payload committing to the transfer set.
func opretCommitment(recipientMap map[string][]Recipient) string {
	ids := make([]string, 0)
	for _, recipients := range recipientMap {
		for _, r := range recipients {
			ids = append(ids, r.RecipientID)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// saveTransferTx stores the signed transaction so a later refresh can
// broadcast it once all recipients have acked.
func (w *Wallet) saveTransferTx(txid, signedHex string) error {
	path := filepath.Join(w.dataDir, transfersDirName, txid+".hex")
	return os.WriteFile(path, []byte(signedHex), 0600)
}

func (w *Wallet) loadTransferTx(txid string) (string, error) {
	path := filepath.Join(w.dataDir, transfersDirName, txid+".hex")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func assetInfoFromDb(asset db.Asset) stock.AssetInfo {
	return stock.AssetInfo{
		AssetID:      asset.ID,
		Schema:       asset.Schema,
		Name:         asset.Name,
		Precision:    asset.Precision,
		Ticker:       asset.Ticker,
		Details:      asset.Details,
		IssuedSupply: asset.IssuedSupply,
		Timestamp:    asset.Timestamp,
	}
}
