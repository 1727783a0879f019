package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// ReceiveData is the outcome of a blind or witness receive operation.
type ReceiveData struct {
	Invoice             string
	RecipientID         string
	ExpirationTimestamp *int64
	BatchTransferIdx    uint
}

// parseTransportEndpoint maps an endpoint string to its transport type and
// proxy URL. Only JSON-RPC endpoints are supported, written as rpc:// for
// http and rpcs:// for https.
func parseTransportEndpoint(endpoint string) (transportType, url string, err error) {
	switch {
	case strings.HasPrefix(endpoint, "rpc://"):
		return db.TRANSPORT_TYPE_JSON_RPC, "http://" + strings.TrimPrefix(endpoint, "rpc://"), nil
	case strings.HasPrefix(endpoint, "rpcs://"):
		return db.TRANSPORT_TYPE_JSON_RPC, "https://" + strings.TrimPrefix(endpoint, "rpcs://"), nil
	default:
		return "", "", types.ErrUnsupportedTransportType
	}
}

// BlindReceive prepares to receive assets over a blinded utxo. The returned
// recipient ID does not reveal the outpoint, so the sender never learns
// which utxo receives the assets.
func (w *Wallet) BlindReceive(assetID string, amount uint64, durationSeconds *uint32, transportEndpoints []string, minConfirmations uint8) (ReceiveData, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Blinding, asset: '%s', amount: %d", assetID, amount)

	if assetID != "" {
		if _, err := w.dm.CheckAssetExists(assetID); err != nil {
			return ReceiveData{}, err
		}
	}
	unspents, err := w.localUnspents()
	if err != nil {
		return ReceiveData{}, err
	}
	utxo, err := w.getUtxo(nil, unspents, true)
	if err != nil {
		return ReceiveData{}, err
	}

	blinding := make([]byte, 8)
	if _, err := rand.Read(blinding); err != nil {
		return ReceiveData{}, err
	}
	blindingFactor := binary.BigEndian.Uint64(blinding)
	recipientID := blindRecipientID(utxo.Outpoint(), blindingFactor)

	receiveData, err := w.receive(assetID, amount, durationSeconds, transportEndpoints,
		minConfirmations, recipientID, db.RECIPIENT_TYPE_BLIND, &utxo)
	if err != nil {
		return ReceiveData{}, err
	}
	w.bumpOperationTimestamp()
	return receiveData, nil
}

// WitnessReceive prepares to receive assets over a transaction created by
// the sender. The recipient ID carries a wallet address so the sender can
// pay it, spending colorable utxos on the receiver side is not required.
func (w *Wallet) WitnessReceive(assetID string, amount uint64, durationSeconds *uint32, transportEndpoints []string, minConfirmations uint8) (ReceiveData, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	log.Infof("Witness receive, asset: '%s', amount: %d", assetID, amount)

	if assetID != "" {
		if _, err := w.dm.CheckAssetExists(assetID); err != nil {
			return ReceiveData{}, err
		}
	}
	address, err := w.keyRing.NewAddress(true)
	if err != nil {
		return ReceiveData{}, err
	}
	recipientID := recipientWitnessPfx + address

	receiveData, err := w.receive(assetID, amount, durationSeconds, transportEndpoints,
		minConfirmations, recipientID, db.RECIPIENT_TYPE_WITNESS, nil)
	if err != nil {
		return ReceiveData{}, err
	}
	w.bumpOperationTimestamp()
	return receiveData, nil
}

func blindRecipientID(outpoint types.Outpoint, blindingFactor uint64) string {
	payload := fmt.Sprintf("%s|%d", outpoint.String(), blindingFactor)
	digest := sha256.Sum256([]byte(payload))
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:])
	return recipientBlindPfx + strings.ToLower(encoded)
}

// receive records the pending incoming transfer shared by the blind and
// witness variants. utxo is nil for witness receives, where the receiving
// txo only becomes known once the sender's consignment arrives.
func (w *Wallet) receive(assetID string, amount uint64, durationSeconds *uint32, transportEndpoints []string, minConfirmations uint8, recipientID, recipientType string, utxo *db.Txo) (ReceiveData, error) {
	if err := checkTransportEndpoints(transportEndpoints); err != nil {
		return ReceiveData{}, err
	}
	for _, endpoint := range transportEndpoints {
		if _, _, err := parseTransportEndpoint(endpoint); err != nil {
			return ReceiveData{}, err
		}
	}

	duration := config.AppConfig.DurationRcvTransfer
	if durationSeconds != nil {
		duration = *durationSeconds
	}
	now := types.Now()
	var expiration *int64
	if duration > 0 {
		exp := now + int64(duration)
		expiration = &exp
	}

	var assetIDPtr *string
	if assetID != "" {
		assetIDPtr = &assetID
	}

	var batchTransferIdx uint
	err := w.dm.Transaction(func(tx *gorm.DB) error {
		batchTransfer := db.BatchTransfer{
			Status:           db.TRANSFER_STATUS_WAITING_COUNTERPARTY,
			CreatedAt:        now,
			UpdatedAt:        now,
			Expiration:       expiration,
			MinConfirmations: minConfirmations,
		}
		if err := tx.Create(&batchTransfer).Error; err != nil {
			return err
		}
		assetTransfer := db.AssetTransfer{
			BatchTransferIdx: batchTransfer.Idx,
			AssetID:          assetIDPtr,
			UserDriven:       true,
		}
		if err := tx.Create(&assetTransfer).Error; err != nil {
			return err
		}
		transfer := db.Transfer{
			AssetTransferIdx: assetTransfer.Idx,
			Amount:           amount,
			Incoming:         true,
			RecipientID:      &recipientID,
			RecipientType:    &recipientType,
		}
		if err := tx.Create(&transfer).Error; err != nil {
			return err
		}
		for _, endpoint := range transportEndpoints {
			transportType, url, err := parseTransportEndpoint(endpoint)
			if err != nil {
				return err
			}
			te, err := db.GetOrInsertTransportEndpoint(tx, transportType, url)
			if err != nil {
				return err
			}
			tte := db.TransferTransportEndpoint{
				TransferIdx:          transfer.Idx,
				TransportEndpointIdx: te.Idx,
			}
			if err := tx.Create(&tte).Error; err != nil {
				return err
			}
		}
		if utxo != nil {
			coloring := db.Coloring{
				TxoIdx:           utxo.Idx,
				AssetTransferIdx: assetTransfer.Idx,
				Type:             db.COLORING_TYPE_RECEIVE,
				Amount:           amount,
			}
			if err := tx.Create(&coloring).Error; err != nil {
				return err
			}
		}
		batchTransferIdx = batchTransfer.Idx
		return nil
	})
	if err != nil {
		return ReceiveData{}, err
	}

	invoice := buildInvoice(recipientID, assetID, amount, expiration, transportEndpoints)
	log.Infof("Receive completed, recipient ID: %s", recipientID)
	return ReceiveData{
		Invoice:             invoice,
		RecipientID:         recipientID,
		ExpirationTimestamp: expiration,
		BatchTransferIdx:    batchTransferIdx,
	}, nil
}

// buildInvoice serializes the receive request in a shareable string form.
func buildInvoice(recipientID, assetID string, amount uint64, expiration *int64, transportEndpoints []string) string {
	var sb strings.Builder
	sb.WriteString("rgb:")
	if assetID != "" {
		sb.WriteString(strings.TrimPrefix(assetID, "rgb:"))
	} else {
		sb.WriteString("~")
	}
	sb.WriteString("/")
	if amount > 0 {
		fmt.Fprintf(&sb, "%d", amount)
	} else {
		sb.WriteString("~")
	}
	sb.WriteString("/")
	sb.WriteString(recipientID)
	if expiration != nil {
		fmt.Fprintf(&sb, "?expiry=%d", *expiration)
	}
	for i, endpoint := range transportEndpoints {
		sep := "&"
		if expiration == nil && i == 0 {
			sep = "?"
		}
		fmt.Fprintf(&sb, "%sendpoints=%s", sep, endpoint)
	}
	return sb.String()
}
