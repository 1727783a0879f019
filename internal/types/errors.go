package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine packages. Errors carrying data are
// dedicated types so callers can branch with errors.As.
var (
	ErrAllocationsAlreadyAvailable = errors.New("allocations already available")
	ErrInsufficientAllocationSlots = errors.New("insufficient allocation slots")
	ErrCannotChangeOnline          = errors.New("cannot change online object")
	ErrInvalidOnline               = errors.New("invalid online object")
	ErrWatchOnly                   = errors.New("operation not allowed on watch only wallet")
	ErrCannotDeleteTransfer        = errors.New("transfer cannot be deleted")
	ErrCannotFailTransfer          = errors.New("transfer cannot be set to failed status")
	ErrInvalidAmountZero           = errors.New("amount cannot be zero")
	ErrInvalidEstimationBlocks     = errors.New("estimation blocks must be between 1 and 1008")
	ErrNoConsignment               = errors.New("no consignment found")
	ErrNoValidTransportEndpoint    = errors.New("no valid transport endpoint found")
	ErrRecipientIDAlreadyUsed      = errors.New("recipient ID already used")
	ErrUnsupportedTransportType    = errors.New("unsupported transport type")
	ErrNoIssuanceAmounts           = errors.New("issuance request with no provided amounts")
	ErrSyncNeeded                  = errors.New("cannot proceed without a sync")
	ErrBackupNotNeeded             = errors.New("no changes since the last backup")
	ErrWrongBackupPassword         = errors.New("wrong backup password")
)

type AssetNotFoundError struct {
	AssetID string
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset with id %s not found", e.AssetID)
}

type TransferNotFoundError struct {
	RecipientID string
}

func (e *TransferNotFoundError) Error() string {
	return fmt.Sprintf("transfer with recipient ID %s not found", e.RecipientID)
}

type BatchTransferNotFoundError struct {
	Txid string
}

func (e *BatchTransferNotFoundError) Error() string {
	return fmt.Sprintf("batch transfer with TXID %s not found", e.Txid)
}

type InsufficientBitcoinsError struct {
	Needed    uint64
	Available uint64
}

func (e *InsufficientBitcoinsError) Error() string {
	return fmt.Sprintf("insufficient bitcoin funds: needed %d, available %d", e.Needed, e.Available)
}

type InsufficientTotalAssetsError struct {
	AssetID string
}

func (e *InsufficientTotalAssetsError) Error() string {
	return fmt.Sprintf("insufficient total amount for asset %s", e.AssetID)
}

type InsufficientSpendableAssetsError struct {
	AssetID string
}

func (e *InsufficientSpendableAssetsError) Error() string {
	return fmt.Sprintf("insufficient spendable amount for asset %s", e.AssetID)
}

type InconsistencyError struct {
	Details string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("data is inconsistent (%s), check its integrity", e.Details)
}

type InvalidFeeRateError struct {
	Details string
}

func (e *InvalidFeeRateError) Error() string {
	return fmt.Sprintf("invalid fee rate: %s", e.Details)
}

type InvalidAddressError struct {
	Details string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address: %s", e.Details)
}

type InvalidIndexerError struct {
	Details string
}

func (e *InvalidIndexerError) Error() string {
	return fmt.Sprintf("invalid indexer: %s", e.Details)
}

type InvalidTransportEndpointsError struct {
	Details string
}

func (e *InvalidTransportEndpointsError) Error() string {
	return fmt.Sprintf("invalid transport endpoints: %s", e.Details)
}

type InvalidRecipientIDError struct {
	RecipientID string
}

func (e *InvalidRecipientIDError) Error() string {
	return fmt.Sprintf("invalid recipient ID: %s", e.RecipientID)
}

type InvalidNameError struct {
	Details string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name: %s", e.Details)
}

type InvalidTickerError struct {
	Details string
}

func (e *InvalidTickerError) Error() string {
	return fmt.Sprintf("invalid ticker: %s", e.Details)
}

type InvalidPrecisionError struct {
	Details string
}

func (e *InvalidPrecisionError) Error() string {
	return fmt.Sprintf("invalid precision: %s", e.Details)
}

type FailedBroadcastError struct {
	Details string
}

func (e *FailedBroadcastError) Error() string {
	return fmt.Sprintf("failed broadcast: %s", e.Details)
}

type ProxyError struct {
	Code    int64
	Message string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy error %d: %s", e.Code, e.Message)
}

type InternalError struct {
	Details string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Details)
}
