package db

const (
	TRANSFER_STATUS_WAITING_COUNTERPARTY  = "waiting_counterparty"
	TRANSFER_STATUS_WAITING_CONFIRMATIONS = "waiting_confirmations"
	TRANSFER_STATUS_SETTLED               = "settled"
	TRANSFER_STATUS_FAILED                = "failed"

	COLORING_TYPE_ISSUE   = "issue"
	COLORING_TYPE_RECEIVE = "receive"
	COLORING_TYPE_INPUT   = "input"
	COLORING_TYPE_CHANGE  = "change"

	RECIPIENT_TYPE_BLIND   = "blind"
	RECIPIENT_TYPE_WITNESS = "witness"

	ASSET_SCHEMA_NIA = "nia"
	ASSET_SCHEMA_UDA = "uda"
	ASSET_SCHEMA_CFA = "cfa"

	TRANSPORT_TYPE_JSON_RPC = "json_rpc"

	WALLET_TX_TYPE_CREATE_UTXOS = "create_utxos"
	WALLET_TX_TYPE_DRAIN        = "drain"
)

func StatusFailed(status string) bool {
	return status == TRANSFER_STATUS_FAILED
}

func StatusSettled(status string) bool {
	return status == TRANSFER_STATUS_SETTLED
}

func StatusPending(status string) bool {
	return status == TRANSFER_STATUS_WAITING_COUNTERPARTY ||
		status == TRANSFER_STATUS_WAITING_CONFIRMATIONS
}

func StatusWaitingCounterparty(status string) bool {
	return status == TRANSFER_STATUS_WAITING_COUNTERPARTY
}

func StatusWaitingConfirmations(status string) bool {
	return status == TRANSFER_STATUS_WAITING_CONFIRMATIONS
}

// ColoringIncoming reports whether a coloring type adds an allocation to the
// wallet rather than consuming one.
func ColoringIncoming(coloringType string) bool {
	switch coloringType {
	case COLORING_TYPE_ISSUE, COLORING_TYPE_RECEIVE, COLORING_TYPE_CHANGE:
		return true
	default:
		return false
	}
}
