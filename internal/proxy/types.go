package proxy

import (
	"encoding/base64"
	"encoding/json"
)

const supportedProtocolVersion = "0.2"

type jsonRpcRequest struct {
	Method  string      `json:"method"`
	JsonRpc string      `json:"jsonrpc"`
	ID      *string     `json:"id"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonRpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type jsonRpcResponse struct {
	ID     *string         `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonRpcError   `json:"error,omitempty"`
}

// ServerInfo is the response to the server.info method.
type ServerInfo struct {
	ProtocolVersion string `json:"protocol_version"`
	Version         string `json:"version"`
	Uptime          uint64 `json:"uptime"`
}

// Consignment is the response to the consignment.get method. The payload is
// base64 encoded; txid and vout tell the receiver where the anchoring
// transaction pays it.
type Consignment struct {
	Consignment string  `json:"consignment"`
	Txid        string  `json:"txid"`
	Vout        *uint32 `json:"vout,omitempty"`
}

// Bytes decodes the base64 consignment payload.
func (c *Consignment) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Consignment)
}

type recipientIdParams struct {
	RecipientID string `json:"recipient_id"`
}

type postAckParams struct {
	RecipientID string `json:"recipient_id"`
	Ack         bool   `json:"ack"`
}

type postConsignmentParams struct {
	RecipientID string  `json:"recipient_id"`
	Txid        string  `json:"txid"`
	Vout        *uint32 `json:"vout,omitempty"`
}

type attachmentIdParams struct {
	AttachmentID string `json:"attachment_id"`
}
