package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// Client talks JSON-RPC 2.0 to RGB proxy servers. Methods take the target
// URL per call since every transfer can use a different endpoint.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) call(ctx context.Context, url, method string, params interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(jsonRpcRequest{
		Method:  method,
		JsonRpc: "2.0",
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp jsonRpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, &types.ProxyError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// GetInfo calls server.info. Callers use it to check that an endpoint speaks
// a supported protocol version before trusting it with a transfer.
func (c *Client) GetInfo(ctx context.Context, url string) (*ServerInfo, error) {
	result, err := c.call(ctx, url, "server.info", nil)
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CheckEndpoint verifies the endpoint responds and runs a supported protocol
// version.
func (c *Client) CheckEndpoint(ctx context.Context, url string) error {
	info, err := c.GetInfo(ctx, url)
	if err != nil {
		return err
	}
	if info.ProtocolVersion != supportedProtocolVersion {
		return types.ErrUnsupportedTransportType
	}
	return nil
}

// GetAck calls ack.get, returning nil while the counterparty has not
// answered yet.
func (c *Client) GetAck(ctx context.Context, url, recipientID string) (*bool, error) {
	result, err := c.call(ctx, url, "ack.get", recipientIdParams{RecipientID: recipientID})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var ack bool
	if err := json.Unmarshal(result, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// PostAck calls ack.post with the recipient's verdict on a consignment.
func (c *Client) PostAck(ctx context.Context, url, recipientID string, ack bool) error {
	_, err := c.call(ctx, url, "ack.post", postAckParams{RecipientID: recipientID, Ack: ack})
	return err
}

// GetConsignment calls consignment.get, returning ErrNoConsignment when the
// sender has not posted one for this recipient yet.
func (c *Client) GetConsignment(ctx context.Context, url, recipientID string) (*Consignment, error) {
	result, err := c.call(ctx, url, "consignment.get", recipientIdParams{RecipientID: recipientID})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, types.ErrNoConsignment
	}
	var consignment Consignment
	if err := json.Unmarshal(result, &consignment); err != nil {
		return nil, err
	}
	return &consignment, nil
}

// PostConsignment calls consignment.post as a multipart form so the
// consignment travels as a file part next to the JSON-RPC fields.
func (c *Client) PostConsignment(ctx context.Context, url, recipientID, txid string, vout *uint32, consignment []byte) error {
	params := postConsignmentParams{RecipientID: recipientID, Txid: txid, Vout: vout}
	return c.postFile(ctx, url, "consignment.post", params, "consignment", consignment)
}

// GetMedia calls media.get, returning the base64-encoded attachment.
func (c *Client) GetMedia(ctx context.Context, url, attachmentID string) (string, error) {
	result, err := c.call(ctx, url, "media.get", attachmentIdParams{AttachmentID: attachmentID})
	if err != nil {
		return "", err
	}
	var media string
	if err := json.Unmarshal(result, &media); err != nil {
		return "", err
	}
	return media, nil
}

// PostMedia calls media.post as a multipart form.
func (c *Client) PostMedia(ctx context.Context, url, attachmentID string, media []byte) error {
	return c.postFile(ctx, url, "media.post",
		attachmentIdParams{AttachmentID: attachmentID}, "media", media)
}

func (c *Client) postFile(ctx context.Context, url, method string, params interface{}, fileName string, fileData []byte) error {
	paramsJson, err := json.Marshal(params)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("method", method); err != nil {
		return err
	}
	if err := form.WriteField("jsonrpc", "2.0"); err != nil {
		return err
	}
	if err := form.WriteField("id", "1"); err != nil {
		return err
	}
	if err := form.WriteField("params", string(paramsJson)); err != nil {
		return err
	}
	filePart, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(filePart, bytes.NewReader(fileData)); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	result, err := c.do(req)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proxy rejected %s", method)
	}
	return nil
}
