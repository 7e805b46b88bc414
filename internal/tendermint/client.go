package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/types"
)

// Client submits notary transactions and queries to a Tendermint node over
// JSON-RPC.
type Client struct {
	rpcAddr string
	client  *http.Client
}

// NewClient creates a client for the node at rpcAddr
// (default "http://localhost:26657").
func NewClient(rpcAddr string) *Client {
	if rpcAddr == "" {
		rpcAddr = "http://localhost:26657"
	}
	return &Client{
		rpcAddr: rpcAddr,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// TxError is a transaction rejected by CheckTx or DeliverTx.
type TxError struct {
	Stage string // "check_tx" or "deliver_tx"
	Code  uint32
	Log   string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.Stage, e.Code, e.Log)
}

// TxResult describes an accepted transaction. Height is zero for
// BroadcastTxSync.
type TxResult struct {
	Hash   string
	Height int64
}

// RPCError is a JSON-RPC level failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
}

type txResponse struct {
	Code uint32 `json:"code"`
	Log  string `json:"log"`
}

// BroadcastTxSync returns after the transaction passed CheckTx.
func (c *Client) BroadcastTxSync(ctx context.Context, tx []byte) (*TxResult, error) {
	var res struct {
		txResponse
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "broadcast_tx_sync", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &res); err != nil {
		return nil, err
	}
	if res.Code != 0 {
		return nil, &TxError{Stage: "check_tx", Code: res.Code, Log: res.Log}
	}
	return &TxResult{Hash: res.Hash}, nil
}

// BroadcastTxCommit waits until the transaction is included in a block.
func (c *Client) BroadcastTxCommit(ctx context.Context, tx []byte) (*TxResult, error) {
	var res struct {
		CheckTx   txResponse `json:"check_tx"`
		DeliverTx txResponse `json:"deliver_tx"`
		Hash      string     `json:"hash"`
		Height    int64      `json:"height,string"`
	}
	if err := c.call(ctx, "broadcast_tx_commit", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &res); err != nil {
		return nil, err
	}
	if res.CheckTx.Code != 0 {
		return nil, &TxError{Stage: "check_tx", Code: res.CheckTx.Code, Log: res.CheckTx.Log}
	}
	if res.DeliverTx.Code != 0 {
		return nil, &TxError{Stage: "deliver_tx", Code: res.DeliverTx.Code, Log: res.DeliverTx.Log}
	}
	return &TxResult{Hash: res.Hash, Height: res.Height}, nil
}

// Submit signs tx with signer and broadcasts it, waiting for the block
// when commit is set.
func (c *Client) Submit(ctx context.Context, tx *types.Transaction, signer types.Signer, commit bool) (*TxResult, error) {
	stx, err := tx.Sign(signer)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	if commit {
		return c.BroadcastTxCommit(ctx, b)
	}
	return c.BroadcastTxSync(ctx, b)
}

// Query runs an ABCI query and returns the response value.
func (c *Client) Query(ctx context.Context, path string, data []byte) ([]byte, error) {
	var res struct {
		Response struct {
			Code  uint32 `json:"code"`
			Log   string `json:"log"`
			Value []byte `json:"value"`
		} `json:"response"`
	}
	params := map[string]any{"path": path, "data": hex.EncodeToString(data)}
	if err := c.call(ctx, "abci_query", params, &res); err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, &TxError{Stage: "query", Code: res.Response.Code, Log: res.Response.Log}
	}
	return res.Response.Value, nil
}

// Verify queries the notarization status of fp.
func (c *Client) Verify(ctx context.Context, fp types.Fingerprint) (types.VerificationResult, error) {
	var res types.VerificationResult
	b, err := c.Query(ctx, "/verify", fp)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return res, fmt.Errorf("decode verification result: %w", err)
	}
	return res, nil
}

// Signatures queries the endorsements of fp.
func (c *Client) Signatures(ctx context.Context, fp types.Fingerprint) ([]types.Endorsement, error) {
	b, err := c.Query(ctx, "/signatures", fp)
	if err != nil {
		return nil, err
	}
	var sigs []types.Endorsement
	if err := json.Unmarshal(b, &sigs); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return sigs, nil
}

// Documents queries the fingerprints committed by id.
func (c *Client) Documents(ctx context.Context, id types.Identity) ([]types.Fingerprint, error) {
	b, err := c.Query(ctx, "/documents", []byte(id))
	if err != nil {
		return nil, err
	}
	var docs []types.Fingerprint
	if err := json.Unmarshal(b, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

// Params queries the ledger parameters of the node.
func (c *Client) Params(ctx context.Context) (notary.Params, error) {
	var p notary.Params
	b, err := c.Query(ctx, "/params", nil)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

// call performs one JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to build RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send RPC request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w (body: %s)", err, string(respBytes))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
