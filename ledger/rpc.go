package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"hashnote/observability"
)

const defaultRPCTimeout = 30 * time.Second

// rpcClient is the single JSON-RPC transport shared by the read-only and
// signing clients. Every call POSTs a {jsonrpc, method, params, id} envelope
// with a bounded timeout; anything other than HTTP 200 with well-formed JSON
// fails the call. An RPC-level error object is surfaced as a call error, not
// as a parse error.
type rpcClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

func newRPCClient(endpoint string, timeout time.Duration) *rpcClient {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &rpcClient{
		url: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call executes a JSON-RPC method and returns the raw result payload. A
// "null" result is returned as-is; callers decide whether null is meaningful
// (e.g. a receipt that does not exist yet).
func (c *rpcClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("rpc client not configured")
	}
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.post(ctx, body)
	observability.Anchor().ObserveRPC(method, time.Since(start), err)
	return result, err
}

func (c *rpcClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc unexpected status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("rpc decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// callString runs a method whose result is a single JSON string (the common
// case for eth_* quantity and hash results).
func (c *rpcClient) callString(ctx context.Context, method string, params ...interface{}) (string, error) {
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rpc decode %s result: %w", method, err)
	}
	return strings.TrimSpace(out), nil
}

func isNullResult(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
