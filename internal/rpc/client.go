// Package rpc executes single-shot JSON-RPC calls against provider
// endpoints and measures them.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/rpcbench/internal/classify"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// RangeQueryTimeout applies to methods known to scan block ranges.
// Large getLogs windows on archival nodes routinely run for minutes.
const RangeQueryTimeout = 300 * time.Second

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Outcome is the measured result of one benchmark call. Exactly one HTTP
// POST is issued per call; the caller decides whether to re-invoke.
type Outcome struct {
	Success           bool
	ElapsedMs         *float64
	HTTPStatus        *int
	ResponseSizeBytes *int
	LogCount          *int
	ErrorType         types.ErrorCategory
	ErrorMessage      string
	Result            json.RawMessage
}

// Client issues measured JSON-RPC calls. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client sized for load bursts against a single host.
func NewClient(logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 128,
		MaxConnsPerHost:     0, // bursts set their own concurrency
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false,
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		// Per-call deadlines come from the request context, not a
		// client-wide timeout, so range queries can run long.
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// TimeoutFor returns the per-call timeout for a method.
func TimeoutFor(method string, base time.Duration) time.Duration {
	if method == "eth_getLogs" {
		return RangeQueryTimeout
	}
	return base
}

// Invoke executes one JSON-RPC call and classifies whatever comes back.
// Failures are folded into the Outcome, never returned as errors.
func (c *Client) Invoke(ctx context.Context, url, method string, params []interface{}, timeout time.Duration) Outcome {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{ErrorType: types.ErrUnknown, ErrorMessage: fmt.Sprintf("marshaling request: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return Outcome{ErrorType: types.ErrUnknown, ErrorMessage: fmt.Sprintf("creating request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{
			ErrorType:    classify.Transport(err),
			ErrorMessage: err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return Outcome{
			ElapsedMs:    &elapsed,
			ErrorType:    classify.Transport(err),
			ErrorMessage: fmt.Sprintf("reading response: %v", err),
		}
	}

	status := resp.StatusCode
	size := len(respBody)

	// Status check happens before body parsing: rate-limited providers
	// often return HTML error pages, not JSON.
	if status != http.StatusOK {
		snippet := respBody
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return Outcome{
			ElapsedMs:    &elapsed,
			HTTPStatus:   &status,
			ErrorType:    classify.HTTPStatus(status),
			ErrorMessage: (&HTTPStatusError{StatusCode: status, Body: string(snippet)}).Error(),
		}
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return Outcome{
			ElapsedMs:    &elapsed,
			HTTPStatus:   &status,
			ErrorType:    types.ErrUnknown,
			ErrorMessage: fmt.Sprintf("unmarshaling response: %v", err),
		}
	}

	if rpcResp.Error != nil {
		return Outcome{
			ElapsedMs:    &elapsed,
			HTTPStatus:   &status,
			ErrorType:    classify.RPC(rpcResp.Error.Code, rpcResp.Error.Message),
			ErrorMessage: (&RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}).Error(),
		}
	}

	out := Outcome{
		Success:           true,
		ElapsedMs:         &elapsed,
		HTTPStatus:        &status,
		ResponseSizeBytes: &size,
		Result:            rpcResp.Result,
	}

	if method == "eth_getLogs" {
		var logs []json.RawMessage
		if err := json.Unmarshal(rpcResp.Result, &logs); err == nil {
			n := len(logs)
			out.LogCount = &n
		}
	}

	return out
}

// call issues one request and returns the raw result or a typed error.
// Used by the hex-decoding helpers below.
func (c *Client) call(ctx context.Context, url, method string, params []interface{}, timeout time.Duration) (json.RawMessage, error) {
	out := c.Invoke(ctx, url, method, params, timeout)
	if !out.Success {
		return nil, fmt.Errorf("%s: %s", out.ErrorType, out.ErrorMessage)
	}
	return out.Result, nil
}

// BlockNumber returns the provider's latest block number.
func (c *Client) BlockNumber(ctx context.Context, url string, timeout time.Duration) (uint64, error) {
	result, err := c.call(ctx, url, "eth_blockNumber", nil, timeout)
	if err != nil {
		return 0, err
	}

	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal block number: %w", err)
	}

	return hexutil.DecodeUint64(blockHex)
}

// ChainID returns the provider's chain id. Used to validate that an
// endpoint actually serves the chain a job claims to benchmark.
func (c *Client) ChainID(ctx context.Context, url string, timeout time.Duration) (uint64, error) {
	result, err := c.call(ctx, url, "eth_chainId", nil, timeout)
	if err != nil {
		return 0, err
	}

	var idHex string
	if err := json.Unmarshal(result, &idHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal chain id: %w", err)
	}

	return hexutil.DecodeUint64(idHex)
}
