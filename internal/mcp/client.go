// Package mcp provides MCP server tools for the RPC benchmarker.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP client for the benchmarker API. Every method
// returns the raw JSON body; the tool formatters decode what they need.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the benchmarker at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// Long timeout: result queries against thorough jobs can be slow.
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("benchmarker unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}
	return json.RawMessage(raw), nil
}

// Get performs a GET request against the benchmarker API.
func (c *Client) Get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil)
}

// Post performs a POST request with an optional JSON payload.
func (c *Client) Post(path string, payload any) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, payload)
}

// Delete performs a DELETE request.
func (c *Client) Delete(path string) (json.RawMessage, error) {
	return c.do(http.MethodDelete, path, nil)
}
