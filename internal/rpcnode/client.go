// Package rpcnode implements a coin daemon JSON-RPC client satisfying
// updater.DaemonClient: getblocktemplate/submitblock over HTTP basic auth, the
// same RPC surface every Bitcoin-derived daemon exposes.
package rpcnode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/ore-pool/stratum/internal/config"
	"github.com/ore-pool/stratum/internal/mining"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpcnode: daemon error %d: %s", e.Code, e.Message)
}

// Client is a coin daemon JSON-RPC client.
type Client struct {
	url      string
	username string
	password string
	http     *http.Client
	nextID   atomic.Int64
}

// New constructs a Client from NodeConfig.
func New(cfg config.NodeConfig) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &Client{
		url:      fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		username: cfg.RPCUser,
		password: cfg.RPCPassword,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpcnode: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpcnode: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpcnode: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpcnode: read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("rpcnode: parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetBlockTemplate fetches a fresh template from the daemon and converts it
// to the registry's internal representation.
func (c *Client) GetBlockTemplate(ctx context.Context) (*mining.BlockTemplate, error) {
	params := []interface{}{
		map[string]interface{}{"rules": []string{"segwit"}},
	}

	result, err := c.call(ctx, "getblocktemplate", params)
	if err != nil {
		return nil, err
	}

	var raw daemonTemplate
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("rpcnode: parse block template: %w", err)
	}

	return raw.toBlockTemplate()
}

// SubmitBlock submits an assembled block (header + transactions, hex-encoded)
// to the daemon.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	result, err := c.call(ctx, "submitblock", []interface{}{blockHex})
	if err != nil {
		return err
	}

	var rejection string
	if err := json.Unmarshal(result, &rejection); err == nil && rejection != "" {
		return fmt.Errorf("rpcnode: block rejected: %s", rejection)
	}
	return nil
}
