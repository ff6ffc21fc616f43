package rpcnode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ore-pool/stratum/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return New(config.NodeConfig{
		Host:    host,
		Port:    port,
		Timeout: 5 * time.Second,
	})
}

func TestGetBlockTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "getblocktemplate" {
			t.Errorf("unexpected method: %s", req.Method)
		}
		resp := rpcResponse{
			Result: json.RawMessage(`{
				"version": 536870912,
				"previousblockhash": "0000000000000000000123456789abcdef0000000000000000000000000000",
				"transactions": [{"data":"deadbeef","txid":"aabb"}],
				"coinbasevalue": 625000000,
				"curtime": 1700000000,
				"bits": "1d00ffff",
				"height": 800000,
				"default_witness_commitment": "aabbccdd"
			}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	tmpl, err := client.GetBlockTemplate(context.Background())
	if err != nil {
		t.Fatalf("GetBlockTemplate: %v", err)
	}
	if tmpl.Height != 800000 {
		t.Errorf("Height = %d, want 800000", tmpl.Height)
	}
	if tmpl.Bits != 0x1d00ffff {
		t.Errorf("Bits = %#x, want 0x1d00ffff", tmpl.Bits)
	}
	if len(tmpl.Transactions) != 1 || tmpl.Transactions[0].Hash != "aabb" {
		t.Errorf("unexpected transactions: %+v", tmpl.Transactions)
	}
}

func TestGetBlockTemplateDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{Error: &rpcError{Code: -1, Message: "daemon is syncing"}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	if _, err := client.GetBlockTemplate(context.Background()); err == nil {
		t.Fatal("expected an error from a daemon error response")
	} else if !strings.Contains(err.Error(), "daemon is syncing") {
		t.Errorf("error message should surface the daemon error, got: %v", err)
	}
}

func TestSubmitBlockAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`null`)})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	if err := client.SubmitBlock(context.Background(), "deadbeef"); err != nil {
		t.Errorf("SubmitBlock: %v", err)
	}
}

func TestSubmitBlockRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`"bad-prevblk"`)})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	err := client.SubmitBlock(context.Background(), "deadbeef")
	if err == nil || !strings.Contains(err.Error(), "bad-prevblk") {
		t.Errorf("expected rejection reason in error, got: %v", err)
	}
}
