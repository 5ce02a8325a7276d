package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_TransactionReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "eth_getTransactionReceipt" {
			t.Errorf("expected method eth_getTransactionReceipt, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"transactionHash": "0xdeadbeef",
				"blockNumber":     "0x10",
				"status":          "0x1",
				"logs": []map[string]interface{}{
					{
						"address": "0xabc0000000000000000000000000000000000001",
						"topics":  []string{"0x1111111111111111111111111111111111111111111111111111111111111111"},
						"data":    "0x",
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	receipt, err := client.TransactionReceipt(ctx, "0xdeadbeef")
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}

	if receipt == nil {
		t.Fatal("expected receipt, got nil")
	}

	if receipt.TxHash != "0xdeadbeef" {
		t.Errorf("expected tx hash 0xdeadbeef, got %s", receipt.TxHash)
	}

	if len(receipt.Logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(receipt.Logs))
	}

	if receipt.Logs[0].Address != "0xabc0000000000000000000000000000000000001" {
		t.Errorf("unexpected log address: %s", receipt.Logs[0].Address)
	}
}

func TestHTTPClient_TransactionReceipt_NotIndexed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  nil,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	receipt, err := client.TransactionReceipt(ctx, "0xnotyet")
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}

	if receipt != nil {
		t.Errorf("expected nil for unindexed transaction, got %+v", receipt)
	}
}

func TestHTTPClient_BalanceOf(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "eth_call" {
			t.Errorf("expected method eth_call, got %s", req.Method)
		}

		callObj, ok := req.Params[0].(map[string]interface{})
		if !ok {
			t.Fatalf("expected call object, got %T", req.Params[0])
		}

		if callObj["to"] != "0xtoken0000000000000000000000000000000000" {
			t.Errorf("unexpected to: %v", callObj["to"])
		}

		data, _ := callObj["data"].(string)
		want := balanceOfSelector + "000000000000000000000000abcdef0123456789abcdef0123456789abcdef01"
		if data != want {
			t.Errorf("unexpected call data:\n got %s\nwant %s", data, want)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			// 25 * 10^18
			"result": "0x0000000000000000000000000000000000000000000000015af1d78b58c40000",
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	balance, err := client.BalanceOf(ctx,
		"0xtoken0000000000000000000000000000000000",
		"0xabcdef0123456789abcdef0123456789abcdef01")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}

	if balance.String() != "25000000000000000000" {
		t.Errorf("expected 25000000000000000000, got %s", balance)
	}
}

func TestHTTPClient_BlockNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "eth_blockNumber" {
			t.Errorf("expected method eth_blockNumber, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x12d687",
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	n, err := client.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}

	if n != 1234567 {
		t.Errorf("expected 1234567, got %d", n)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x3e7",
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	n, err := client.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}

	if n != 999 {
		t.Errorf("expected 999, got %d", n)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	_, err := client.BlockNumber(ctx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	rpcErr, ok := err.(*rpcError)
	if !ok {
		t.Fatalf("expected rpcError, got %T", err)
	}

	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.BlockNumber(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
