package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProviderCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["method"] != "list_items" {
			t.Errorf("method = %v", req["method"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"items": []any{"a"}, "next_page_token": ""},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	resp, err := p.Call(context.Background(), "list_items", map[string]any{"parent": "p"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	items, ok := resp["items"].([]any)
	if !ok || len(items) != 1 || items[0] != "a" {
		t.Errorf("result = %v", resp)
	}
}

func TestHTTPProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	if _, err := p.Call(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected rpc error")
	}
}

func TestHTTPProviderHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	if _, err := p.Call(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error on http 502")
	}
}
