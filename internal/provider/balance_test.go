package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExplorerFetchBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "balance" {
			t.Fatalf("unexpected action %q", r.URL.Query().Get("action"))
		}
		_ = json.NewEncoder(w).Encode(explorerResponse{
			Status: "1", Message: "OK", Result: "1500000000000000000",
		})
	}))
	defer srv.Close()

	e := NewExplorer(ExplorerOptions{Name: "etherscan", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	balance, err := e.FetchBalance(context.Background(), "0x000000000000000000000000000000000000dead")
	if err != nil {
		t.Fatalf("balance fetch should succeed: %v", err)
	}
	if !balance.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("wei conversion wrong: %s", balance)
	}
}

func TestExplorerRateLimitInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(explorerResponse{
			Status: "0", Message: "NOTOK", Result: "Max rate limit reached",
		})
	}))
	defer srv.Close()

	e := NewExplorer(ExplorerOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := e.FetchBalance(context.Background(), "0x000000000000000000000000000000000000dead")

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("in-body rate limit should map to HTTPError, got %v", err)
	}
	if !httpErr.Retryable() {
		t.Fatal("explorer rate limit must be retryable")
	}
}

func TestResolverBalanceFallsThrough(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(explorerResponse{Status: "1", Result: "2000000000000000000"})
	}))
	defer good.Close()

	r, _ := testResolver(Options{MaxAttempts: 2})
	r.RegisterBalance("ethereum", NewExplorer(ExplorerOptions{Name: "bad-explorer", BaseURL: bad.URL, Timeout: time.Second}, noopLogger()), 0)
	r.RegisterBalance("ethereum", NewExplorer(ExplorerOptions{Name: "good-explorer", BaseURL: good.URL, Timeout: time.Second}, noopLogger()), 0)

	balance, err := r.ResolveBalance(context.Background(), "ethereum", "0x000000000000000000000000000000000000dead")
	if err != nil {
		t.Fatalf("secondary explorer should carry the resolution: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestResolverBalanceUnknownChain(t *testing.T) {
	r, _ := testResolver(Options{})
	if _, err := r.ResolveBalance(context.Background(), "nochain", "0xdead"); err == nil {
		t.Fatal("unknown chain should error")
	}
}
