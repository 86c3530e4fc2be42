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

	"github.com/Andresuito/barrett-bot/internal/catalog"
)

func TestGeckoFetchSuccess(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("vs_currency"))
		change24 := -12.5
		change7 := 3.25
		_ = json.NewEncoder(w).Encode([]geckoRow{
			{
				ID:          "bitcoin",
				Symbol:      "btc",
				Price:       50000,
				MarketCap:   1_000_000,
				TotalVolume: 200_000,
				Change24h:   &change24,
				Change7d:    &change7,
			},
		})
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quotes, err := g.FetchQuotes(context.Background(), assets("bitcoin"), []catalog.Fiat{catalog.FiatUSD, catalog.FiatEUR})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected one quote, got %d", len(quotes))
	}

	q := quotes[0]
	if !q.Price(catalog.FiatUSD).Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected USD price %s", q.Price(catalog.FiatUSD))
	}
	if !q.Delta24h(catalog.FiatEUR).Equal(decimal.NewFromFloat(-12.5)) {
		t.Fatalf("unexpected EUR 24h change %s", q.Delta24h(catalog.FiatEUR))
	}
	if len(queries) != 2 {
		t.Fatalf("expected one call per fiat, got %v", queries)
	}
}

func TestGeckoRateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := g.FetchQuotes(context.Background(), assets("bitcoin"), []catalog.Fiat{catalog.FiatUSD})
	if err == nil {
		t.Fatal("429 should surface as an error")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T", err)
	}
	if !httpErr.Retryable() {
		t.Fatal("rate limit must be retryable")
	}
	if httpErr.RetryAfter != 17*time.Second {
		t.Fatalf("Retry-After hint lost: %s", httpErr.RetryAfter)
	}
}

func TestGeckoClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := g.FetchQuotes(context.Background(), assets("bitcoin"), []catalog.Fiat{catalog.FiatUSD})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Retryable() {
		t.Fatal("404 must not be retryable")
	}
}

func TestGeckoPacesPerFiatRequests(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode([]geckoRow{{ID: "bitcoin", Symbol: "btc", Price: 50000}})
	}))
	defer srv.Close()

	r, slept := testResolver(Options{MaxAttempts: 1})
	r.RegisterMarket(NewGecko(GeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger()), 2*time.Second)

	fiats := []catalog.Fiat{catalog.FiatUSD, catalog.FiatEUR, catalog.FiatRUB}
	if _, err := r.ResolveQuotes(context.Background(), assets("bitcoin"), fiats); err != nil {
		t.Fatalf("resolve should succeed: %v", err)
	}

	if hits != 3 {
		t.Fatalf("expected one request per fiat, got %d", hits)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected a gate wait between consecutive fiat requests, slept %v", *slept)
	}
	for _, d := range *slept {
		if d != 2*time.Second {
			t.Fatalf("gate wait %v, want the 2s min interval", d)
		}
	}
}
