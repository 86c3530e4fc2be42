package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

// MarketProvider fetches quotes for catalog assets. Batched providers
// cover every requested asset in a single upstream call; non-batched
// providers are driven one asset at a time by the resolver.
type MarketProvider interface {
	Name() string
	Batched() bool
	FetchQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error)
}

// BalanceProvider fetches the native-token balance of one address.
type BalanceProvider interface {
	Name() string
	FetchBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// HTTPError is the typed failure returned for non-2xx upstream
// responses. Status decides retryability; RetryAfter carries the
// provider's explicit hint when one was present.
type HTTPError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s api error (%d)", e.Provider, e.Status)
}

// Retryable reports whether the failure is worth another attempt.
// Rate limits (429/430) and server errors are transient; any other
// client error means the request itself is wrong.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == 430 || e.Status >= 500
}

func newHTTPError(name string, resp *http.Response, body []byte) *HTTPError {
	httpErr := &HTTPError{
		Provider: name,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(body)),
	}
	if hint := resp.Header.Get("Retry-After"); hint != "" {
		if secs, err := strconv.Atoi(hint); err == nil && secs > 0 {
			httpErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return httpErr
}

// doJSON issues the request, classifies non-2xx statuses as HTTPError
// and decodes a successful body into out.
func doJSON(client *http.Client, name string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s read body: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(name, resp, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s decode response: %w", name, err)
		}
	}
	return nil
}

// gate is the per-endpoint rate-limit clock. One gate exists per
// registered provider; the single-threaded loop is the only writer.
type gate struct {
	interval time.Duration
	last     time.Time
}

func (g *gate) wait(now time.Time) time.Duration {
	if g.interval <= 0 || g.last.IsZero() {
		return 0
	}
	if w := g.interval - now.Sub(g.last); w > 0 {
		return w
	}
	return 0
}
