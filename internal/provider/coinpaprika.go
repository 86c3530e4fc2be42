package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

// PaprikaOptions parameterise the CoinPaprika fetcher.
type PaprikaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Paprika fetches quotes from the CoinPaprika tickers API. Tickers are
// per-asset, so it sits behind the batched primary in the fallback
// chain and is iterated asset by asset.
type Paprika struct {
	opts    PaprikaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPaprika constructs a CoinPaprika provider.
func NewPaprika(opts PaprikaOptions, logger zerolog.Logger) *Paprika {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinpaprika.com/v1"
	}

	return &Paprika{
		opts:    opts,
		logger:  logger.With().Str("component", "coinpaprika").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements MarketProvider.
func (p *Paprika) Name() string { return "coinpaprika" }

// Batched implements MarketProvider.
func (p *Paprika) Batched() bool { return false }

type paprikaFiatQuote struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap"`
	Change24h float64 `json:"percent_change_24h"`
	Change7d  float64 `json:"percent_change_7d"`
}

type paprikaTicker struct {
	ID     string                      `json:"id"`
	Symbol string                      `json:"symbol"`
	Quotes map[string]paprikaFiatQuote `json:"quotes"`
}

// FetchQuotes retrieves one ticker per asset; all fiats arrive in a
// single call via the quotes parameter.
func (p *Paprika) FetchQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error) {
	if len(fiats) == 0 {
		fiats = catalog.Fiats()
	}
	codes := make([]string, 0, len(fiats))
	for _, f := range fiats {
		codes = append(codes, string(f))
	}

	now := time.Now().UTC()
	out := make([]market.Quote, 0, len(assets))
	var lastErr error

	for _, asset := range assets {
		endpoint := fmt.Sprintf("%s/tickers/%s?quotes=%s", p.baseURL, paprikaID(asset), strings.Join(codes, ","))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return out, err
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}

		var ticker paprikaTicker
		if err := p.do(req, &ticker); err != nil {
			lastErr = err
			if len(assets) == 1 {
				return nil, err
			}
			p.logger.Warn().Err(err).Str("asset", asset.ID).Msg("ticker fetch failed")
			continue
		}

		q := market.Quote{
			AssetID:   asset.ID,
			Prices:    make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
			Change24h: make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
			Change7d:  make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
			Timestamp: now,
		}
		for _, f := range fiats {
			fq, ok := ticker.Quotes[string(f)]
			if !ok {
				continue
			}
			q.Prices[f] = decimal.NewFromFloat(fq.Price)
			q.Change24h[f] = decimal.NewFromFloat(fq.Change24h)
			q.Change7d[f] = decimal.NewFromFloat(fq.Change7d)
			if f == catalog.FiatUSD {
				q.MarketCap = decimal.NewFromFloat(fq.MarketCap)
				q.Volume24h = decimal.NewFromFloat(fq.Volume24h)
			}
		}
		out = append(out, q)
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(out) == 0 {
		return nil, errors.New("coinpaprika returned no tickers")
	}
	return out, nil
}

func (p *Paprika) do(req *http.Request, out any) error {
	return doJSON(p.client, p.Name(), req, out)
}

// paprikaID maps a catalog asset onto CoinPaprika's symbol-name ids,
// e.g. BTC/Bitcoin -> btc-bitcoin.
func paprikaID(a catalog.Asset) string {
	slug := strings.ToLower(strings.ReplaceAll(a.Name, " ", "-"))
	return strings.ToLower(a.Symbol) + "-" + slug
}

var _ MarketProvider = (*Paprika)(nil)
