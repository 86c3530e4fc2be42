package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

const geckoMarketsPath = "/coins/markets"

// GeckoOptions parameterise the CoinGecko fetcher.
type GeckoOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Gecko fetches quotes from the CoinGecko markets API. It is the
// primary market provider: one call covers every requested asset for
// one fiat, so a tick costs one call per fiat regardless of fan-out.
type Gecko struct {
	opts    GeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	// pace spaces the per-fiat requests on the provider's rate gate;
	// wired by the resolver at registration.
	pace func(ctx context.Context) error
}

func (g *Gecko) setPace(pace func(ctx context.Context) error) { g.pace = pace }

// NewGecko constructs a CoinGecko provider.
func NewGecko(opts GeckoOptions, logger zerolog.Logger) *Gecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Gecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements MarketProvider.
func (g *Gecko) Name() string { return "coingecko" }

// Batched implements MarketProvider.
func (g *Gecko) Batched() bool { return true }

type geckoRow struct {
	ID          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"current_price"`
	MarketCap   float64  `json:"market_cap"`
	TotalVolume float64  `json:"total_volume"`
	Change24h   *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7d    *float64 `json:"price_change_percentage_7d_in_currency"`
}

// FetchQuotes retrieves market rows for every asset, one call per fiat.
func (g *Gecko) FetchQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	if len(fiats) == 0 {
		fiats = catalog.Fiats()
	}

	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}

	now := time.Now().UTC()
	quotes := make(map[string]*market.Quote, len(assets))

	for i, fiat := range fiats {
		// The first request is gated by the caller; later fiats wait
		// on the same gate so requests never burst back-to-back.
		if i > 0 && g.pace != nil {
			if err := g.pace(ctx); err != nil {
				return nil, err
			}
		}
		rows, err := g.fetchFiat(ctx, ids, fiat)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			q, ok := quotes[row.ID]
			if !ok {
				q = &market.Quote{
					AssetID:   row.ID,
					Prices:    make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
					Change24h: make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
					Change7d:  make(map[catalog.Fiat]decimal.Decimal, len(fiats)),
					Timestamp: now,
				}
				quotes[row.ID] = q
			}
			q.Prices[fiat] = decimal.NewFromFloat(row.Price)
			if row.Change24h != nil {
				q.Change24h[fiat] = decimal.NewFromFloat(*row.Change24h)
			}
			if row.Change7d != nil {
				q.Change7d[fiat] = decimal.NewFromFloat(*row.Change7d)
			}
			if fiat == catalog.FiatUSD {
				q.MarketCap = decimal.NewFromFloat(row.MarketCap)
				q.Volume24h = decimal.NewFromFloat(row.TotalVolume)
			}
		}
	}

	out := make([]market.Quote, 0, len(quotes))
	for _, a := range assets {
		if q, ok := quotes[a.ID]; ok {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (g *Gecko) fetchFiat(ctx context.Context, ids []string, fiat catalog.Fiat) ([]geckoRow, error) {
	params := url.Values{}
	params.Set("vs_currency", strings.ToLower(string(fiat)))
	params.Set("ids", strings.Join(ids, ","))
	params.Set("price_change_percentage", "24h,7d")

	endpoint := fmt.Sprintf("%s%s?%s", g.baseURL, geckoMarketsPath, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "barrett-bot/1.0")
	}
	if g.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", g.opts.APIKey)
	}

	var rows []geckoRow
	if err := doJSON(g.client, g.Name(), req, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

var _ MarketProvider = (*Gecko)(nil)
