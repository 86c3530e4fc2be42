package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

// ErrExhausted is returned once every capable provider has failed.
var ErrExhausted = errors.New("provider: all providers exhausted")

// Options tune retry behaviour shared by all providers.
type Options struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// Resolver turns "give me quotes for these assets" into the minimum set
// of gated upstream calls, retrying transient failures with exponential
// backoff and falling through an ordered provider chain. It never
// touches the quote cache; callers apply results themselves.
type Resolver struct {
	opts     Options
	logger   zerolog.Logger
	markets  []MarketProvider
	balances map[string][]BalanceProvider
	gates    map[string]*gate

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver builds an empty resolver; providers are registered in
// fallback priority order.
func NewResolver(opts Options, logger zerolog.Logger) *Resolver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 8 * time.Second
	}
	return &Resolver{
		opts:     opts,
		logger:   logger.With().Str("component", "resolver").Logger(),
		balances: make(map[string][]BalanceProvider),
		gates:    make(map[string]*gate),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// paced is implemented by providers that issue more than one upstream
// request per fetch; the extra requests must wait on the same gate as
// the fetch itself.
type paced interface {
	setPace(pace func(ctx context.Context) error)
}

// RegisterMarket appends a market provider to the fallback chain with
// its per-request minimum interval.
func (r *Resolver) RegisterMarket(p MarketProvider, minInterval time.Duration) {
	r.markets = append(r.markets, p)
	g := &gate{interval: minInterval}
	r.gates[p.Name()] = g
	if pp, ok := p.(paced); ok {
		pp.setPace(r.pacer(g))
	}
}

// pacer builds a wait func over one gate, sharing the resolver's clock
// so gated requests inside a provider and across calls space uniformly.
func (r *Resolver) pacer(g *gate) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if w := g.wait(r.now()); w > 0 {
			if err := r.sleep(ctx, w); err != nil {
				return err
			}
		}
		g.last = r.now()
		return nil
	}
}

// RegisterBalance appends a balance provider for one chain.
func (r *Resolver) RegisterBalance(chain string, p BalanceProvider, minInterval time.Duration) {
	r.balances[chain] = append(r.balances[chain], p)
	r.gates[p.Name()] = &gate{interval: minInterval}
}

// ResolveQuotes fetches quotes for the given assets, preferring batched
// providers and iterating per asset otherwise. Assets no provider could
// serve are excluded from the result with a logged warning; an error is
// returned only when nothing resolved at all.
func (r *Resolver) ResolveQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error) {
	if len(assets) == 0 {
		return nil, nil
	}

	remaining := assets
	var resolved []market.Quote

	for _, p := range r.markets {
		if len(remaining) == 0 {
			break
		}
		if p.Batched() {
			var quotes []market.Quote
			err := r.call(ctx, p.Name(), func(ctx context.Context) error {
				var err error
				quotes, err = p.FetchQuotes(ctx, remaining, fiats)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return resolved, ctx.Err()
				}
				r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("batch fetch failed, falling through")
				continue
			}
			resolved = append(resolved, quotes...)
			remaining = missingAssets(remaining, quotes)
			continue
		}

		var failed []catalog.Asset
		for _, asset := range remaining {
			one := []catalog.Asset{asset}
			var quotes []market.Quote
			err := r.call(ctx, p.Name(), func(ctx context.Context) error {
				var err error
				quotes, err = p.FetchQuotes(ctx, one, fiats)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return resolved, ctx.Err()
				}
				r.logger.Warn().Err(err).Str("provider", p.Name()).Str("asset", asset.ID).Msg("asset fetch failed, falling through")
				failed = append(failed, asset)
				continue
			}
			resolved = append(resolved, quotes...)
		}
		remaining = failed
	}

	for _, asset := range remaining {
		r.logger.Warn().Str("asset", asset.ID).Msg("asset excluded from tick: no provider succeeded")
	}
	if len(resolved) == 0 && len(remaining) > 0 {
		return nil, ErrExhausted
	}
	return resolved, nil
}

// ResolveBalance fetches a wallet balance through the chain's provider
// order, falling through on exhausted retries.
func (r *Resolver) ResolveBalance(ctx context.Context, chain, address string) (decimal.Decimal, error) {
	providers := r.balances[chain]
	if len(providers) == 0 {
		return decimal.Decimal{}, fmt.Errorf("provider: no balance provider for chain %q", chain)
	}

	for _, p := range providers {
		var balance decimal.Decimal
		err := r.call(ctx, p.Name(), func(ctx context.Context) error {
			var err error
			balance, err = p.FetchBalance(ctx, address)
			return err
		})
		if err == nil {
			return balance, nil
		}
		if ctx.Err() != nil {
			return decimal.Decimal{}, ctx.Err()
		}
		r.logger.Warn().Err(err).Str("provider", p.Name()).Str("chain", chain).Msg("balance fetch failed, falling through")
	}
	return decimal.Decimal{}, ErrExhausted
}

// call drives one provider through the rate gate and the retry budget.
// A provider's explicit Retry-After hint overrides the computed backoff;
// non-retryable client errors abort immediately.
func (r *Resolver) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	g, ok := r.gates[name]
	if !ok {
		g = &gate{}
		r.gates[name] = g
	}

	bo := &backoff.Backoff{
		Min:    r.opts.BackoffMin,
		Max:    r.opts.BackoffMax,
		Factor: 2,
	}

	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if w := g.wait(r.now()); w > 0 {
			if err := r.sleep(ctx, w); err != nil {
				return err
			}
		}
		g.last = r.now()

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && !httpErr.Retryable() {
			return lastErr
		}

		delay := bo.Duration()
		if errors.As(lastErr, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}
		if attempt == r.opts.MaxAttempts-1 {
			break
		}

		r.logger.Debug().Err(lastErr).Str("provider", name).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying after transient failure")
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func missingAssets(requested []catalog.Asset, got []market.Quote) []catalog.Asset {
	seen := make(map[string]struct{}, len(got))
	for _, q := range got {
		seen[q.AssetID] = struct{}{}
	}
	var missing []catalog.Asset
	for _, a := range requested {
		if _, ok := seen[a.ID]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}
