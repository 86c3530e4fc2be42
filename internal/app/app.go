package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/config"
	"github.com/Andresuito/barrett-bot/internal/market"
	"github.com/Andresuito/barrett-bot/internal/provider"
	"github.com/Andresuito/barrett-bot/internal/scheduler"
	"github.com/Andresuito/barrett-bot/internal/service"
	"github.com/Andresuito/barrett-bot/internal/storage"
	"github.com/Andresuito/barrett-bot/internal/transport"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newResolver() *provider.Resolver {
	p := a.Config.Providers
	resolver := provider.NewResolver(provider.Options{
		MaxAttempts: p.MaxAttempts,
		BackoffMin:  p.BackoffMin,
		BackoffMax:  p.BackoffMax,
	}, a.Logger)

	resolver.RegisterMarket(provider.NewGecko(provider.GeckoOptions{
		BaseURL:   p.CoinGecko.BaseURL,
		APIKey:    p.CoinGecko.APIKey,
		Timeout:   p.CoinGecko.RequestTimeout,
		UserAgent: a.Config.App.Name,
	}, a.Logger), p.CoinGecko.MinInterval)

	resolver.RegisterMarket(provider.NewPaprika(provider.PaprikaOptions{
		BaseURL:   p.CoinPaprika.BaseURL,
		Timeout:   p.CoinPaprika.RequestTimeout,
		UserAgent: a.Config.App.Name,
	}, a.Logger), p.CoinPaprika.MinInterval)

	if p.Explorer.BaseURL != "" {
		resolver.RegisterBalance("ethereum", provider.NewExplorer(provider.ExplorerOptions{
			Name:    "explorer",
			BaseURL: p.Explorer.BaseURL,
			APIKey:  p.Explorer.APIKey,
			Timeout: p.Explorer.RequestTimeout,
		}, a.Logger), p.Explorer.MinInterval)
	}
	if p.Ethereum.RPCURL != "" {
		resolver.RegisterBalance("ethereum", provider.NewRPCBalance(provider.RPCBalanceOptions{
			Name:    "rpc",
			RPCURL:  p.Ethereum.RPCURL,
			Timeout: p.Ethereum.RequestTimeout,
		}, a.Logger), 0)
	}

	return resolver
}

func (a *App) fiats() ([]catalog.Fiat, error) {
	fiats := make([]catalog.Fiat, 0, len(a.Config.Quotes.Fiats))
	for _, raw := range a.Config.Quotes.Fiats {
		fiat, err := catalog.ParseFiat(raw)
		if err != nil {
			return nil, fmt.Errorf("quotes.fiats: %w", err)
		}
		fiats = append(fiats, fiat)
	}
	return fiats, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running notification service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	release, locked, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return err
	}
	if !locked {
		a.Logger.Info().Msg("another instance holds the run lock, exiting")
		return nil
	}
	defer release()

	if delay := a.Config.Scheduler.StartupDelay; delay > 0 {
		a.Logger.Info().Dur("delay", delay).Msg("startup delay before first tick")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fiats, err := a.fiats()
	if err != nil {
		return err
	}

	sender, err := transport.NewTelegram(transport.TelegramOptions{
		Token:   a.Config.Telegram.BotToken,
		APIBase: a.Config.Telegram.APIBase,
		Timeout: a.Config.Telegram.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return err
	}

	state := alert.NewState(a.Config.Alerting.DedupWindow, a.Config.Alerting.Retention)
	evaluator := alert.NewEvaluator(alert.Config{
		DefaultThreshold: decimal.NewFromFloat(a.Config.Alerting.DefaultThresholdPct),
		PumpFactor:       decimal.NewFromFloat(a.Config.Alerting.PumpFactor),
		ExtremeCeiling:   decimal.NewFromFloat(a.Config.Alerting.ExtremePct),
	}, state, a.Logger)

	svc := service.New(service.Options{
		Fiats:          fiats,
		EmergencyEvery: a.Config.Scheduler.EmergencyInterval,
		PruneEvery:     a.Config.Scheduler.PruneInterval,
	}, service.Deps{
		Resolver:    a.newResolver(),
		Cache:       market.NewCache(a.Config.Quotes.History),
		Evaluator:   evaluator,
		State:       state,
		Subscribers: store,
		Alerts:      store,
		Wallets:     store,
		Snapshots:   store,
		Sender:      sender,
		Scheduler:   scheduler.New(a.Logger),
	}, a.Logger)

	a.Logger.Info().Msg("starting notification service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("notification service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	AssetID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
