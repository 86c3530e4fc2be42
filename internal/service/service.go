package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
	"github.com/Andresuito/barrett-bot/internal/render"
	"github.com/Andresuito/barrett-bot/internal/scheduler"
	"github.com/Andresuito/barrett-bot/internal/storage"
	"github.com/Andresuito/barrett-bot/internal/transport"
)

// QuoteResolver is the slice of the provider resolver the service
// consumes; the concrete implementation lives in internal/provider.
type QuoteResolver interface {
	ResolveQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error)
	ResolveBalance(ctx context.Context, chain, address string) (decimal.Decimal, error)
}

// Options tune the orchestration loop.
type Options struct {
	Fiats          []catalog.Fiat
	EmergencyEvery time.Duration
	PruneEvery     time.Duration
}

// Deps collects the service's collaborators.
type Deps struct {
	Resolver    QuoteResolver
	Cache       *market.Cache
	Evaluator   *alert.Evaluator
	State       *alert.State
	Subscribers storage.SubscriberStore
	Alerts      storage.ThresholdAlertStore
	Wallets     storage.WalletStore
	Snapshots   storage.SnapshotStore
	Sender      transport.Sender
	Scheduler   *scheduler.Scheduler
}

// Service orchestrates the notification core: cadence ticks batch the
// minimal asset union into one resolver pass, then fan evaluation and
// delivery out per subscriber. All state it owns (removed set, consumed
// alert ids) is in-memory and advisory; the store holds the truth.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	// removed guards against re-delivery to a retired recipient when
	// the store write-through failed; consumed guards a fired one-shot
	// alert against re-trigger before its deletion is confirmed.
	removed  map[int64]struct{}
	consumed map[int64]time.Time

	now func() time.Time
}

// New constructs the service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if len(opts.Fiats) == 0 {
		opts.Fiats = catalog.Fiats()
	}
	if opts.EmergencyEvery <= 0 {
		opts.EmergencyEvery = 5 * time.Minute
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = 30 * time.Minute
	}
	return &Service{
		opts:     opts,
		deps:     deps,
		logger:   logger.With().Str("component", "service").Logger(),
		removed:  make(map[int64]struct{}),
		consumed: make(map[int64]time.Time),
		now:      time.Now,
	}
}

// Run registers one timer per cadence, the emergency sweep and the
// prune sweep, then blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return errors.New("scheduler not configured")
	}

	for _, cadence := range catalog.Cadences() {
		cadence := cadence
		if _, err := s.deps.Scheduler.Register("cadence-"+string(cadence), cadence.Duration(), func() {
			s.RunCadenceTick(ctx, cadence)
		}); err != nil {
			return err
		}
	}
	if _, err := s.deps.Scheduler.Register("emergency-sweep", s.opts.EmergencyEvery, func() {
		s.RunEmergencySweep(ctx)
	}); err != nil {
		return err
	}
	if _, err := s.deps.Scheduler.Register("prune", s.opts.PruneEvery, func() {
		s.Prune()
	}); err != nil {
		return err
	}

	s.deps.Scheduler.Start()
	<-ctx.Done()
	s.deps.Scheduler.Stop()
	return ctx.Err()
}

// RunCadenceTick executes one update cycle for the given cadence:
// select subscribers, resolve the minimal asset union once, evaluate,
// render and deliver.
func (s *Service) RunCadenceTick(ctx context.Context, cadence catalog.Cadence) {
	subs, alerts, err := s.loadWorkingSet(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("cadence", string(cadence)).Msg("tick aborted: working set unavailable")
		return
	}

	var selected []alert.Subscriber
	for _, sub := range subs {
		if sub.Cadence == cadence {
			selected = append(selected, sub)
		}
	}
	if len(selected) == 0 && len(alerts) == 0 {
		return
	}

	// Threshold alerts are one-shot and time-sensitive: their assets
	// join every tick's union regardless of the owner's cadence.
	union := assetUnion(selected, alerts)
	if len(union) == 0 {
		return
	}

	quotes, err := s.deps.Resolver.ResolveQuotes(ctx, union, s.opts.Fiats)
	if err != nil {
		s.logger.Error().Err(err).Str("cadence", string(cadence)).Msg("tick aborted: resolution failed")
		return
	}
	s.applyQuotes(ctx, quotes)

	s.evaluateThresholds(ctx, subs, alerts)

	for _, sub := range selected {
		if _, gone := s.removed[sub.ChatID]; gone {
			continue
		}
		s.deliverDigest(ctx, sub)
	}
}

// RunEmergencySweep fetches the full catalog and runs the emergency
// half of evaluation for every flagged subscriber, independent of their
// display cadence, so crashes are caught even on slow cadences.
func (s *Service) RunEmergencySweep(ctx context.Context) {
	quotes, err := s.deps.Resolver.ResolveQuotes(ctx, catalog.Assets(), s.opts.Fiats)
	if err != nil {
		s.logger.Error().Err(err).Msg("emergency sweep aborted: resolution failed")
		return
	}
	s.applyQuotes(ctx, quotes)

	subs, _, err := s.loadWorkingSet(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("emergency sweep aborted: working set unavailable")
		return
	}

	now := s.now()
	for _, sub := range subs {
		if !sub.EmergencyOn {
			continue
		}
		if _, gone := s.removed[sub.ChatID]; gone {
			continue
		}
		for _, intent := range s.emergencyIntents(sub, now) {
			if !s.dispatch(ctx, sub.ChatID, render.Alert(intent)) {
				break
			}
		}
	}
}

// Prune bounds the in-memory dedup state and the consumed-alert guard.
func (s *Service) Prune() {
	now := s.now()
	removed := s.deps.State.Prune(now)
	for id, at := range s.consumed {
		if now.Sub(at) >= 24*time.Hour {
			delete(s.consumed, id)
		}
	}
	s.logger.Debug().Int("pruned", removed).Int("state_len", s.deps.State.Len()).Msg("emergency state pruned")
}

func (s *Service) loadWorkingSet(ctx context.Context) ([]alert.Subscriber, []alert.ThresholdAlert, error) {
	subs, err := s.deps.Subscribers.ListActiveSubscribers(ctx)
	if err != nil {
		return nil, nil, err
	}
	kept := subs[:0]
	for _, sub := range subs {
		if _, gone := s.removed[sub.ChatID]; !gone {
			kept = append(kept, sub)
		}
	}

	alerts, err := s.deps.Alerts.ListActiveAlerts(ctx)
	if err != nil {
		return nil, nil, err
	}
	armed := alerts[:0]
	for _, a := range alerts {
		if _, fired := s.consumed[a.ID]; !fired {
			armed = append(armed, a)
		}
	}
	return kept, armed, nil
}

// assetUnion is the tick's fetch set: each selected subscriber's
// tracked assets plus the asset of every armed threshold alert.
func assetUnion(selected []alert.Subscriber, alerts []alert.ThresholdAlert) []catalog.Asset {
	seen := make(map[string]struct{})
	var union []catalog.Asset

	add := func(assetID string) {
		if _, ok := seen[assetID]; ok {
			return
		}
		seen[assetID] = struct{}{}
		if asset, ok := catalog.Lookup(assetID); ok {
			union = append(union, asset)
		}
	}

	for _, sub := range selected {
		for _, id := range sub.Tracked {
			add(id)
		}
	}
	for _, a := range alerts {
		add(a.AssetID)
	}
	return union
}

// applyQuotes is the scheduler's cache write after a successful batch
// fetch; snapshots mirror it best-effort for the show/export surface.
func (s *Service) applyQuotes(ctx context.Context, quotes []market.Quote) {
	for _, q := range quotes {
		s.deps.Cache.Update(q)
		if s.deps.Snapshots == nil {
			continue
		}
		snap := storage.QuoteSnapshot{
			AssetID:   q.AssetID,
			TickTS:    q.Timestamp,
			PriceUSD:  q.Price(catalog.FiatUSD),
			Change24h: q.Delta24h(catalog.FiatUSD),
			MarketCap: q.MarketCap,
			Volume24h: q.Volume24h,
		}
		if err := s.deps.Snapshots.UpsertSnapshot(ctx, snap); err != nil {
			s.logger.Warn().Err(err).Str("asset", q.AssetID).Msg("snapshot persist failed")
		}
	}
}

// evaluateThresholds checks every armed alert against this tick's
// quotes. Fired alerts leave the working set before any delivery is
// attempted, so a duplicate tick cannot re-trigger them.
func (s *Service) evaluateThresholds(ctx context.Context, subs []alert.Subscriber, alerts []alert.ThresholdAlert) {
	if len(alerts) == 0 {
		return
	}

	subIndex := make(map[int64]alert.Subscriber, len(subs))
	for _, sub := range subs {
		subIndex[sub.ChatID] = sub
	}

	byChat := make(map[int64][]alert.ThresholdAlert)
	for _, a := range alerts {
		byChat[a.ChatID] = append(byChat[a.ChatID], a)
	}

	for chatID, owned := range byChat {
		sub, ok := subIndex[chatID]
		if !ok {
			s.logger.Warn().Int64("chat", chatID).Msg("alert owner not in active set, skipping")
			continue
		}

		var intents []alert.Intent
		for _, a := range owned {
			quote, ok := s.deps.Cache.Latest(a.AssetID)
			if !ok {
				s.logger.Warn().Str("asset", a.AssetID).Int64("alert", a.ID).Msg("no quote for alert asset this tick")
				continue
			}
			hit, fired := s.deps.Evaluator.EvaluateThresholds(sub, []alert.ThresholdAlert{a}, quote)
			for _, f := range fired {
				s.consumed[f.ID] = s.now()
				if err := s.deps.Alerts.DeleteAlert(ctx, f.ID); err != nil {
					s.logger.Error().Err(err).Int64("alert", f.ID).Msg("alert deletion failed, consumed guard holds")
				}
			}
			intents = append(intents, hit...)
		}

		for _, intent := range intents {
			if !s.dispatch(ctx, chatID, render.Alert(intent)) {
				break
			}
		}
	}
}

// deliverDigest renders and sends one subscriber's periodic update plus
// any emergency intents due at digest time.
func (s *Service) deliverDigest(ctx context.Context, sub alert.Subscriber) {
	var quotes []market.Quote
	for _, assetID := range sub.Tracked {
		q, ok := s.deps.Cache.Latest(assetID)
		if !ok {
			s.logger.Warn().Str("asset", assetID).Int64("chat", sub.ChatID).Msg("tracked asset missing from tick, excluded")
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return
	}

	intents := s.emergencyIntents(sub, s.now())
	balances := s.walletBalances(ctx, sub)

	if !s.dispatch(ctx, sub.ChatID, render.Digest(sub, quotes, balances)) {
		return
	}
	for _, intent := range intents {
		if !s.dispatch(ctx, sub.ChatID, render.Alert(intent)) {
			return
		}
	}
}

// emergencyIntents runs the delta half of evaluation over the
// subscriber's tracked assets, skipping assets without a baseline.
func (s *Service) emergencyIntents(sub alert.Subscriber, now time.Time) []alert.Intent {
	if !sub.EmergencyOn {
		return nil
	}
	var intents []alert.Intent
	for _, assetID := range sub.Tracked {
		q, ok := s.deps.Cache.Latest(assetID)
		if !ok {
			continue
		}
		if _, ok := s.deps.Cache.Previous(assetID); !ok {
			// First observation: no delta alerts possible yet.
			continue
		}
		intents = append(intents, s.deps.Evaluator.EvaluateEmergency(sub, q, now)...)
	}
	return intents
}

func (s *Service) walletBalances(ctx context.Context, sub alert.Subscriber) []render.WalletBalance {
	if s.deps.Wallets == nil {
		return nil
	}
	wallets, err := s.deps.Wallets.ListWallets(ctx, sub.ChatID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat", sub.ChatID).Msg("wallet lookup failed")
		return nil
	}

	var balances []render.WalletBalance
	for _, w := range wallets {
		balance, err := s.deps.Resolver.ResolveBalance(ctx, w.Chain, w.Address)
		if err != nil {
			s.logger.Warn().Err(err).Str("chain", w.Chain).Int64("chat", sub.ChatID).Msg("balance excluded from digest")
			continue
		}
		balances = append(balances, render.WalletBalance{Label: w.Label, Chain: w.Chain, Balance: balance})
	}
	return balances
}

// dispatch sends one message. An unreachable recipient is retired from
// the active set; the false return stops further sends to them while
// the rest of the tick proceeds untouched.
func (s *Service) dispatch(ctx context.Context, chatID int64, text string) bool {
	err := s.deps.Sender.Send(ctx, chatID, text)
	if err == nil {
		return true
	}

	if errors.Is(err, transport.ErrUnreachable) {
		s.removed[chatID] = struct{}{}
		if storeErr := s.deps.Subscribers.DeactivateSubscriber(ctx, chatID); storeErr != nil {
			s.logger.Error().Err(storeErr).Int64("chat", chatID).Msg("deactivation write-through failed, in-memory guard holds")
		}
		s.logger.Info().Int64("chat", chatID).Msg("subscriber retired after unreachable delivery")
		return false
	}

	s.logger.Warn().Err(err).Int64("chat", chatID).Msg("transient delivery failure, retained for next tick")
	return false
}
