package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
	"github.com/Andresuito/barrett-bot/internal/transport"
)

type fakeQuote struct {
	price  float64
	change float64
}

type fakeResolver struct {
	fetches map[string]int
	quotes  map[string]fakeQuote
}

func newFakeResolver(quotes map[string]fakeQuote) *fakeResolver {
	return &fakeResolver{fetches: make(map[string]int), quotes: quotes}
}

func (f *fakeResolver) ResolveQuotes(ctx context.Context, assets []catalog.Asset, fiats []catalog.Fiat) ([]market.Quote, error) {
	out := make([]market.Quote, 0, len(assets))
	for _, a := range assets {
		f.fetches[a.ID]++
		fq, ok := f.quotes[a.ID]
		if !ok {
			continue
		}
		out = append(out, market.Quote{
			AssetID:   a.ID,
			Prices:    map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(fq.price)},
			Change24h: map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(fq.change)},
			Timestamp: time.Now().UTC(),
		})
	}
	return out, nil
}

func (f *fakeResolver) ResolveBalance(ctx context.Context, chain, address string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

type fakeSubs struct {
	subs        []alert.Subscriber
	deactivated []int64
}

func (f *fakeSubs) ListActiveSubscribers(ctx context.Context) ([]alert.Subscriber, error) {
	out := make([]alert.Subscriber, len(f.subs))
	copy(out, f.subs)
	return out, nil
}

func (f *fakeSubs) UpsertSubscriber(ctx context.Context, sub alert.Subscriber) error { return nil }

func (f *fakeSubs) DeactivateSubscriber(ctx context.Context, chatID int64) error {
	f.deactivated = append(f.deactivated, chatID)
	return nil
}

// fakeAlerts keeps returning alerts after deletion, simulating a store
// whose delete has not yet been confirmed.
type fakeAlerts struct {
	alerts  []alert.ThresholdAlert
	deleted []int64
}

func (f *fakeAlerts) ListActiveAlerts(ctx context.Context) ([]alert.ThresholdAlert, error) {
	out := make([]alert.ThresholdAlert, len(f.alerts))
	copy(out, f.alerts)
	return out, nil
}

func (f *fakeAlerts) InsertAlert(ctx context.Context, a alert.ThresholdAlert) (alert.ThresholdAlert, error) {
	return a, nil
}

func (f *fakeAlerts) DeleteAlert(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSender struct {
	sent        map[int64][]string
	unreachable map[int64]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[int64][]string), unreachable: make(map[int64]bool)}
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	if f.unreachable[chatID] {
		return fmt.Errorf("%w: bot was blocked by the user", transport.ErrUnreachable)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func sub(chatID int64, cadence catalog.Cadence, tracked ...string) alert.Subscriber {
	return alert.Subscriber{
		ChatID:             chatID,
		Fiat:               catalog.FiatUSD,
		Tracked:            tracked,
		Cadence:            cadence,
		EmergencyOn:        true,
		EmergencyThreshold: decimal.NewFromInt(10),
		Active:             true,
	}
}

func newTestService(resolver QuoteResolver, subs *fakeSubs, alerts *fakeAlerts, sender *fakeSender) *Service {
	state := alert.NewState(time.Hour, 4*time.Hour)
	return New(Options{}, Deps{
		Resolver:    resolver,
		Cache:       market.NewCache(50),
		Evaluator:   alert.NewEvaluator(alert.DefaultConfig(), state, zerolog.Nop()),
		State:       state,
		Subscribers: subs,
		Alerts:      alerts,
		Sender:      sender,
	}, zerolog.Nop())
}

func TestCadenceTickFetchesAssetUnionOnce(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{
		"bitcoin":  {price: 50000, change: 1},
		"ethereum": {price: 3000, change: 2},
		"solana":   {price: 150, change: 3},
	})
	subs := &fakeSubs{subs: []alert.Subscriber{
		sub(1, catalog.Cadence15m, "bitcoin", "ethereum"),
		sub(2, catalog.Cadence15m, "ethereum", "solana"),
		sub(3, catalog.Cadence1h, "bitcoin"),
	}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, &fakeAlerts{}, sender)

	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)

	assert.Equal(t, 1, resolver.fetches["bitcoin"], "overlapping tracked assets fetch once")
	assert.Equal(t, 1, resolver.fetches["ethereum"])
	assert.Equal(t, 1, resolver.fetches["solana"])

	require.Len(t, sender.sent[1], 1)
	require.Len(t, sender.sent[2], 1)
	assert.Empty(t, sender.sent[3], "1h subscriber is not selected by the 15m tick")

	digest1 := sender.sent[1][0]
	assert.Contains(t, digest1, "BTC")
	assert.Contains(t, digest1, "ETH")
	assert.NotContains(t, digest1, "SOL", "digest carries only the subscriber's tracked subset")

	digest2 := sender.sent[2][0]
	assert.Contains(t, digest2, "SOL")
	assert.NotContains(t, digest2, "BTC")
}

func TestThresholdAlertFiresExactlyOnce(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{"bitcoin": {price: 51000, change: 1}})
	subs := &fakeSubs{subs: []alert.Subscriber{sub(1, catalog.Cadence15m, "bitcoin")}}
	alerts := &fakeAlerts{alerts: []alert.ThresholdAlert{
		{ID: 7, ChatID: 1, AssetID: "bitcoin", Direction: alert.DirectionAbove, TriggerPrice: decimal.NewFromInt(50000)},
	}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, alerts, sender)

	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)
	require.Equal(t, []int64{7}, alerts.deleted, "fired alert deletion requested")

	triggered := 0
	for _, text := range sender.sent[1] {
		if strings.Contains(text, "risen above") {
			triggered++
		}
	}
	require.Equal(t, 1, triggered)

	// The fake store still returns the alert (deletion unconfirmed);
	// the price stays past the threshold. No second trigger.
	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)
	triggered = 0
	for _, text := range sender.sent[1] {
		if strings.Contains(text, "risen above") {
			triggered++
		}
	}
	assert.Equal(t, 1, triggered, "one-shot alert must not re-fire on tick T+1")
	assert.Len(t, alerts.deleted, 1)
}

func TestThresholdAlertOfSlowCadenceOwnerCheckedOnFastTick(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{
		"ethereum": {price: 2900, change: -1},
		"bitcoin":  {price: 50000, change: 0},
	})
	subs := &fakeSubs{subs: []alert.Subscriber{
		sub(1, catalog.Cadence15m, "bitcoin"),
		sub(2, catalog.Cadence2h, "ethereum"),
	}}
	alerts := &fakeAlerts{alerts: []alert.ThresholdAlert{
		{ID: 9, ChatID: 2, AssetID: "ethereum", Direction: alert.DirectionBelow, TriggerPrice: decimal.NewFromInt(3000)},
	}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, alerts, sender)

	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)

	assert.Equal(t, 1, resolver.fetches["ethereum"], "alert asset joins the union despite the owner's slow cadence")
	require.Len(t, sender.sent[2], 1, "alert owner gets the trigger but no digest outside their cadence")
	assert.Contains(t, sender.sent[2][0], "fallen below")
}

func TestUnreachableSubscriberIsolatedFromTick(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{"bitcoin": {price: 50000, change: 1}})
	subs := &fakeSubs{subs: []alert.Subscriber{
		sub(1, catalog.Cadence15m, "bitcoin"),
		sub(2, catalog.Cadence15m, "bitcoin"),
		sub(3, catalog.Cadence15m, "bitcoin"),
	}}
	sender := newFakeSender()
	sender.unreachable[2] = true
	svc := newTestService(resolver, subs, &fakeAlerts{}, sender)

	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)

	require.Len(t, sender.sent[1], 1, "subscriber before the failure still delivered")
	require.Len(t, sender.sent[3], 1, "subscriber after the failure still delivered")
	assert.Equal(t, []int64{2}, subs.deactivated, "unreachable recipient retired via write-through")

	// Retired recipients stay out even though the fake store still
	// returns them.
	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)
	assert.Empty(t, sender.sent[2])
	assert.Len(t, sender.sent[1], 2)
}

func TestEmergencySweepDeduplicatesAgainstCadenceTick(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{"bitcoin": {price: 40000, change: -12}})
	subs := &fakeSubs{subs: []alert.Subscriber{sub(1, catalog.Cadence15m, "bitcoin")}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, &fakeAlerts{}, sender)

	// First sweep establishes the baseline, second fires the crash.
	svc.RunEmergencySweep(context.Background())
	svc.RunEmergencySweep(context.Background())

	crashes := 0
	for _, text := range sender.sent[1] {
		if strings.Contains(text, "crashed") {
			crashes++
		}
	}
	require.Equal(t, 1, crashes)

	// A cadence tick observing the same sustained condition is collapsed
	// by the shared dedup window.
	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)
	crashes = 0
	for _, text := range sender.sent[1] {
		if strings.Contains(text, "crashed") {
			crashes++
		}
	}
	assert.Equal(t, 1, crashes, "cadence tick and sweep share one dedup window")
}

func TestMissingQuoteExcludesAssetNotTick(t *testing.T) {
	// Resolver knows nothing about solana: the asset drops out of the
	// tick, the subscriber still gets a digest for the rest.
	resolver := newFakeResolver(map[string]fakeQuote{"bitcoin": {price: 50000, change: 1}})
	subs := &fakeSubs{subs: []alert.Subscriber{sub(1, catalog.Cadence15m, "bitcoin", "solana")}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, &fakeAlerts{}, sender)

	svc.RunCadenceTick(context.Background(), catalog.Cadence15m)

	require.Len(t, sender.sent[1], 1)
	assert.Contains(t, sender.sent[1][0], "BTC")
	assert.NotContains(t, sender.sent[1][0], "SOL")
}

func TestPruneBoundsEmergencyState(t *testing.T) {
	resolver := newFakeResolver(map[string]fakeQuote{"bitcoin": {price: 40000, change: -12}})
	subs := &fakeSubs{subs: []alert.Subscriber{sub(1, catalog.Cadence15m, "bitcoin")}}
	sender := newFakeSender()
	svc := newTestService(resolver, subs, &fakeAlerts{}, sender)

	svc.RunEmergencySweep(context.Background())
	svc.RunEmergencySweep(context.Background())
	require.Equal(t, 1, svc.deps.State.Len())

	svc.now = func() time.Time { return time.Now().Add(5 * time.Hour) }
	svc.Prune()
	assert.Equal(t, 0, svc.deps.State.Len())
}
