package alert

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig(), NewState(time.Hour, 4*time.Hour), zerolog.Nop())
}

func subscriber(threshold int64) Subscriber {
	return Subscriber{
		ChatID:             42,
		Fiat:               catalog.FiatUSD,
		Tracked:            []string{"bitcoin", "ethereum"},
		Cadence:            catalog.Cadence15m,
		EmergencyOn:        true,
		EmergencyThreshold: decimal.NewFromInt(threshold),
		Active:             true,
	}
}

func usdQuote(assetID string, price float64, change24h float64) market.Quote {
	return market.Quote{
		AssetID:   assetID,
		Prices:    map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(price)},
		Change24h: map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(change24h)},
		Timestamp: time.Now(),
	}
}

func TestThresholdAboveFiresOnce(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	alerts := []ThresholdAlert{
		{ID: 1, ChatID: sub.ChatID, AssetID: "bitcoin", Direction: DirectionAbove, TriggerPrice: decimal.NewFromInt(50000)},
	}

	intents, fired := e.EvaluateThresholds(sub, alerts, usdQuote("bitcoin", 51000, 1))
	require.Len(t, intents, 1)
	require.Len(t, fired, 1)
	assert.Equal(t, KindThreshold, intents[0].Kind)
	assert.Equal(t, DirectionAbove, intents[0].Direction)

	// The caller removes fired alerts from the working set; with the set
	// empty, the same price on the next tick must not re-trigger.
	intents, fired = e.EvaluateThresholds(sub, nil, usdQuote("bitcoin", 52000, 1))
	assert.Empty(t, intents)
	assert.Empty(t, fired)
}

func TestThresholdBelowExactBoundaryFires(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	alerts := []ThresholdAlert{
		{ID: 2, ChatID: sub.ChatID, AssetID: "ethereum", Direction: DirectionBelow, TriggerPrice: decimal.NewFromInt(3000)},
	}

	intents, fired := e.EvaluateThresholds(sub, alerts, usdQuote("ethereum", 3000, -1))
	require.Len(t, fired, 1)
	assert.True(t, intents[0].Price.Equal(decimal.NewFromInt(3000)))
}

func TestThresholdIgnoresOtherSubscribersAlerts(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	alerts := []ThresholdAlert{
		{ID: 3, ChatID: 999, AssetID: "bitcoin", Direction: DirectionAbove, TriggerPrice: decimal.NewFromInt(1)},
	}

	intents, fired := e.EvaluateThresholds(sub, alerts, usdQuote("bitcoin", 51000, 1))
	assert.Empty(t, intents)
	assert.Empty(t, fired)
}

func TestCrashFiresAndDeduplicates(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	now := time.Now()

	intents := e.EvaluateEmergency(sub, usdQuote("bitcoin", 40000, -12), now)
	require.Len(t, intents, 1)
	assert.Equal(t, KindCrash, intents[0].Kind)
	assert.True(t, intents[0].Percent.Equal(decimal.NewFromInt(-12)))

	// Repeat within the window is suppressed.
	intents = e.EvaluateEmergency(sub, usdQuote("bitcoin", 39000, -13), now.Add(30*time.Minute))
	assert.Empty(t, intents)

	// After the window elapses the condition may notify again.
	intents = e.EvaluateEmergency(sub, usdQuote("bitcoin", 38000, -14), now.Add(61*time.Minute))
	require.Len(t, intents, 1)
	assert.Equal(t, KindCrash, intents[0].Kind)
}

func TestPumpThresholdIsOneAndAHalfTimes(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	now := time.Now()

	assert.Empty(t, e.EvaluateEmergency(sub, usdQuote("bitcoin", 50000, 14), now), "+14%% must not pump at threshold 10")

	intents := e.EvaluateEmergency(sub, usdQuote("ethereum", 4000, 16), now)
	require.Len(t, intents, 1)
	assert.Equal(t, KindPump, intents[0].Kind)
}

func TestExtremeFiresRegardlessOfThreshold(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(25)
	now := time.Now()

	intents := e.EvaluateEmergency(sub, usdQuote("bitcoin", 30000, -22), now)
	require.Len(t, intents, 1)
	assert.Equal(t, KindExtreme, intents[0].Kind)

	intents = e.EvaluateEmergency(sub, usdQuote("ethereum", 5000, 22), now)
	require.Len(t, intents, 1)
	assert.Equal(t, KindExtreme, intents[0].Kind)
}

func TestCrashAndExtremeFireIndependently(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)

	intents := e.EvaluateEmergency(sub, usdQuote("bitcoin", 30000, -22), time.Now())
	require.Len(t, intents, 2)
	kinds := []Kind{intents[0].Kind, intents[1].Kind}
	assert.Contains(t, kinds, KindCrash)
	assert.Contains(t, kinds, KindExtreme)
}

func TestEmergencyRequiresFlagAndTrackedAsset(t *testing.T) {
	e := newTestEvaluator()
	now := time.Now()

	off := subscriber(10)
	off.EmergencyOn = false
	assert.Empty(t, e.EvaluateEmergency(off, usdQuote("bitcoin", 40000, -30), now))

	sub := subscriber(10)
	assert.Empty(t, e.EvaluateEmergency(sub, usdQuote("solana", 100, -30), now), "untracked asset must not notify")
}

func TestThresholdsEvaluateWithoutBaseline(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(10)
	alerts := []ThresholdAlert{
		{ID: 4, ChatID: sub.ChatID, AssetID: "bitcoin", Direction: DirectionBelow, TriggerPrice: decimal.NewFromInt(45000)},
	}

	intents, fired := e.EvaluateThresholds(sub, alerts, usdQuote("bitcoin", 40000, -30))
	require.Len(t, intents, 1, "threshold alerts do not need a previous quote")
	assert.Equal(t, KindThreshold, intents[0].Kind)
	require.Len(t, fired, 1)
}

func TestDefaultThresholdAppliesWhenUnset(t *testing.T) {
	e := newTestEvaluator()
	sub := subscriber(0) // unset, falls back to 10

	intents := e.EvaluateEmergency(sub, usdQuote("bitcoin", 40000, -11), time.Now())
	require.Len(t, intents, 1)
	assert.Equal(t, KindCrash, intents[0].Kind)
}
