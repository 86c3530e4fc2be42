package alert

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

// Config fixes the emergency condition parameters. The extreme ceiling
// is deliberately independent of per-subscriber thresholds: it is the
// safety net for subscribers who configured a very high threshold.
type Config struct {
	DefaultThreshold decimal.Decimal
	PumpFactor       decimal.Decimal
	ExtremeCeiling   decimal.Decimal
}

// DefaultConfig returns the stock parameters: crash at -10%, pump at
// 1.5x the threshold, extreme at |20%|.
func DefaultConfig() Config {
	return Config{
		DefaultThreshold: decimal.NewFromInt(10),
		PumpFactor:       decimal.NewFromFloat(1.5),
		ExtremeCeiling:   decimal.NewFromInt(20),
	}
}

// Evaluator decides which notifications fire for one subscriber given a
// fresh quote. It owns no quote state; dedup state is shared so the
// cadence ticks and the emergency sweep suppress each other's repeats.
type Evaluator struct {
	cfg    Config
	state  *State
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator around shared dedup state.
func NewEvaluator(cfg Config, state *State, logger zerolog.Logger) *Evaluator {
	if cfg.DefaultThreshold.IsZero() {
		cfg = DefaultConfig()
	}
	return &Evaluator{
		cfg:    cfg,
		state:  state,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// EvaluateThresholds fires every matching one-shot alert. An alert fires
// at most once: returned alerts are handed back for removal and the
// evaluator never sees them again.
func (e *Evaluator) EvaluateThresholds(sub Subscriber, alerts []ThresholdAlert, q market.Quote) ([]Intent, []ThresholdAlert) {
	var intents []Intent
	var fired []ThresholdAlert

	price := q.Price(sub.Fiat)
	if price.IsZero() {
		// Malformed quote for this fiat; skip, never throw.
		e.logger.Warn().Str("asset", q.AssetID).Str("fiat", string(sub.Fiat)).Msg("quote missing fiat price, skipping threshold evaluation")
		return nil, nil
	}

	for _, a := range alerts {
		if a.ChatID != sub.ChatID || a.AssetID != q.AssetID {
			continue
		}
		hit := (a.Direction == DirectionAbove && price.GreaterThanOrEqual(a.TriggerPrice)) ||
			(a.Direction == DirectionBelow && price.LessThanOrEqual(a.TriggerPrice))
		if !hit {
			continue
		}
		asset, ok := catalog.Lookup(a.AssetID)
		if !ok {
			e.logger.Error().Str("asset", a.AssetID).Int64("alert", a.ID).Msg("alert references unknown asset, skipping")
			continue
		}
		intents = append(intents, Intent{
			ChatID:       a.ChatID,
			Kind:         KindThreshold,
			Asset:        asset,
			Fiat:         sub.Fiat,
			Direction:    a.Direction,
			TriggerPrice: a.TriggerPrice,
			Price:        price,
		})
		fired = append(fired, a)
	}
	return intents, fired
}

// EvaluateEmergency checks the crash, pump and extreme-volatility
// conditions. The three are independent: each fires and deduplicates on
// its own (subscriber, asset, kind) key.
func (e *Evaluator) EvaluateEmergency(sub Subscriber, q market.Quote, now time.Time) []Intent {
	if !sub.EmergencyOn || !sub.Tracks(q.AssetID) {
		return nil
	}

	asset, ok := catalog.Lookup(q.AssetID)
	if !ok {
		e.logger.Error().Str("asset", q.AssetID).Msg("quote references unknown asset, skipping")
		return nil
	}

	change := q.Delta24h(sub.Fiat)
	threshold := sub.EmergencyThreshold
	if threshold.LessThanOrEqual(decimal.Zero) {
		threshold = e.cfg.DefaultThreshold
	}

	base := Intent{
		ChatID:  sub.ChatID,
		Asset:   asset,
		Fiat:    sub.Fiat,
		Price:   q.Price(sub.Fiat),
		Percent: change,
	}

	var intents []Intent
	if change.LessThanOrEqual(threshold.Neg()) && e.state.ShouldFire(sub.ChatID, q.AssetID, KindCrash, now) {
		crash := base
		crash.Kind = KindCrash
		intents = append(intents, crash)
	}
	if change.GreaterThanOrEqual(threshold.Mul(e.cfg.PumpFactor)) && e.state.ShouldFire(sub.ChatID, q.AssetID, KindPump, now) {
		pump := base
		pump.Kind = KindPump
		intents = append(intents, pump)
	}
	if change.Abs().GreaterThanOrEqual(e.cfg.ExtremeCeiling) && e.state.ShouldFire(sub.ChatID, q.AssetID, KindExtreme, now) {
		extreme := base
		extreme.Kind = KindExtreme
		intents = append(intents, extreme)
	}
	return intents
}
