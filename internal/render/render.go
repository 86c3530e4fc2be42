// Package render turns quotes and notification intents into the plain
// text pushed to subscribers. Formatting only; no decisions are made
// here.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

// WalletBalance is one resolved wallet line for the digest.
type WalletBalance struct {
	Label   string
	Chain   string
	Balance decimal.Decimal
}

// Digest renders the periodic update for one subscriber: their tracked
// quotes in their fiat, in their configured order, plus any wallet
// balances.
func Digest(sub alert.Subscriber, quotes []market.Quote, balances []WalletBalance) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Market update (%s)\n", time.Now().UTC().Format("15:04 MST")))

	for _, q := range quotes {
		asset, ok := catalog.Lookup(q.AssetID)
		if !ok {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s%s (%s%% 24h)\n",
			asset.Symbol,
			sub.Fiat.Sign(),
			q.Price(sub.Fiat).StringFixed(2),
			signed(q.Delta24h(sub.Fiat)),
		))
	}

	if len(balances) > 0 {
		builder.WriteString("\nWallets:\n")
		for _, b := range balances {
			label := b.Label
			if label == "" {
				label = b.Chain
			}
			builder.WriteString(fmt.Sprintf("%s: %s\n", label, b.Balance.StringFixed(4)))
		}
	}

	return builder.String()
}

// Alert renders one notification intent.
func Alert(intent alert.Intent) string {
	switch intent.Kind {
	case alert.KindThreshold:
		word := "risen above"
		if intent.Direction == alert.DirectionBelow {
			word = "fallen below"
		}
		return fmt.Sprintf("🎯 %s has %s %s%s - now %s%s",
			intent.Asset.Symbol, word,
			intent.Fiat.Sign(), intent.TriggerPrice.StringFixed(2),
			intent.Fiat.Sign(), intent.Price.StringFixed(2),
		)
	case alert.KindCrash:
		return fmt.Sprintf("🔻 %s crashed %s%% in 24h - now %s%s",
			intent.Asset.Symbol, intent.Percent.StringFixed(1),
			intent.Fiat.Sign(), intent.Price.StringFixed(2),
		)
	case alert.KindPump:
		return fmt.Sprintf("🚀 %s pumped %s%% in 24h - now %s%s",
			intent.Asset.Symbol, signed(intent.Percent),
			intent.Fiat.Sign(), intent.Price.StringFixed(2),
		)
	case alert.KindExtreme:
		return fmt.Sprintf("⚠️ extreme volatility: %s moved %s%% in 24h - now %s%s",
			intent.Asset.Symbol, signed(intent.Percent),
			intent.Fiat.Sign(), intent.Price.StringFixed(2),
		)
	}
	return fmt.Sprintf("%s: %s%s", intent.Asset.Symbol, intent.Fiat.Sign(), intent.Price.StringFixed(2))
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(1)
	if d.Sign() > 0 {
		return "+" + s
	}
	return s
}
