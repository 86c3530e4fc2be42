package render

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/alert"
	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/market"
)

func TestDigestContainsOnlyTrackedQuotesInOrder(t *testing.T) {
	sub := alert.Subscriber{ChatID: 1, Fiat: catalog.FiatUSD, Tracked: []string{"ethereum", "bitcoin"}}
	quotes := []market.Quote{
		{
			AssetID:   "ethereum",
			Prices:    map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromInt(3000)},
			Change24h: map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(2.5)},
			Timestamp: time.Now(),
		},
		{
			AssetID:   "bitcoin",
			Prices:    map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromInt(50000)},
			Change24h: map[catalog.Fiat]decimal.Decimal{catalog.FiatUSD: decimal.NewFromFloat(-1.2)},
			Timestamp: time.Now(),
		},
	}

	text := Digest(sub, quotes, nil)
	ethIdx := strings.Index(text, "ETH")
	btcIdx := strings.Index(text, "BTC")
	if ethIdx < 0 || btcIdx < 0 {
		t.Fatalf("digest missing symbols: %q", text)
	}
	if ethIdx > btcIdx {
		t.Fatal("digest must preserve the subscriber's tracked order")
	}
	if !strings.Contains(text, "$3000.00") {
		t.Fatalf("digest missing price: %q", text)
	}
	if strings.Contains(text, "SOL") {
		t.Fatal("digest must contain only the tracked subset")
	}
}

func TestDigestIncludesWalletBalances(t *testing.T) {
	sub := alert.Subscriber{ChatID: 1, Fiat: catalog.FiatUSD, Tracked: []string{"bitcoin"}}
	text := Digest(sub, nil, []WalletBalance{{Label: "cold", Chain: "ethereum", Balance: decimal.NewFromFloat(1.5)}})
	if !strings.Contains(text, "cold: 1.5000") {
		t.Fatalf("wallet line missing: %q", text)
	}
}

func TestAlertRendering(t *testing.T) {
	btc, _ := catalog.Lookup("bitcoin")

	threshold := Alert(alert.Intent{
		Kind: alert.KindThreshold, Asset: btc, Fiat: catalog.FiatUSD,
		Direction: alert.DirectionBelow, TriggerPrice: decimal.NewFromInt(45000), Price: decimal.NewFromInt(44900),
	})
	if !strings.Contains(threshold, "fallen below") || !strings.Contains(threshold, "$45000.00") {
		t.Fatalf("unexpected threshold text: %q", threshold)
	}

	crash := Alert(alert.Intent{
		Kind: alert.KindCrash, Asset: btc, Fiat: catalog.FiatEUR,
		Percent: decimal.NewFromFloat(-12.3), Price: decimal.NewFromInt(40000),
	})
	if !strings.Contains(crash, "-12.3%") || !strings.Contains(crash, "€") {
		t.Fatalf("unexpected crash text: %q", crash)
	}

	pump := Alert(alert.Intent{
		Kind: alert.KindPump, Asset: btc, Fiat: catalog.FiatUSD,
		Percent: decimal.NewFromFloat(16), Price: decimal.NewFromInt(58000),
	})
	if !strings.Contains(pump, "+16.0%") {
		t.Fatalf("pump change should carry an explicit sign: %q", pump)
	}
}
