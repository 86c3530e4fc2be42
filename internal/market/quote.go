package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
)

// Quote is a timestamped price snapshot for one asset. One quote exists
// per asset per scheduler tick; superseded quotes live only in the
// cache's bounded history ring.
type Quote struct {
	AssetID   string
	Prices    map[catalog.Fiat]decimal.Decimal
	Change24h map[catalog.Fiat]decimal.Decimal
	Change7d  map[catalog.Fiat]decimal.Decimal
	MarketCap decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// Price returns the price in the given fiat, or zero when the provider
// did not report that currency.
func (q Quote) Price(f catalog.Fiat) decimal.Decimal {
	return q.Prices[f]
}

// Delta24h returns the 24h percent change in the given fiat.
func (q Quote) Delta24h(f catalog.Fiat) decimal.Decimal {
	return q.Change24h[f]
}
