package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a subscriber-registered address whose native balance is
// included in digest messages.
type Wallet struct {
	ID        int64
	ChatID    int64
	Chain     string
	Address   string
	Label     string
	CreatedAt time.Time
}

// QuoteSnapshot is the persisted trace of one cache update, kept for
// the show/export commands. Best-effort only: a failed insert never
// fails a tick.
type QuoteSnapshot struct {
	AssetID   string
	TickTS    time.Time
	PriceUSD  decimal.Decimal
	Change24h decimal.Decimal
	MarketCap decimal.Decimal
	Volume24h decimal.Decimal
	CreatedAt time.Time
}
