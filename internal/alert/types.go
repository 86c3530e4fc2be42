package alert

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andresuito/barrett-bot/internal/catalog"
)

// MaxTracked bounds the number of assets a subscriber may follow.
const MaxTracked = 5

// Direction tells which side of the trigger price fires a threshold
// alert.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Kind discriminates notification intents.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindCrash     Kind = "crash"
	KindPump      Kind = "pump"
	KindExtreme   Kind = "extreme"
)

// Subscriber is the immutable per-evaluation snapshot of one recipient's
// configuration. It is owned by the persistent store; the core never
// mutates it, it only requests write-through updates.
type Subscriber struct {
	ChatID             int64
	Fiat               catalog.Fiat
	Tracked            []string
	Cadence            catalog.Cadence
	EmergencyOn        bool
	EmergencyThreshold decimal.Decimal
	Active             bool
	CreatedAt          time.Time
}

// Tracks reports whether the subscriber follows the asset.
func (s Subscriber) Tracks(assetID string) bool {
	for _, id := range s.Tracked {
		if id == assetID {
			return true
		}
	}
	return false
}

// ThresholdAlert is a one-shot above/below price trigger. Once fired it
// is removed from working memory and deleted from the store; it never
// re-arms.
type ThresholdAlert struct {
	ID           int64
	ChatID       int64
	AssetID      string
	Direction    Direction
	TriggerPrice decimal.Decimal
	CreatedAt    time.Time
}

// Intent is one notification decided by the evaluator, ready for
// rendering and dispatch.
type Intent struct {
	ChatID       int64
	Kind         Kind
	Asset        catalog.Asset
	Fiat         catalog.Fiat
	Direction    Direction       // threshold only
	TriggerPrice decimal.Decimal // threshold only
	Price        decimal.Decimal
	Percent      decimal.Decimal // 24h change, emergency kinds only
}
