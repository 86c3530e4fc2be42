package market

import "sync"

// DefaultHistory is the per-asset ring capacity. On overflow the ring is
// trimmed to half, keeping the newest entries.
const DefaultHistory = 50

// Cache keeps the latest quote per asset plus a short history ring used
// to compute deltas between ticks. Losing it costs one "no baseline"
// cycle, nothing more, so it is never persisted. Safe for concurrent
// use: cadence ticks and the emergency sweep both write to it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	rings    map[string][]Quote
}

// NewCache builds a cache with the given per-asset ring capacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Cache{capacity: capacity, rings: make(map[string][]Quote)}
}

// Update appends a quote for its asset and trims the ring on overflow.
// Per-asset timestamps stay monotone: an update carrying an older
// timestamp than the latest entry (interleaved ticks fetching the same
// truth) is clamped forward before being appended.
func (c *Cache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.rings[q.AssetID]
	if n := len(ring); n > 0 && q.Timestamp.Before(ring[n-1].Timestamp) {
		q.Timestamp = ring[n-1].Timestamp
	}
	ring = append(ring, q)
	if len(ring) > c.capacity {
		keep := c.capacity / 2
		ring = append(ring[:0:0], ring[len(ring)-keep:]...)
	}
	c.rings[q.AssetID] = ring
}

// Latest returns the most recent quote for the asset.
func (c *Cache) Latest(assetID string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.rings[assetID]
	if len(ring) == 0 {
		return Quote{}, false
	}
	return ring[len(ring)-1], true
}

// Previous returns the quote preceding the latest one. A false result
// means no baseline exists yet and delta-based alerts must be skipped
// for this asset.
func (c *Cache) Previous(assetID string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.rings[assetID]
	if len(ring) < 2 {
		return Quote{}, false
	}
	return ring[len(ring)-2], true
}

// History returns the asset's retained quotes, oldest first.
func (c *Cache) History(assetID string) []Quote {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.rings[assetID]
	out := make([]Quote, len(ring))
	copy(out, ring)
	return out
}
