package alert

import (
	"sync"
	"time"
)

// Default dedup and retention windows for emergency alert state.
const (
	DefaultDedupWindow = time.Hour
	DefaultRetention   = 4 * time.Hour
)

type stateKey struct {
	chat  int64
	asset string
	kind  Kind
}

// State remembers the last fire per (subscriber, asset, kind) so a
// sustained crash doesn't re-notify every tick. It lives only in memory;
// losing it on restart merely allows one early re-notification. Shared
// between cadence ticks and the emergency sweep, so access is locked.
type State struct {
	mu        sync.Mutex
	window    time.Duration
	retention time.Duration
	fired     map[stateKey]time.Time
}

// NewState builds the dedup state with the given suppression window and
// retention horizon.
func NewState(window, retention time.Duration) *State {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &State{window: window, retention: retention, fired: make(map[stateKey]time.Time)}
}

// ShouldFire reports whether the condition may notify now, recording the
// fire timestamp when it does. The timestamp is refreshed only on fire,
// never rolled back.
func (s *State) ShouldFire(chatID int64, assetID string, kind Kind, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{chat: chatID, asset: assetID, kind: kind}
	if last, ok := s.fired[key]; ok && now.Sub(last) < s.window {
		return false
	}
	s.fired[key] = now
	return true
}

// Prune drops entries older than the retention horizon and returns how
// many were removed.
func (s *State) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, last := range s.fired {
		if now.Sub(last) >= s.retention {
			delete(s.fired, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of retained entries.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}
