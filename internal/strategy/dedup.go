package strategy

import (
	"sync"
	"time"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
)

// dedup drops signals whose id was already processed within the window.
// Expired entries are pruned opportunistically so the ledger stays bounded
// without a dedicated timer.
type dedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	window    time.Duration
	clock     clock.Clock
	lastPrune time.Time
}

func newDedup(window time.Duration, clk clock.Clock) *dedup {
	return &dedup{
		seen:      make(map[string]time.Time),
		window:    window,
		clock:     clk,
		lastPrune: clk.Now(),
	}
}

// isDuplicate reports whether the signal id was seen within the window. A
// fresh (or expired) id is recorded with the current time and reported as
// new. A zero window disables dedup entirely.
func (d *dedup) isDuplicate(signalID string) bool {
	if d.window <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if last, ok := d.seen[signalID]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[signalID] = now

	if now.Sub(d.lastPrune) >= d.window {
		for id, ts := range d.seen {
			if now.Sub(ts) >= d.window {
				delete(d.seen, id)
			}
		}
		d.lastPrune = now
	}

	return false
}
