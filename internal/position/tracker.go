// Package position tracks open positions per (venue, market) and records
// settlements. Unrealized P&L is recomputed on every update; it is long
//-signed for yes/buy/long sides and negated otherwise.
package position

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// Tracker holds positions keyed by (venue, market_id) and an append-only
// settlement log. Handlers are invoked outside the tracker's lock.
type Tracker struct {
	mu          sync.RWMutex
	positions   map[string]protocol.Position
	settlements []protocol.Settlement

	handlerMu      sync.RWMutex
	updateHandlers []func(protocol.Position)
	removeHandlers []func(protocol.Position)
	settleHandlers []func(protocol.Settlement)
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]protocol.Position)}
}

// OnPositionUpdate registers a handler for upserted positions.
func (t *Tracker) OnPositionUpdate(fn func(protocol.Position)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.updateHandlers = append(t.updateHandlers, fn)
}

// OnPositionRemoved registers a handler for explicitly removed positions.
func (t *Tracker) OnPositionRemoved(fn func(protocol.Position)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.removeHandlers = append(t.removeHandlers, fn)
}

// OnSettlement registers a handler for recorded settlements.
func (t *Tracker) OnSettlement(fn func(protocol.Settlement)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.settleHandlers = append(t.settleHandlers, fn)
}

func key(venue, marketID string) string {
	return venue + "|" + marketID
}

// UpdatePosition upserts a position and recomputes its unrealized P&L from
// the current price. P&L stays nil while no current price is known.
func (t *Tracker) UpdatePosition(p protocol.Position) {
	p.UnrealizedPnL = unrealizedPnL(p)

	t.mu.Lock()
	t.positions[key(p.Venue, p.MarketID)] = p
	t.mu.Unlock()

	t.handlerMu.RLock()
	handlers := t.updateHandlers
	t.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(p)
	}
}

// ApplyFill folds a filled order into the position book: same-side fills grow
// the position at a volume-weighted entry price, opposite-side fills net it
// down (never below zero). The merged position is then upserted.
func (t *Tracker) ApplyFill(o protocol.Order) {
	if o.FillPrice == nil {
		return
	}

	t.mu.RLock()
	existing, ok := t.positions[key(o.Venue, o.MarketID)]
	t.mu.RUnlock()

	p := protocol.Position{
		Venue:      o.Venue,
		MarketID:   o.MarketID,
		Side:       o.Side,
		Size:       o.Size,
		EntryPrice: *o.FillPrice,
	}

	if ok {
		if existing.Side == o.Side {
			prev := decimal.NewFromFloat(existing.Size).Mul(decimal.NewFromFloat(existing.EntryPrice))
			add := decimal.NewFromFloat(o.Size).Mul(decimal.NewFromFloat(*o.FillPrice))
			size := existing.Size + o.Size
			p.Size = size
			if size > 0 {
				p.EntryPrice, _ = prev.Add(add).Div(decimal.NewFromFloat(size)).Float64()
			}
		} else {
			p.Side = existing.Side
			p.EntryPrice = existing.EntryPrice
			p.Size = existing.Size - o.Size
			if p.Size < 0 {
				p.Size = 0
			}
		}
		p.CurrentPrice = existing.CurrentPrice
		p.ContractExpiresAt = existing.ContractExpiresAt
	}

	t.UpdatePosition(p)
}

// GetPosition looks up one position.
func (t *Tracker) GetPosition(venue, marketID string) (protocol.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[key(venue, marketID)]
	return p, ok
}

// GetPositions returns every position ordered by venue then market id.
func (t *Tracker) GetPositions() []protocol.Position {
	t.mu.RLock()
	out := make([]protocol.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out
}

// Count returns the number of open positions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// RemovePosition deletes a position and notifies removal handlers. Removing
// an absent key is a no-op.
func (t *Tracker) RemovePosition(venue, marketID string) {
	t.mu.Lock()
	p, ok := t.positions[key(venue, marketID)]
	if ok {
		delete(t.positions, key(venue, marketID))
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	t.handlerMu.RLock()
	handlers := t.removeHandlers
	t.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(p)
	}
}

// AddSettlement appends to the settlement log, deletes the matching position
// if one exists, and notifies settlement handlers.
func (t *Tracker) AddSettlement(s protocol.Settlement) {
	t.mu.Lock()
	t.settlements = append(t.settlements, s)
	delete(t.positions, key(s.Venue, s.MarketID))
	t.mu.Unlock()

	t.handlerMu.RLock()
	handlers := t.settleHandlers
	t.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}
}

// Settlements returns a copy of the settlement log in insertion order.
func (t *Tracker) Settlements() []protocol.Settlement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.Settlement, len(t.settlements))
	copy(out, t.settlements)
	return out
}

// unrealizedPnL computes (current − entry) · size, negated for short sides.
// Returns nil when no current price is known.
func unrealizedPnL(p protocol.Position) *float64 {
	if p.CurrentPrice == nil {
		return nil
	}

	diff := decimal.NewFromFloat(*p.CurrentPrice).Sub(decimal.NewFromFloat(p.EntryPrice))
	pnl := diff.Mul(decimal.NewFromFloat(p.Size))
	if !protocol.LongSide(p.Side) {
		pnl = pnl.Neg()
	}

	v, _ := pnl.Float64()
	return &v
}
