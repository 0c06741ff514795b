package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// PositionBook is the read surface the risk gate uses to enforce the
// per-market position cap. The gateway's position tracker satisfies it.
type PositionBook interface {
	GetPosition(venue, marketID string) (protocol.Position, bool)
}

// riskGate enforces the execution limits: a global trades-per-minute budget,
// a per-market cooldown, and an optional per-market position-size cap. The
// ledgers advance only through record, which the orchestrator calls after a
// command actually routed; rejected executions do not burn budget.
type riskGate struct {
	limits RiskLimits
	clock  clock.Clock
	book   PositionBook

	mu        sync.Mutex
	executed  []time.Time
	lastTrade map[string]time.Time
}

func newRiskGate(limits RiskLimits, book PositionBook, clk clock.Clock) *riskGate {
	return &riskGate{
		limits:    limits,
		clock:     clk,
		book:      book,
		lastTrade: make(map[string]time.Time),
	}
}

// check returns a non-nil error describing the first violated limit, or nil
// when the command may execute.
func (g *riskGate) check(cmd protocol.Command) error {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limits.MaxTradesPerMinute > 0 {
		recent := 0
		for _, ts := range g.executed {
			if now.Sub(ts) < time.Minute {
				recent++
			}
		}
		if recent >= g.limits.MaxTradesPerMinute {
			return fmt.Errorf("rate limit: %d trades in the last minute", recent)
		}
	}

	if cooldown := g.limits.Cooldown(); cooldown > 0 {
		if last, ok := g.lastTrade[cmd.MarketID]; ok && now.Sub(last) < cooldown {
			return fmt.Errorf("market %s in cooldown for %s", cmd.MarketID, cooldown-now.Sub(last))
		}
	}

	if max := g.limits.MaxPositionSizePerMarket; max > 0 && g.book != nil {
		// Gross size: the cap compares the existing position's size plus the
		// candidate's, regardless of side.
		held := 0.0
		if venueName, _, ok := protocol.SplitMarketID(cmd.MarketID); ok {
			if p, ok := g.book.GetPosition(venueName, cmd.MarketID); ok {
				held = p.Size
			}
		}
		if held+cmd.Size > max {
			return fmt.Errorf("position cap: %s holds %.2f, adding %.2f exceeds %.2f",
				cmd.MarketID, held, cmd.Size, max)
		}
	}

	return nil
}

// record notes an executed trade in the rate and cooldown ledgers and trims
// rate entries older than a minute.
func (g *riskGate) record(marketID string) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.executed[:0]
	for _, ts := range g.executed {
		if now.Sub(ts) < time.Minute {
			kept = append(kept, ts)
		}
	}
	g.executed = append(kept, now)
	g.lastTrade[marketID] = now
}
