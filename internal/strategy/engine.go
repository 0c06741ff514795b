// Package strategy turns public signals into trade commands: rule matching,
// dedup/rate/cooldown risk gates, and single- or two-leg command synthesis.
package strategy

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// arbCutoffFallback is subtracted from window_end_utc when an arbitrage
// signal carries no explicit cutoff.
const arbCutoffFallback = 15 * time.Second

// superHedgeStrategy marks arb payloads that open two complementary outcome
// positions instead of a directional buy/sell pair.
const superHedgeStrategy = "super_hedge"

// Engine evaluates signals against the configured rules and synthesizes
// trade commands. It never executes anything itself; the orchestrator injects
// the returned commands and reports back through RecordExecutedTrade.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	enabled atomic.Bool
	dedup   *dedup
	risk    *riskGate

	signalsReceived atomic.Int64
	tradesGenerated atomic.Int64
	dryRunTrades    atomic.Int64

	handlerMu      sync.RWMutex
	dryRunHandlers []func(protocol.Command)
}

// New builds an engine from a validated config. The position book backs the
// per-market size cap and may be nil when that limit is unset.
func New(cfg Config, book PositionBook, clk clock.Clock, logger *slog.Logger) *Engine {
	cfg.normalize()

	e := &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy")),
		clock:  clk,
		dedup:  newDedup(cfg.RiskLimits.DedupWindow(), clk),
		risk:   newRiskGate(cfg.RiskLimits, book, clk),
	}
	e.enabled.Store(cfg.Enabled)
	return e
}

// OnDryRunTrade registers a handler for commands synthesized in dry-run mode.
func (e *Engine) OnDryRunTrade(fn func(protocol.Command)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.dryRunHandlers = append(e.dryRunHandlers, fn)
}

// Enable turns signal handling on.
func (e *Engine) Enable() { e.enabled.Store(true) }

// Disable turns signal handling off; HandleSignal returns nil while disabled.
func (e *Engine) Disable() { e.enabled.Store(false) }

// IsEnabled reports whether the engine is handling signals.
func (e *Engine) IsEnabled() bool { return e.enabled.Load() }

// DryRun reports whether synthesized commands are for inspection only.
func (e *Engine) DryRun() bool { return e.cfg.DryRun }

// Status summarizes the engine for heartbeats.
func (e *Engine) Status() string {
	switch {
	case !e.enabled.Load():
		return "disabled"
	case e.cfg.DryRun:
		return "dry_run"
	default:
		return "active"
	}
}

// Metrics returns the engine counters for the heartbeat payload.
func (e *Engine) Metrics() map[string]int64 {
	return map[string]int64{
		"signals_received": e.signalsReceived.Load(),
		"trades_generated": e.tradesGenerated.Load(),
		"dry_run_trades":   e.dryRunTrades.Load(),
		"rules_loaded":     int64(len(e.cfg.Rules)),
	}
}

// RecordExecutedTrade updates the rate and cooldown ledgers. The orchestrator
// calls it only after a command routed successfully, so failed executions do
// not burn cooldowns.
func (e *Engine) RecordExecutedTrade(marketID string) {
	e.risk.record(marketID)
}

// HandleSignal evaluates one signal. It returns nil, a single command, or an
// arbitrage pair that must be injected in order. In dry-run mode commands are
// still returned; the caller is responsible for not executing them.
func (e *Engine) HandleSignal(sig protocol.Signal) []protocol.Command {
	if !e.enabled.Load() {
		return nil
	}

	e.signalsReceived.Add(1)
	now := e.clock.Now()

	if sig.ExpiresAt != nil && !sig.ExpiresAt.After(now) {
		e.logger.Debug("dropping stale signal", slog.String("signal_id", sig.ID))
		return nil
	}

	if e.dedup.isDuplicate(sig.ID) {
		e.logger.Debug("dropping duplicate signal", slog.String("signal_id", sig.ID))
		return nil
	}

	rule, ok := e.matchRule(sig)
	if !ok {
		return nil
	}

	var commands []protocol.Command
	if sig.SignalType == protocol.SignalTypeArbitrage {
		if arb, ok := protocol.ArbitragePayloadOf(sig.Payload); ok {
			commands = e.buildArbPair(sig, rule, arb, now)
		} else {
			commands = e.buildSingle(sig, rule)
		}
	} else {
		commands = e.buildSingle(sig, rule)
	}
	if len(commands) == 0 {
		return nil
	}

	// Both legs of a pair must clear the gates; one failure rejects the pair.
	for _, cmd := range commands {
		if err := e.risk.check(cmd); err != nil {
			e.logger.Info("risk gate rejected signal",
				slog.String("signal_id", sig.ID),
				slog.String("rule", rule.Name),
				slog.String("reason", err.Error()))
			return nil
		}
	}

	if e.cfg.DryRun {
		e.dryRunTrades.Add(int64(len(commands)))
		e.handlerMu.RLock()
		handlers := e.dryRunHandlers
		e.handlerMu.RUnlock()
		for _, cmd := range commands {
			for _, fn := range handlers {
				fn(cmd)
			}
		}
		e.logger.Info("dry-run trade",
			slog.String("signal_id", sig.ID),
			slog.String("rule", rule.Name),
			slog.Int("legs", len(commands)))
		return commands
	}

	e.tradesGenerated.Add(int64(len(commands)))
	e.logger.Info("trade synthesized",
		slog.String("signal_id", sig.ID),
		slog.String("rule", rule.Name),
		slog.Int("legs", len(commands)))
	return commands
}

// matchRule returns the first enabled rule whose filters all pass. Rule order
// is authoritative.
func (e *Engine) matchRule(sig protocol.Signal) (Rule, bool) {
	for _, rule := range e.cfg.Rules {
		if rule.Matches(sig) {
			return rule, true
		}
	}
	return Rule{}, false
}

// buildSingle synthesizes one trade from the rule's action and the market
// mappings. Unmapped signals are dropped.
func (e *Engine) buildSingle(sig protocol.Signal, rule Rule) []protocol.Command {
	marketID, ok := e.cfg.resolveMarket(sig)
	if !ok {
		e.logger.Debug("no market mapping for signal",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol()))
		return nil
	}

	venueName, _, ok := protocol.SplitMarketID(marketID)
	if !ok {
		return nil
	}

	side, ok := deriveSide(rule.Action, venueName, sig.Direction)
	if !ok {
		e.logger.Debug("signal direction produces no trade",
			slog.String("signal_id", sig.ID),
			slog.String("direction", sig.Direction))
		return nil
	}

	cmd := protocol.Command{
		Type:      protocol.CommandTrade,
		ID:        mintCommandID(),
		Source:    "strategy",
		MarketID:  marketID,
		Venue:     venueName,
		Side:      side,
		Action:    side,
		Size:      rule.Action.Size,
		OrderType: rule.Action.OrderType,
	}

	if rule.Action.OrderType == protocol.OrderTypeLimit && rule.Action.LimitPriceOffsetBps != nil {
		if base, ok := sig.PayloadPrice(); ok {
			cmd.LimitPrice = offsetPrice(base, *rule.Action.LimitPriceOffsetBps)
		}
	}

	return []protocol.Command{cmd}
}

// buildArbPair synthesizes the two legs of a cross-venue arbitrage. Signals
// past their cutoff are dropped; without an explicit cutoff the window end
// minus 15 s applies.
func (e *Engine) buildArbPair(sig protocol.Signal, rule Rule, arb *protocol.ArbitragePayload, now time.Time) []protocol.Command {
	cutoff := arb.SignalCutoffUTC
	if cutoff == nil && arb.WindowEndUTC != nil {
		c := arb.WindowEndUTC.Add(-arbCutoffFallback)
		cutoff = &c
	}
	if cutoff != nil && !now.Before(*cutoff) {
		e.logger.Info("dropping arbitrage signal past cutoff",
			slog.String("signal_id", sig.ID),
			slog.Time("cutoff", *cutoff))
		return nil
	}

	buyVenue := strings.ToLower(arb.BuyVenue)
	sellVenue := strings.ToLower(arb.SellVenue)

	leg := func(venueName, nativeID, side, action string, price decimal.Decimal) protocol.Command {
		cmd := protocol.Command{
			Type:      protocol.CommandTrade,
			ID:        mintCommandID(),
			Source:    "strategy",
			MarketID:  protocol.JoinMarketID(venueName, nativeID),
			Venue:     venueName,
			Side:      side,
			Action:    action,
			Size:      rule.Action.Size,
			OrderType: rule.Action.OrderType,
		}
		if rule.Action.OrderType == protocol.OrderTypeLimit && !price.IsZero() {
			p, _ := price.Round(2).Float64()
			cmd.LimitPrice = &p
		}
		return cmd
	}

	if strings.EqualFold(arb.Strategy, superHedgeStrategy) && arb.BuyOutcome != "" && arb.SellOutcome != "" {
		return []protocol.Command{
			leg(buyVenue, arb.BuyMarketID, arb.BuyOutcome, "open", arb.BuyPrice),
			leg(sellVenue, arb.SellMarketID, arb.SellOutcome, "open", arb.SellPrice),
		}
	}

	return []protocol.Command{
		leg(buyVenue, arb.BuyMarketID, "buy", "buy", arb.BuyPrice),
		leg(sellVenue, arb.SellMarketID, "sell", "sell", arb.SellPrice),
	}
}

// offsetPrice applies a basis-point offset to a base price, rounded to two
// decimal places.
func offsetPrice(base decimal.Decimal, bps float64) *float64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10_000)))
	v, _ := base.Mul(factor).Round(2).Float64()
	return &v
}

func mintCommandID() string {
	return "strat-" + uuid.NewString()
}
