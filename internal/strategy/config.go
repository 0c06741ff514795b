package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// Config is the strategy engine configuration, loaded from its own TOML file
// (separate from the gateway config).
type Config struct {
	Enabled        bool              `toml:"enabled"`
	DryRun         bool              `toml:"dry_run"`
	Rules          []Rule            `toml:"rules"`
	RiskLimits     RiskLimits        `toml:"risk_limits"`
	MarketMappings map[string]string `toml:"market_mappings"`
}

// RiskLimits are the execution gates applied to every synthesized command.
type RiskLimits struct {
	MaxTradesPerMinute       int     `toml:"max_trades_per_minute"`
	MarketCooldownSeconds    int     `toml:"market_cooldown_seconds"`
	SignalDedupWindowSeconds int     `toml:"signal_dedup_window_seconds"`
	MaxPositionSizePerMarket float64 `toml:"max_position_size_per_market"`
}

// DedupWindow returns the signal dedup window as a duration.
func (r RiskLimits) DedupWindow() time.Duration {
	return time.Duration(r.SignalDedupWindowSeconds) * time.Second
}

// Cooldown returns the per-market cooldown as a duration.
func (r RiskLimits) Cooldown() time.Duration {
	return time.Duration(r.MarketCooldownSeconds) * time.Second
}

// Rule maps a class of signals to a trade action. Filters that are unset
// always pass; rule order in the config file is authoritative, first match
// wins.
type Rule struct {
	Name          string     `toml:"name"`
	Enabled       bool       `toml:"enabled"`
	SignalTypes   []string   `toml:"signal_types"`
	SignalNames   []string   `toml:"signal_names"`
	Venues        []string   `toml:"venues"`
	Symbols       []string   `toml:"symbols"`
	MinConfidence *float64   `toml:"min_confidence"`
	MinSeverity   string     `toml:"min_severity"`
	Directions    []string   `toml:"directions"`
	Action        RuleAction `toml:"action"`
}

// SideFromSignal is the Action.Side value that derives the side from the
// signal's direction at synthesis time.
const SideFromSignal = "from_signal"

// RuleAction describes the trade a matching rule synthesizes.
type RuleAction struct {
	Side                string   `toml:"side"`
	Size                float64  `toml:"size"`
	OrderType           string   `toml:"order_type"`
	LimitPriceOffsetBps *float64 `toml:"limit_price_offset_bps"`
}

// LoadConfig reads and validates a strategy TOML file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("strategy: load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks rule shapes and risk limits.
func (c *Config) Validate() error {
	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if len(r.SignalTypes) == 0 {
			return fmt.Errorf("rule %q: signal_types is required", r.Name)
		}
		if r.Action.Side == "" {
			return fmt.Errorf("rule %q: action.side is required", r.Name)
		}
		if r.Action.Size <= 0 {
			return fmt.Errorf("rule %q: action.size must be positive", r.Name)
		}
		switch r.Action.OrderType {
		case protocol.OrderTypeMarket, protocol.OrderTypeLimit:
		default:
			return fmt.Errorf("rule %q: action.order_type must be market or limit", r.Name)
		}
		if r.MinSeverity != "" && protocol.SeverityRank(r.MinSeverity) == 0 {
			return fmt.Errorf("rule %q: unknown min_severity %q", r.Name, r.MinSeverity)
		}
	}

	if c.RiskLimits.MaxTradesPerMinute < 0 ||
		c.RiskLimits.MarketCooldownSeconds < 0 ||
		c.RiskLimits.SignalDedupWindowSeconds < 0 ||
		c.RiskLimits.MaxPositionSizePerMarket < 0 {
		return fmt.Errorf("risk_limits must be non-negative")
	}

	for canonical, mapped := range c.MarketMappings {
		if _, _, ok := protocol.SplitMarketID(mapped); !ok {
			return fmt.Errorf("market_mappings[%q]: %q is not <venue>:<native_id>", canonical, mapped)
		}
	}

	return nil
}

// resolveMarket maps a signal onto a configured market id, trying the
// canonical symbol first and the signal name second.
func (c *Config) resolveMarket(sig protocol.Signal) (string, bool) {
	if sym := sig.Symbol(); sym != "" {
		if id, ok := c.MarketMappings[sym]; ok {
			return id, true
		}
	}
	if sig.SignalName != "" {
		if id, ok := c.MarketMappings[sig.SignalName]; ok {
			return id, true
		}
	}
	return "", false
}

// normalize lowercases the comparable filter fields once at load time.
func (c *Config) normalize() {
	for i := range c.Rules {
		r := &c.Rules[i]
		for j := range r.Venues {
			r.Venues[j] = strings.ToLower(r.Venues[j])
		}
		for j := range r.Directions {
			r.Directions[j] = strings.ToLower(r.Directions[j])
		}
	}
}
