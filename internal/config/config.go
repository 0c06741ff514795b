// Package config defines the top-level configuration for the trading gateway
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PUMPAMP_* environment variables.
type Config struct {
	Relay    RelayConfig            `toml:"relay"`
	Signals  SignalsConfig          `toml:"signals"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Strategy StrategyConfig         `toml:"strategy"`
	Gateway  GatewayConfig          `toml:"gateway"`
	Server   ServerConfig           `toml:"server"`
	Notify   NotifyConfig           `toml:"notify"`
	Log      LogConfig              `toml:"log"`
}

// RelayConfig holds the control-plane connection parameters. Exactly one of
// PairingID (a previous pairing) or PairingCode (first-time pairing) is needed
// to connect.
type RelayConfig struct {
	URL                string `toml:"url"`
	APIKey             string `toml:"api_key"`
	PairingID          string `toml:"pairing_id"`
	PairingCode        string `toml:"pairing_code"`
	HeartbeatSecs      int    `toml:"heartbeat_secs"`
	PairingTimeoutSecs int    `toml:"pairing_timeout_secs"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (r RelayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatSecs) * time.Second
}

// PairingTimeout returns the pairing wait as a duration.
func (r RelayConfig) PairingTimeout() time.Duration {
	return time.Duration(r.PairingTimeoutSecs) * time.Second
}

// SignalsConfig holds the public signal stream subscription.
type SignalsConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           string   `toml:"url"`
	APIKey        string   `toml:"api_key"`
	SignalTypes   []string `toml:"signal_types"`
	Symbols       []string `toml:"symbols"`
	MinConfidence float64  `toml:"min_confidence"`
}

// VenueConfig holds per-venue connector settings. The simulator fields only
// apply to sim-backed venues and are ignored by real adapters.
type VenueConfig struct {
	Enabled      bool    `toml:"enabled"`
	LatencyMs    int     `toml:"latency_ms"`
	FillPrice    float64 `toml:"fill_price"`
	RejectRate   float64 `toml:"reject_rate"`
	OrdersPerSec float64 `toml:"orders_per_sec"`
}

// StrategyConfig points at the separate strategy rule file.
type StrategyConfig struct {
	AutoTradeEnabled bool   `toml:"auto_trade_enabled"`
	ConfigPath       string `toml:"config_path"`
}

// GatewayConfig holds orchestrator settings.
type GatewayConfig struct {
	Version            string `toml:"version"`
	CancelOnShutdown   bool   `toml:"cancel_on_shutdown"`
	HealthIntervalSecs int    `toml:"health_interval_secs"`
}

// HealthInterval returns the venue health poll period as a duration.
func (g GatewayConfig) HealthInterval() time.Duration {
	return time.Duration(g.HealthIntervalSecs) * time.Second
}

// ServerConfig holds the local status server settings. The default address is
// loopback only; exposing the server is a deliberate operator decision.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds operator notification channel settings.
type NotifyConfig struct {
	Enabled          bool     `toml:"enabled"`
	WebhookURL       string   `toml:"webhook_url"`
	TelegramBotToken string   `toml:"telegram_bot_token"`
	TelegramChatID   string   `toml:"telegram_chat_id"`
	Events           []string `toml:"events"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Relay: RelayConfig{
			URL:                "https://relay.pumpamp.com",
			HeartbeatSecs:      15,
			PairingTimeoutSecs: 60,
		},
		Signals: SignalsConfig{
			Enabled: true,
			URL:     "https://api.pumpamp.com",
		},
		Venues: map[string]VenueConfig{
			"sim": {Enabled: true, FillPrice: 0.50},
		},
		Gateway: GatewayConfig{
			Version:            "dev",
			CancelOnShutdown:   true,
			HealthIntervalSecs: 30,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8991",
		},
		Notify: NotifyConfig{
			Events: []string{"hedge_required", "venue_unhealthy", "pairing_revoked"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// validLogLevels enumerates the accepted values for Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Pairing credentials are not
// required here: pair mode supplies a code at runtime, and the relay client
// fails with its own CONFIG error when it has neither.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Relay.URL) == "" {
		errs = append(errs, "relay: url must not be empty")
	}
	if c.Relay.HeartbeatSecs <= 0 {
		errs = append(errs, "relay: heartbeat_secs must be positive")
	}
	if c.Relay.PairingTimeoutSecs <= 0 {
		errs = append(errs, "relay: pairing_timeout_secs must be positive")
	}

	if c.Signals.Enabled && strings.TrimSpace(c.Signals.URL) == "" {
		errs = append(errs, "signals: url must not be empty when enabled")
	}
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("signals: min_confidence must be in [0,1], got %v", c.Signals.MinConfidence))
	}

	for name, v := range c.Venues {
		if v.LatencyMs < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: latency_ms must be >= 0", name))
		}
		if v.FillPrice < 0 || v.FillPrice > 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: fill_price must be in [0,1]", name))
		}
		if v.RejectRate < 0 || v.RejectRate > 1 {
			errs = append(errs, fmt.Sprintf("venues.%s: reject_rate must be in [0,1]", name))
		}
		if v.OrdersPerSec < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: orders_per_sec must be >= 0", name))
		}
	}

	if c.Strategy.AutoTradeEnabled && strings.TrimSpace(c.Strategy.ConfigPath) == "" {
		errs = append(errs, "strategy: config_path is required when auto_trade_enabled")
	}

	if c.Gateway.HealthIntervalSecs <= 0 {
		errs = append(errs, "gateway: health_interval_secs must be positive")
	}

	if c.Server.Enabled && strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, "server: addr must not be empty when enabled")
	}

	if c.Notify.Enabled && c.Notify.WebhookURL == "" && c.Notify.TelegramBotToken == "" {
		errs = append(errs, "notify: at least one channel (webhook_url or telegram_bot_token) is required when enabled")
	}
	if c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_bot_token")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnabledVenues returns the names of enabled venues in stable order.
func (c *Config) EnabledVenues() []string {
	out := make([]string, 0, len(c.Venues))
	for name, v := range c.Venues {
		if v.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
