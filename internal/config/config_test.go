package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15, cfg.Relay.HeartbeatSecs)
	assert.Equal(t, 60, cfg.Relay.PairingTimeoutSecs)
	assert.Equal(t, 30, cfg.Gateway.HealthIntervalSecs)
	assert.Equal(t, "127.0.0.1:8991", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[relay]
url = "https://relay.example.com"
pairing_id = "P-42"

[signals]
signal_types = ["whale_move", "arbitrage"]
min_confidence = 0.7

[venues.sim]
enabled = true
fill_price = 0.35
latency_ms = 20

[venues.paper]
enabled = false

[gateway]
version = "2.0.0"
cancel_on_shutdown = false

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://relay.example.com", cfg.Relay.URL)
	assert.Equal(t, "P-42", cfg.Relay.PairingID)
	assert.Equal(t, 15, cfg.Relay.HeartbeatSecs)

	assert.Equal(t, []string{"whale_move", "arbitrage"}, cfg.Signals.SignalTypes)
	assert.Equal(t, 0.7, cfg.Signals.MinConfidence)

	require.Contains(t, cfg.Venues, "sim")
	assert.Equal(t, 0.35, cfg.Venues["sim"].FillPrice)
	assert.Equal(t, 20, cfg.Venues["sim"].LatencyMs)
	assert.Equal(t, []string{"sim"}, cfg.EnabledVenues())

	assert.Equal(t, "2.0.0", cfg.Gateway.Version)
	assert.False(t, cfg.Gateway.CancelOnShutdown)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[relay]
url = "https://relay.example.com"
api_key = "from-file"
`)

	t.Setenv("PUMPAMP_API_KEY", "from-env")
	t.Setenv("PUMPAMP_RELAY_URL", "https://relay.env.example.com")
	t.Setenv("PUMPAMP_PAIRING_CODE", "ABC123")
	t.Setenv("PUMPAMP_SIGNALS_TYPES", "whale_move, price_alert")
	t.Setenv("PUMPAMP_GATEWAY_CANCEL_ON_SHUTDOWN", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Relay.APIKey)
	assert.Equal(t, "https://relay.env.example.com", cfg.Relay.URL)
	assert.Equal(t, "ABC123", cfg.Relay.PairingCode)
	assert.Equal(t, []string{"whale_move", "price_alert"}, cfg.Signals.SignalTypes)
	assert.False(t, cfg.Gateway.CancelOnShutdown)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Relay.URL, cfg.Relay.URL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty relay url", func(c *Config) { c.Relay.URL = "" }, "relay: url"},
		{"zero heartbeat", func(c *Config) { c.Relay.HeartbeatSecs = 0 }, "heartbeat_secs"},
		{"signals url missing", func(c *Config) { c.Signals.URL = "" }, "signals: url"},
		{"confidence out of range", func(c *Config) { c.Signals.MinConfidence = 1.5 }, "min_confidence"},
		{"reject rate out of range", func(c *Config) {
			c.Venues["sim"] = VenueConfig{Enabled: true, RejectRate: 2}
		}, "reject_rate"},
		{"auto trade without path", func(c *Config) { c.Strategy.AutoTradeEnabled = true }, "config_path"},
		{"zero health interval", func(c *Config) { c.Gateway.HealthIntervalSecs = 0 }, "health_interval_secs"},
		{"server addr missing", func(c *Config) { c.Server.Addr = "" }, "server: addr"},
		{"notify enabled without channel", func(c *Config) { c.Notify.Enabled = true }, "notify: at least one channel"},
		{"telegram without chat id", func(c *Config) { c.Notify.TelegramBotToken = "tok" }, "telegram_chat_id"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log: unknown level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log: unknown format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
