package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PUMPAMP_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is empty;
// defaults plus env overrides apply. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PUMPAMP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Relay ──
	setStr(&cfg.Relay.URL, "PUMPAMP_RELAY_URL")
	setStr(&cfg.Relay.APIKey, "PUMPAMP_API_KEY")
	setStr(&cfg.Relay.PairingID, "PUMPAMP_PAIRING_ID")
	setStr(&cfg.Relay.PairingCode, "PUMPAMP_PAIRING_CODE")
	setInt(&cfg.Relay.HeartbeatSecs, "PUMPAMP_RELAY_HEARTBEAT_SECS")
	setInt(&cfg.Relay.PairingTimeoutSecs, "PUMPAMP_RELAY_PAIRING_TIMEOUT_SECS")

	// ── Signals ──
	setBool(&cfg.Signals.Enabled, "PUMPAMP_SIGNALS_ENABLED")
	setStr(&cfg.Signals.URL, "PUMPAMP_SIGNALS_URL")
	setStr(&cfg.Signals.APIKey, "PUMPAMP_SIGNALS_API_KEY")
	setStringSlice(&cfg.Signals.SignalTypes, "PUMPAMP_SIGNALS_TYPES")
	setStringSlice(&cfg.Signals.Symbols, "PUMPAMP_SIGNALS_SYMBOLS")
	setFloat64(&cfg.Signals.MinConfidence, "PUMPAMP_SIGNALS_MIN_CONFIDENCE")

	// ── Strategy ──
	setBool(&cfg.Strategy.AutoTradeEnabled, "PUMPAMP_STRATEGY_AUTO_TRADE_ENABLED")
	setStr(&cfg.Strategy.ConfigPath, "PUMPAMP_STRATEGY_CONFIG_PATH")

	// ── Gateway ──
	setStr(&cfg.Gateway.Version, "PUMPAMP_GATEWAY_VERSION")
	setBool(&cfg.Gateway.CancelOnShutdown, "PUMPAMP_GATEWAY_CANCEL_ON_SHUTDOWN")
	setInt(&cfg.Gateway.HealthIntervalSecs, "PUMPAMP_GATEWAY_HEALTH_INTERVAL_SECS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PUMPAMP_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "PUMPAMP_SERVER_ADDR")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "PUMPAMP_NOTIFY_ENABLED")
	setStr(&cfg.Notify.WebhookURL, "PUMPAMP_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramBotToken, "PUMPAMP_NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PUMPAMP_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "PUMPAMP_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Level, "PUMPAMP_LOG_LEVEL")
	setStr(&cfg.Log.Format, "PUMPAMP_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
