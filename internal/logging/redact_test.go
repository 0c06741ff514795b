package logging

import (
	"bytes"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRecord(t *testing.T, log func(l *slog.Logger)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))
	log(logger)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	keys := []string{
		"PUMPAMP_API_KEY",
		"api_key",
		"apiKey",
		"api_secret",
		"apiSecret",
		"authorization",
		"Authorization",
		"x-mbx-apikey",
		"kalshi-access-signature",
		"kalshi-access-key",
		"private_key",
		"privateKey",
		"passphrase",
		"signature",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			rec := captureRecord(t, func(l *slog.Logger) {
				l.Info("connect", slog.String(key, "super-secret"))
			})
			assert.Equal(t, Redacted, rec[key])
		})
	}
}

func TestHandlerKeepsBenignAttrs(t *testing.T) {
	rec := captureRecord(t, func(l *slog.Logger) {
		l.Info("routed", slog.String("venue", "kalshi"), slog.Int("count", 3))
	})

	assert.Equal(t, "kalshi", rec["venue"])
	assert.Equal(t, float64(3), rec["count"])
}

func TestHandlerStripsURLQueries(t *testing.T) {
	rec := captureRecord(t, func(l *slog.Logger) {
		l.Info("dialing", slog.String("url", "wss://relay.pumpamp.com/api/v1/relay?api_key=abc&pairing_id=p1"))
	})

	assert.Equal(t, "wss://relay.pumpamp.com/api/v1/relay", rec["url"])
}

func TestHandlerRedactsGroupMembers(t *testing.T) {
	rec := captureRecord(t, func(l *slog.Logger) {
		l.Info("auth", slog.Group("venue",
			slog.String("name", "kalshi"),
			slog.String("api_key", "k-123"),
		))
	})

	group, ok := rec["venue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kalshi", group["name"])
	assert.Equal(t, Redacted, group["api_key"])
}

func TestHandlerRedactsPreBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil))).With(
		slog.String("api_secret", "s-456"),
	)
	logger.Info("started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, Redacted, rec["api_secret"])
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips query", "https://api.kalshi.com/orders?api_key=secret", "https://api.kalshi.com/orders"},
		{"strips fragment", "https://example.com/path#token=abc", "https://example.com/path"},
		{"no query untouched", "wss://relay.pumpamp.com/api/v1/relay", "wss://relay.pumpamp.com/api/v1/relay"},
		{"unparseable returned as-is", "://not a url", "://not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeURL(tt.in))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
