// Package logging builds the process-wide slog logger and enforces the
// gateway's redaction policy: credential-bearing fields are masked and URL
// values have their query strings stripped before any record reaches the
// underlying handler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces the value of any sensitive field in log output.
const Redacted = "[REDACTED]"

// sensitiveKeys is the exact set of field names whose values are never
// logged. Matching is case-sensitive; both snake_case and camelCase spellings
// are listed because venue payloads use both.
var sensitiveKeys = map[string]bool{
	"PUMPAMP_API_KEY":         true,
	"api_key":                 true,
	"apiKey":                  true,
	"api_secret":              true,
	"apiSecret":               true,
	"authorization":           true,
	"Authorization":           true,
	"x-mbx-apikey":            true,
	"kalshi-access-signature": true,
	"kalshi-access-key":       true,
	"private_key":             true,
	"privateKey":              true,
	"passphrase":              true,
	"signature":               true,
}

// Handler wraps another slog.Handler and redacts sensitive attributes from
// every record before delegating. Group attributes are redacted recursively.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps inner with the redaction policy.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

// Enabled reports whether the wrapped handler handles records at the given level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle rebuilds the record with redacted attributes and forwards it.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs redacts the pre-bound attributes and wraps the resulting handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		redacted = append(redacted, redactAttr(a))
	}
	return &Handler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup wraps the grouped handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}

// redactAttr masks sensitive keys and sanitizes URL-shaped string values.
// Groups are processed member by member.
func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		out := make([]slog.Attr, 0, len(members))
		for _, m := range members {
			out = append(out, redactAttr(m))
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if sensitiveKeys[a.Key] {
		return slog.String(a.Key, Redacted)
	}

	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); strings.Contains(s, "://") {
			return slog.String(a.Key, SanitizeURL(s))
		}
	}

	return a
}

// SanitizeURL strips the query string (which carries credentials on the relay
// and signal endpoints) from a URL. Values that do not parse are returned
// unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" && u.Fragment == "" {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// New builds the process logger: a JSON or text handler at the given level,
// wrapped with the redaction policy. Unknown formats fall back to JSON.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	switch strings.ToLower(format) {
	case "text":
		inner = slog.NewTextHandler(w, opts)
	default:
		inner = slog.NewJSONHandler(w, opts)
	}

	return slog.New(NewHandler(inner))
}

// ParseLevel maps a config log-level string onto a slog.Level. Unknown values
// default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
