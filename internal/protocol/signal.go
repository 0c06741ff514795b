package protocol

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// SignalTypeArbitrage marks cross-venue arbitrage alerts, which the strategy
// engine expands into a two-leg command pair.
const SignalTypeArbitrage = "cross_venue_arbitrage"

// Signal is one event from the public signal stream. Frames lacking both an
// id and a signal_type are not signals and are dropped by the consumer.
// Payload carries provider-specific fields; prices inside it are decimal
// strings parsed at the edge.
type Signal struct {
	ID            string         `json:"id"`
	SignalType    string         `json:"signal_type"`
	SignalName    string         `json:"signal_name,omitempty"`
	Venue         string         `json:"venue,omitempty"`
	BaseCurrency  string         `json:"base_currency,omitempty"`
	QuoteCurrency string         `json:"quote_currency,omitempty"`
	Direction     string         `json:"direction,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Symbol returns the canonical "<base>/<quote>" pair, or "" when either leg
// is missing.
func (s Signal) Symbol() string {
	if s.BaseCurrency == "" || s.QuoteCurrency == "" {
		return ""
	}
	return s.BaseCurrency + "/" + s.QuoteCurrency
}

// SeverityRank orders severities Low < Medium < High < Critical. Unknown or
// empty severities rank below Low, so a signal without a severity never
// passes a min-severity filter.
func SeverityRank(severity string) int {
	switch strings.ToLower(severity) {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	case "critical":
		return 4
	}
	return 0
}

// PayloadPrice extracts the first usable base price from a signal payload,
// checking current_price, trigger_price, price, yes_price and last_price in
// that order. Values may be JSON numbers or decimal strings.
func (s Signal) PayloadPrice() (decimal.Decimal, bool) {
	for _, key := range []string{"current_price", "trigger_price", "price", "yes_price", "last_price"} {
		raw, ok := s.Payload[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return decimal.NewFromFloat(v), true
		case string:
			d, err := decimal.NewFromString(v)
			if err == nil {
				return d, true
			}
		case json.Number:
			d, err := decimal.NewFromString(v.String())
			if err == nil {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}

// ArbitragePayload is the payload of a cross-venue arbitrage alert. Prices
// travel as decimal strings.
type ArbitragePayload struct {
	BuyVenue        string          `json:"buy_venue"`
	SellVenue       string          `json:"sell_venue"`
	BuyMarketID     string          `json:"buy_market_id"`
	SellMarketID    string          `json:"sell_market_id"`
	BuyPrice        decimal.Decimal `json:"buy_price"`
	SellPrice       decimal.Decimal `json:"sell_price"`
	Strategy        string          `json:"strategy,omitempty"`
	BuyOutcome      string          `json:"buy_outcome,omitempty"`
	SellOutcome     string          `json:"sell_outcome,omitempty"`
	SignalCutoffUTC *time.Time      `json:"signal_cutoff_utc,omitempty"`
	WindowEndUTC    *time.Time      `json:"window_end_utc,omitempty"`
}

// ArbitragePayloadOf decodes the arbitrage fields from a signal payload.
// ok is false unless both venues and both market ids are present; callers
// fall back to the single-leg path in that case.
func ArbitragePayloadOf(payload map[string]any) (*ArbitragePayload, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var p ArbitragePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if p.BuyVenue == "" || p.SellVenue == "" || p.BuyMarketID == "" || p.SellMarketID == "" {
		return nil, false
	}
	return &p, true
}

// SubscribeRequest is the single frame sent on the signal stream after each
// connect.
type SubscribeRequest struct {
	Type          string   `json:"type"`
	SignalTypes   []string `json:"signal_types"`
	Symbols       []string `json:"symbols"`
	MinConfidence float64  `json:"min_confidence"`
}

// NewSubscribeRequest builds the subscribe frame.
func NewSubscribeRequest(signalTypes, symbols []string, minConfidence float64) SubscribeRequest {
	return SubscribeRequest{
		Type:          "subscribe",
		SignalTypes:   signalTypes,
		Symbols:       symbols,
		MinConfidence: minConfidence,
	}
}
