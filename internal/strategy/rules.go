package strategy

import (
	"strings"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// Matches reports whether every present filter on the rule passes for the
// signal. Absent filters always pass.
func (r Rule) Matches(sig protocol.Signal) bool {
	if !r.Enabled {
		return false
	}
	if !contains(r.SignalTypes, sig.SignalType) {
		return false
	}
	if len(r.SignalNames) > 0 && !contains(r.SignalNames, sig.SignalName) {
		return false
	}
	if len(r.Venues) > 0 && !contains(r.Venues, strings.ToLower(sig.Venue)) {
		return false
	}
	if len(r.Symbols) > 0 && !contains(r.Symbols, sig.Symbol()) {
		return false
	}
	if r.MinConfidence != nil && sig.Confidence < *r.MinConfidence {
		return false
	}
	if r.MinSeverity != "" && protocol.SeverityRank(sig.Severity) < protocol.SeverityRank(r.MinSeverity) {
		return false
	}
	if len(r.Directions) > 0 && !contains(r.Directions, strings.ToLower(sig.Direction)) {
		return false
	}
	return true
}

// predictionVenue reports whether a venue trades yes/no outcome contracts
// rather than directional buy/sell instruments.
func predictionVenue(venue string) bool {
	switch strings.ToLower(venue) {
	case "kalshi", "polymarket":
		return true
	}
	return false
}

// deriveSide resolves a rule's side for a trade on the given venue. For
// from_signal the signal's direction decides: long/above map to yes (or buy
// on non-prediction venues), short/below to no (or sell). Neutral and cross
// directions produce no trade.
func deriveSide(action RuleAction, venue, direction string) (string, bool) {
	if action.Side != SideFromSignal {
		return action.Side, true
	}

	switch strings.ToLower(direction) {
	case "long", "above":
		if predictionVenue(venue) {
			return "yes", true
		}
		return "buy", true
	case "short", "below":
		if predictionVenue(venue) {
			return "no", true
		}
		return "sell", true
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
