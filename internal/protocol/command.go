// Package protocol defines the wire types exchanged with the relay control
// plane and the public signal stream: inbound commands and control messages,
// outbound reports, and the signal payloads the strategy engine consumes.
//
// Frames are single JSON objects with a "type" discriminator. Unknown types
// are logged and ignored by the receivers, never treated as fatal.
package protocol

import "strings"

// CommandType discriminates inbound control-plane commands.
type CommandType string

const (
	CommandTrade     CommandType = "trade"
	CommandCancel    CommandType = "cancel"
	CommandCancelAll CommandType = "cancel_all"
	CommandPause     CommandType = "pause"
	CommandResume    CommandType = "resume"
)

// Order types accepted on trade commands.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Command is an inbound control-plane message. The relay sends one variant
// per frame; fields beyond Type and ID are populated per variant. Side and
// action are opaque strings passed through to the venue connector.
type Command struct {
	Type   CommandType `json:"type"`
	ID     string      `json:"id"`
	Source string      `json:"source,omitempty"`

	// trade
	MarketID   string   `json:"market_id,omitempty"`
	Venue      string   `json:"venue,omitempty"`
	Side       string   `json:"side,omitempty"`
	Action     string   `json:"action,omitempty"`
	Size       float64  `json:"size,omitempty"`
	OrderType  string   `json:"order_type,omitempty"`
	LimitPrice *float64 `json:"limit_price,omitempty"`

	// cancel
	OrderID string `json:"order_id,omitempty"`
}

// IsCommandType reports whether a frame type names a command variant, as
// opposed to a control message or an unknown frame.
func IsCommandType(t string) bool {
	switch CommandType(t) {
	case CommandTrade, CommandCancel, CommandCancelAll, CommandPause, CommandResume:
		return true
	}
	return false
}

// SplitMarketID splits a colon-joined market id "<venue>:<native_id>" into
// its parts. The native id may itself contain colons; only the first colon
// separates. ok is false when either part is empty or the colon is missing.
func SplitMarketID(marketID string) (venue, nativeID string, ok bool) {
	venue, nativeID, found := strings.Cut(marketID, ":")
	if !found || venue == "" || nativeID == "" {
		return "", "", false
	}
	return venue, nativeID, true
}

// JoinMarketID builds the colon-joined market id from a venue and native id.
func JoinMarketID(venue, nativeID string) string {
	return venue + ":" + nativeID
}

// Control message types sent by the relay server.
const (
	MessagePairingConfirmed = "pairing_confirmed"
	MessagePairingRevoked   = "pairing_revoked"
)

// PairingConfirmed completes the first-time pairing handshake.
type PairingConfirmed struct {
	PairingID      string `json:"pairing_id"`
	RelaySessionID string `json:"relay_session_id,omitempty"`
}

// PairingRevoked tells the gateway its pairing is no longer valid; the client
// disconnects without scheduling a reconnect.
type PairingRevoked struct {
	PairingID string `json:"pairing_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
