package protocol

import (
	"strings"
	"time"
)

// Position is an open holding on one market, keyed by (venue, market_id).
// UnrealizedPnL is derived from the current price and never stored
// independently; it is nil while no current price is known.
type Position struct {
	Venue             string     `json:"venue"`
	MarketID          string     `json:"market_id"`
	Side              string     `json:"side"`
	Size              float64    `json:"size"`
	EntryPrice        float64    `json:"entry_price"`
	CurrentPrice      *float64   `json:"current_price,omitempty"`
	UnrealizedPnL     *float64   `json:"unrealized_pnl,omitempty"`
	ContractExpiresAt *time.Time `json:"contract_expires_at,omitempty"`
}

// LongSide reports whether a side string counts as long exposure for P&L.
// Prediction-market "yes" and exchange "buy"/"long" are long; everything else
// is short.
func LongSide(side string) bool {
	switch strings.ToLower(side) {
	case "yes", "buy", "long":
		return true
	}
	return false
}

// Settlement is an immutable record of a market resolving. Adding one removes
// the matching position.
type Settlement struct {
	Venue           string    `json:"venue"`
	MarketID        string    `json:"market_id"`
	Result          string    `json:"result"`
	EntryPrice      float64   `json:"entry_price"`
	SettlementPrice float64   `json:"settlement_price"`
	RealizedPnL     float64   `json:"realized_pnl"`
	Timestamp       time.Time `json:"timestamp"`
}
