package protocol

import "time"

// OrderStatus is the lifecycle state of a router-tracked order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderSubmitted OrderStatus = "submitted"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Order is a router-tracked order. OrderID is minted locally before the
// connector call; VenueOrderID is recorded once the connector returns one.
// Orders are never deleted; they live in memory for the process lifetime.
type Order struct {
	OrderID      string      `json:"order_id"`
	CommandID    string      `json:"command_id"`
	Venue        string      `json:"venue"`
	MarketID     string      `json:"market_id"`
	Side         string      `json:"side"`
	Action       string      `json:"action,omitempty"`
	Size         float64     `json:"size"`
	OrderType    string      `json:"order_type,omitempty"`
	LimitPrice   *float64    `json:"limit_price,omitempty"`
	Status       OrderStatus `json:"status"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
	FillPrice    *float64    `json:"fill_price,omitempty"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
