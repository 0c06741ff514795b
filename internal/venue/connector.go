// Package venue defines the contract every venue adapter implements and the
// registry the order router dispatches through. Adapters own their native
// REST/WebSocket clients, credentials and timeouts; the gateway core only
// sees this surface.
package venue

import (
	"context"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// OrderRequest is the order handed to a connector. MarketID is the venue's
// native id; the router strips the "<venue>:" prefix before calling.
type OrderRequest struct {
	MarketID   string
	Side       string
	Action     string
	Size       float64
	OrderType  string
	LimitPrice *float64
}

// OrderResult is a connector's answer to PlaceOrder. On rejected, Error
// carries a venue-mapped short code.
type OrderResult struct {
	OrderID   string
	Status    protocol.OrderStatus
	FillPrice *float64
	Error     string
}

// Balance is a venue account balance snapshot.
type Balance struct {
	Currency  string
	Available float64
}

// Connector is the uniform surface a venue adapter implements. IsHealthy
// must be cheap and non-blocking; any background probing is internal to the
// adapter. Connectors are expected to be safe for concurrent use.
type Connector interface {
	// Venue returns the adapter's lowercase registry key.
	Venue() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CancelOrder cancels by the venue's own order id.
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) error

	GetPositions(ctx context.Context) ([]protocol.Position, error)
	GetBalance(ctx context.Context) (Balance, error)

	IsHealthy() bool
}
