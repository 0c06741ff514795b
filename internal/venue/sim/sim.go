// Package sim provides an in-process venue connector with synthetic fills.
// It backs the simulate CLI mode and the test suite: latency, fill price,
// reject probability and order throughput are all configurable, and tests can
// force the next failure deterministically.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue"
)

// RejectCode is the venue-mapped short code carried on simulated rejections.
const RejectCode = "SIMULATED_REJECT"

// Option configures a simulated connector.
type Option func(*Connector)

// WithLatency sets the artificial delay applied to every order call.
func WithLatency(d time.Duration) Option {
	return func(c *Connector) { c.latency = d }
}

// WithFillPrice sets the price market orders fill at.
func WithFillPrice(p float64) Option {
	return func(c *Connector) { c.fillPrice = p }
}

// WithRejectRate sets the probability in [0,1] that an order is rejected.
func WithRejectRate(r float64) Option {
	return func(c *Connector) { c.rejectRate = r }
}

// WithOrdersPerSec throttles PlaceOrder; orders over the budget fail with
// RATE_LIMITED. Zero disables the limiter.
func WithOrdersPerSec(n float64) Option {
	return func(c *Connector) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// WithBalance sets the reported account balance.
func WithBalance(b float64) Option {
	return func(c *Connector) { c.balance = b }
}

// WithSeed makes the reject roll deterministic.
func WithSeed(seed int64) Option {
	return func(c *Connector) { c.rng = rand.New(rand.NewSource(seed)) }
}

// Connector is a simulated venue. It is safe for concurrent use.
type Connector struct {
	name       string
	latency    time.Duration
	fillPrice  float64
	rejectRate float64
	limiter    *rate.Limiter

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	healthy   bool
	balance   float64
	seq       int64
	nextErr   error
	open      map[string]bool
	positions map[string]*protocol.Position
}

// New builds a simulated connector for the given venue name.
func New(name string, opts ...Option) *Connector {
	c := &Connector{
		name:      name,
		fillPrice: 0.50,
		balance:   10_000,
		healthy:   true,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		open:      make(map[string]bool),
		positions: make(map[string]*protocol.Position),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Venue returns the connector's registry key.
func (c *Connector) Venue() string { return c.name }

// Connect marks the connector connected.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

// Disconnect marks the connector disconnected.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// IsHealthy reports the connector's health flag. It is cheap and never blocks.
func (c *Connector) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// SetHealthy overrides the health flag; used to drive unhealthy-venue paths.
func (c *Connector) SetHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

// FailNextOrder makes the next PlaceOrder return err instead of a result.
func (c *Connector) FailNextOrder(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextErr = err
}

// PlaceOrder fills an order at the configured price after the configured
// latency. Orders beyond the throughput budget fail with RATE_LIMITED; a
// reject roll below the configured rate returns a rejected result.
func (c *Connector) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	c.mu.Lock()
	if c.nextErr != nil {
		err := c.nextErr
		c.nextErr = nil
		c.mu.Unlock()
		return venue.OrderResult{}, err
	}
	if !c.connected {
		c.mu.Unlock()
		return venue.OrderResult{}, fmt.Errorf("sim %s: not connected", c.name)
	}
	reject := c.rejectRate > 0 && c.rng.Float64() < c.rejectRate
	c.mu.Unlock()

	if c.limiter != nil && !c.limiter.Allow() {
		return venue.OrderResult{}, venue.NewError(venue.KindRateLimited, "simulated order rate exceeded")
	}

	if c.latency > 0 {
		select {
		case <-time.After(c.latency):
		case <-ctx.Done():
			return venue.OrderResult{}, ctx.Err()
		}
	}

	if reject {
		return venue.OrderResult{Status: protocol.OrderRejected, Error: RejectCode}, nil
	}

	price := c.fillPrice
	if req.OrderType == protocol.OrderTypeLimit && req.LimitPrice != nil {
		price = *req.LimitPrice
	}

	// Fills are synchronous, so the order is never open: it must not be
	// cancellable afterwards.
	c.mu.Lock()
	c.seq++
	orderID := c.name + "-sim-" + strconv.FormatInt(c.seq, 10)
	c.applyFill(req, price)
	c.mu.Unlock()

	return venue.OrderResult{OrderID: orderID, Status: protocol.OrderFilled, FillPrice: &price}, nil
}

// CancelOrder cancels a previously placed order by its venue order id.
func (c *Connector) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open[orderID] {
		return venue.NewError(venue.KindOrderNotFound, "unknown order "+orderID)
	}
	delete(c.open, orderID)
	return nil
}

// CancelAllOrders drops every open order.
func (c *Connector) CancelAllOrders(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = make(map[string]bool)
	return nil
}

// GetPositions returns the positions accumulated from simulated fills.
func (c *Connector) GetPositions(ctx context.Context) ([]protocol.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out, nil
}

// GetBalance returns the configured account balance.
func (c *Connector) GetBalance(ctx context.Context) (venue.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return venue.Balance{Currency: "USD", Available: c.balance}, nil
}

// applyFill upserts the simulated position for a filled order. Same-side
// fills average the entry price; opposite-side fills reduce and eventually
// close the position. Callers hold c.mu.
func (c *Connector) applyFill(req venue.OrderRequest, price float64) {
	pos, ok := c.positions[req.MarketID]
	if !ok {
		c.positions[req.MarketID] = &protocol.Position{
			Venue:      c.name,
			MarketID:   protocol.JoinMarketID(c.name, req.MarketID),
			Side:       req.Side,
			Size:       req.Size,
			EntryPrice: price,
		}
		return
	}

	if pos.Side == req.Side {
		total := pos.Size*pos.EntryPrice + req.Size*price
		pos.Size += req.Size
		if pos.Size > 0 {
			pos.EntryPrice = total / pos.Size
		}
		return
	}

	pos.Size -= req.Size
	if pos.Size <= 0 {
		delete(c.positions, req.MarketID)
	}
}
