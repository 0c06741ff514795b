package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue"
)

type fakeConnector struct {
	name    string
	healthy bool

	placeFn     func(venue.OrderRequest) (venue.OrderResult, error)
	cancelFn    func(string) error
	cancelAllFn func() error

	mu        sync.Mutex
	placed    []venue.OrderRequest
	cancelled []string
}

func newFakeConnector(name string) *fakeConnector {
	return &fakeConnector{name: name, healthy: true}
}

func (f *fakeConnector) Venue() string                    { return f.name }
func (f *fakeConnector) Connect(context.Context) error    { return nil }
func (f *fakeConnector) Disconnect(context.Context) error { return nil }
func (f *fakeConnector) IsHealthy() bool                  { return f.healthy }

func (f *fakeConnector) PlaceOrder(_ context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, req)
	f.mu.Unlock()
	if f.placeFn != nil {
		return f.placeFn(req)
	}
	return venue.OrderResult{OrderID: "venue-1", Status: protocol.OrderSubmitted}, nil
}

func (f *fakeConnector) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(orderID)
	}
	return nil
}

func (f *fakeConnector) CancelAllOrders(context.Context) error {
	if f.cancelAllFn != nil {
		return f.cancelAllFn()
	}
	return nil
}

func (f *fakeConnector) GetPositions(context.Context) ([]protocol.Position, error) {
	return nil, nil
}

func (f *fakeConnector) GetBalance(context.Context) (venue.Balance, error) {
	return venue.Balance{}, nil
}

func (f *fakeConnector) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type recorder struct {
	mu      sync.Mutex
	updates []protocol.OrderUpdate
	errors  []protocol.ErrorReport
}

func (rec *recorder) attach(r *Router) {
	r.OnOrderUpdate(func(u protocol.OrderUpdate) {
		rec.mu.Lock()
		rec.updates = append(rec.updates, u)
		rec.mu.Unlock()
	})
	r.OnError(func(e protocol.ErrorReport) {
		rec.mu.Lock()
		rec.errors = append(rec.errors, e)
		rec.mu.Unlock()
	})
}

func (rec *recorder) errorCodes() []protocol.ErrorCode {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]protocol.ErrorCode, 0, len(rec.errors))
	for _, e := range rec.errors {
		out = append(out, e.Code)
	}
	return out
}

func newTestRouter(t *testing.T) (*Router, *recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(venue.NewRegistry(), clock.NewFake(time.Unix(1700000000, 0)), logger)
	rec := &recorder{}
	rec.attach(r)
	return r, rec
}

func tradeCommand(id, marketID string) protocol.Command {
	return protocol.Command{
		Type:      protocol.CommandTrade,
		ID:        id,
		MarketID:  marketID,
		Venue:     "kalshi",
		Side:      "yes",
		Action:    "buy",
		Size:      10,
		OrderType: protocol.OrderTypeMarket,
	}
}

func TestRouteTradeFilled(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	fill := 0.72
	conn.placeFn = func(req venue.OrderRequest) (venue.OrderResult, error) {
		assert.Equal(t, "M", req.MarketID)
		return venue.OrderResult{OrderID: "venue-42", Status: protocol.OrderFilled, FillPrice: &fill}, nil
	}
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C1", "kalshi:M"))

	require.Len(t, rec.updates, 1)
	u := rec.updates[0]
	assert.Equal(t, protocol.OrderFilled, u.Status)
	assert.Equal(t, "kalshi", u.Venue)
	assert.Equal(t, "kalshi:M", u.MarketID)
	assert.Equal(t, "venue-42", u.VenueOrderID)
	assert.Equal(t, "C1", u.CommandID)
	require.NotNil(t, u.FillPrice)
	assert.Equal(t, 0.72, *u.FillPrice)
	assert.Empty(t, rec.errors)

	order, ok := r.FindByCommandID("C1")
	require.True(t, ok)
	assert.Equal(t, protocol.OrderFilled, order.Status)
	assert.True(t, strings.HasPrefix(order.OrderID, "kalshi-"), order.OrderID)
	assert.Len(t, strings.Split(order.OrderID, "-"), 3)
}

func TestRouteTradeUnknownVenue(t *testing.T) {
	r, rec := newTestRouter(t)
	r.RegisterConnector(newFakeConnector("kalshi"))

	cmd := tradeCommand("C2", "kraken:X")
	cmd.Venue = "kraken"
	r.RouteCommand(context.Background(), cmd)

	assert.Empty(t, rec.updates)
	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeVenueNotFound, rec.errors[0].Code)
	assert.Equal(t, "kraken", rec.errors[0].Venue)
	assert.Equal(t, "C2", rec.errors[0].CommandID)
}

func TestRouteTradeInvalidMarketID(t *testing.T) {
	r, rec := newTestRouter(t)
	r.RegisterConnector(newFakeConnector("kalshi"))

	r.RouteCommand(context.Background(), tradeCommand("C3", "no-colon-here"))

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeInvalidMarketID, rec.errors[0].Code)
	assert.Empty(t, rec.updates)
}

func TestRouteTradeUnhealthyVenue(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	conn.healthy = false
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C4", "kalshi:M"))

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeVenueUnhealthy, rec.errors[0].Code)
	assert.Zero(t, conn.placedCount())
}

func TestRouteTradeWhilePaused(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	r.RegisterConnector(conn)

	r.Pause()
	assert.True(t, r.IsPaused())

	r.RouteCommand(context.Background(), tradeCommand("C5", "kalshi:M"))

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeGatewayPaused, rec.errors[0].Code)
	assert.Equal(t, "C5", rec.errors[0].CommandID)
	assert.Zero(t, conn.placedCount(), "paused trade must not reach the connector")

	r.Resume()
	r.RouteCommand(context.Background(), tradeCommand("C6", "kalshi:M"))
	assert.Equal(t, 1, conn.placedCount())
}

func TestRouteTradePlacementThrows(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	conn.placeFn = func(venue.OrderRequest) (venue.OrderResult, error) {
		return venue.OrderResult{}, errors.New("connection reset")
	}
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C7", "kalshi:M"))

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeOrderPlacementFailed, rec.errors[0].Code)
	assert.Equal(t, "connection reset", rec.errors[0].Message)

	require.Len(t, rec.updates, 1)
	assert.Equal(t, protocol.OrderRejected, rec.updates[0].Status)

	order, ok := r.FindByCommandID("C7")
	require.True(t, ok)
	assert.Equal(t, protocol.OrderRejected, order.Status)
}

func TestRouteTradeRejectedResult(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	conn.placeFn = func(venue.OrderRequest) (venue.OrderResult, error) {
		return venue.OrderResult{Status: protocol.OrderRejected, Error: "INSUFFICIENT_BALANCE"}, nil
	}
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C8", "kalshi:M"))

	require.Len(t, rec.updates, 1)
	assert.Equal(t, protocol.OrderRejected, rec.updates[0].Status)

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeOrderRejected, rec.errors[0].Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", rec.errors[0].Message)
}

func TestRouteCancelSuccess(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	conn.placeFn = func(venue.OrderRequest) (venue.OrderResult, error) {
		return venue.OrderResult{OrderID: "venue-9", Status: protocol.OrderSubmitted}, nil
	}
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C9", "kalshi:M"))
	order, ok := r.FindByCommandID("C9")
	require.True(t, ok)

	r.RouteCommand(context.Background(), protocol.Command{
		Type:    protocol.CommandCancel,
		ID:      "C10",
		OrderID: order.OrderID,
	})

	require.Len(t, rec.updates, 2)
	cancelUpdate := rec.updates[1]
	assert.Equal(t, protocol.OrderCancelled, cancelUpdate.Status)
	assert.Equal(t, "C9", cancelUpdate.CommandID, "cancel update keeps the original trade command id")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.cancelled, 1)
	assert.Equal(t, "venue-9", conn.cancelled[0], "cancel must use the venue order id")
}

func TestRouteCancelFilledOrderRefused(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	fill := 0.55
	conn.placeFn = func(venue.OrderRequest) (venue.OrderResult, error) {
		return venue.OrderResult{OrderID: "venue-20", Status: protocol.OrderFilled, FillPrice: &fill}, nil
	}
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C19", "kalshi:M"))
	order, ok := r.FindByCommandID("C19")
	require.True(t, ok)
	require.Equal(t, protocol.OrderFilled, order.Status)

	r.RouteCommand(context.Background(), protocol.Command{
		Type:    protocol.CommandCancel,
		ID:      "C20",
		OrderID: order.OrderID,
	})

	codes := rec.errorCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, protocol.CodeCancelFailed, codes[0])

	// The executed order keeps its terminal state and no cancelled update
	// goes out.
	got, _ := r.GetOrder(order.OrderID)
	assert.Equal(t, protocol.OrderFilled, got.Status)
	require.Len(t, rec.updates, 1)
	assert.Equal(t, protocol.OrderFilled, rec.updates[0].Status)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.cancelled, "terminal orders never reach the connector")
}

func TestRouteCancelUnknownOrder(t *testing.T) {
	r, rec := newTestRouter(t)
	r.RegisterConnector(newFakeConnector("kalshi"))

	r.RouteCommand(context.Background(), protocol.Command{
		Type:    protocol.CommandCancel,
		ID:      "C11",
		OrderID: "missing",
	})

	require.Len(t, rec.errors, 1)
	assert.Equal(t, protocol.CodeOrderNotFound, rec.errors[0].Code)
	assert.Equal(t, "C11", rec.errors[0].CommandID)
	assert.Empty(t, rec.updates)
}

func TestRouteCancelConnectorFailure(t *testing.T) {
	r, rec := newTestRouter(t)
	conn := newFakeConnector("kalshi")
	conn.cancelFn = func(string) error { return errors.New("rejected by venue") }
	r.RegisterConnector(conn)

	r.RouteCommand(context.Background(), tradeCommand("C12", "kalshi:M"))
	order, _ := r.FindByCommandID("C12")

	r.RouteCommand(context.Background(), protocol.Command{
		Type:    protocol.CommandCancel,
		ID:      "C13",
		OrderID: order.OrderID,
	})

	codes := rec.errorCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, protocol.CodeCancelFailed, codes[0])

	got, _ := r.GetOrder(order.OrderID)
	assert.Equal(t, protocol.OrderSubmitted, got.Status, "failed cancel leaves the order state alone")
}

func TestRouteCancelAll(t *testing.T) {
	r, rec := newTestRouter(t)
	kalshi := newFakeConnector("kalshi")
	poly := newFakeConnector("polymarket")
	poly.cancelAllFn = func() error { return errors.New("venue down") }
	r.RegisterConnector(kalshi)
	r.RegisterConnector(poly)

	r.RouteCommand(context.Background(), tradeCommand("C14", "kalshi:M1"))
	r.RouteCommand(context.Background(), tradeCommand("C15", "kalshi:M2"))

	rec.mu.Lock()
	rec.updates = nil
	rec.mu.Unlock()

	r.RouteCommand(context.Background(), protocol.Command{Type: protocol.CommandCancelAll, ID: "C16"})

	codes := rec.errorCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, protocol.CodeCancelAllFailed, codes[0])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.updates, 2)
	for _, u := range rec.updates {
		assert.Equal(t, protocol.OrderCancelled, u.Status)
	}
	assert.Equal(t, 0, r.OpenOrders())
}

func TestPauseResumeCommands(t *testing.T) {
	r, _ := newTestRouter(t)

	r.RouteCommand(context.Background(), protocol.Command{Type: protocol.CommandPause, ID: "C17"})
	assert.True(t, r.IsPaused())

	r.RouteCommand(context.Background(), protocol.Command{Type: protocol.CommandResume, ID: "C18"})
	assert.False(t, r.IsPaused())
}

func TestConcurrentTradesGetDistinctOrderIDs(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterConnector(newFakeConnector("kalshi"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cmd := tradeCommand("C-conc-"+strconv.Itoa(n), "kalshi:M")
			r.RouteCommand(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	orders := r.GetOrders()
	require.Len(t, orders, 16)
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		assert.False(t, seen[o.OrderID], "duplicate order id %s", o.OrderID)
		seen[o.OrderID] = true
	}
}
