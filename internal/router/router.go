// Package router dispatches control-plane commands to venue connectors and
// owns the order lifecycle state machine. Failures never propagate out as
// errors; every outcome is surfaced as an order_update or error event.
package router

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue"
)

// Router routes commands to registered connectors and tracks every order it
// creates. Orders are kept for the process lifetime; the map is bounded by
// daily command volume.
type Router struct {
	logger   *slog.Logger
	registry *venue.Registry
	clock    clock.Clock

	mu     sync.RWMutex
	orders map[string]*protocol.Order

	paused atomic.Bool

	handlerMu      sync.RWMutex
	updateHandlers []func(protocol.OrderUpdate)
	errorHandlers  []func(protocol.ErrorReport)
}

// New builds a router dispatching through the given registry.
func New(registry *venue.Registry, clk clock.Clock, logger *slog.Logger) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "router")),
		registry: registry,
		clock:    clk,
		orders:   make(map[string]*protocol.Order),
	}
}

// OnOrderUpdate registers a handler for order lifecycle events.
func (r *Router) OnOrderUpdate(fn func(protocol.OrderUpdate)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.updateHandlers = append(r.updateHandlers, fn)
}

// OnError registers a handler for routing failures.
func (r *Router) OnError(fn func(protocol.ErrorReport)) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.errorHandlers = append(r.errorHandlers, fn)
}

// RegisterConnector adds a connector to the dispatch registry.
func (r *Router) RegisterConnector(c venue.Connector) {
	r.registry.Register(c)
}

// IsPaused reports whether new trade commands are being blocked.
func (r *Router) IsPaused() bool { return r.paused.Load() }

// Pause blocks new trade commands. Trades already past the pause check
// complete normally; pause is a soft gate, not a lock.
func (r *Router) Pause() { r.paused.Store(true) }

// Resume lifts the pause gate.
func (r *Router) Resume() { r.paused.Store(false) }

// RouteCommand dispatches one command by variant. It blocks until the
// connector call (if any) completes; outcomes are delivered via handlers.
func (r *Router) RouteCommand(ctx context.Context, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandTrade:
		r.routeTrade(ctx, cmd)
	case protocol.CommandCancel:
		r.routeCancel(ctx, cmd)
	case protocol.CommandCancelAll:
		r.routeCancelAll(ctx, cmd)
	case protocol.CommandPause:
		r.Pause()
		r.logger.Info("routing paused", slog.String("command_id", cmd.ID))
	case protocol.CommandResume:
		r.Resume()
		r.logger.Info("routing resumed", slog.String("command_id", cmd.ID))
	default:
		r.logger.Warn("unknown command type", slog.String("type", string(cmd.Type)), slog.String("command_id", cmd.ID))
	}
}

func (r *Router) routeTrade(ctx context.Context, cmd protocol.Command) {
	if r.paused.Load() {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeGatewayPaused,
			Message:   "gateway is paused",
			CommandID: cmd.ID,
		})
		return
	}

	venueName, nativeID, ok := protocol.SplitMarketID(cmd.MarketID)
	if !ok {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeInvalidMarketID,
			Message:   "market id must be <venue>:<native_id>, got " + strconv.Quote(cmd.MarketID),
			CommandID: cmd.ID,
		})
		return
	}

	conn, found := r.registry.Get(venueName)
	if !found {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeVenueNotFound,
			Message:   "no connector registered for venue " + venueName,
			Venue:     venueName,
			CommandID: cmd.ID,
		})
		return
	}

	if !conn.IsHealthy() {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeVenueUnhealthy,
			Message:   "venue " + venueName + " is unhealthy",
			Venue:     venueName,
			CommandID: cmd.ID,
		})
		return
	}

	order := r.recordPending(cmd, venueName)

	result, err := conn.PlaceOrder(ctx, venue.OrderRequest{
		MarketID:   nativeID,
		Side:       cmd.Side,
		Action:     cmd.Action,
		Size:       cmd.Size,
		OrderType:  cmd.OrderType,
		LimitPrice: cmd.LimitPrice,
	})
	if err != nil {
		rejected := r.transition(order.OrderID, func(o *protocol.Order) {
			o.Status = protocol.OrderRejected
			o.Error = err.Error()
		})
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeOrderPlacementFailed,
			Message:   err.Error(),
			Venue:     venueName,
			CommandID: cmd.ID,
			OrderID:   order.OrderID,
		})
		r.emitOrderUpdate(rejected)
		return
	}

	updated := r.transition(order.OrderID, func(o *protocol.Order) {
		o.Status = result.Status
		o.VenueOrderID = result.OrderID
		o.FillPrice = result.FillPrice
		o.Error = result.Error
	})
	r.emitOrderUpdate(updated)

	if result.Status == protocol.OrderRejected && result.Error != "" {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeOrderRejected,
			Message:   result.Error,
			Venue:     venueName,
			CommandID: cmd.ID,
			OrderID:   order.OrderID,
		})
	}
}

func (r *Router) routeCancel(ctx context.Context, cmd protocol.Command) {
	order, found := r.GetOrder(cmd.OrderID)
	if !found {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeOrderNotFound,
			Message:   "no tracked order " + cmd.OrderID,
			CommandID: cmd.ID,
			OrderID:   cmd.OrderID,
		})
		return
	}

	// Terminal orders cannot be cancelled; a filled order must never be
	// reported cancelled.
	if order.Status.Terminal() {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeCancelFailed,
			Message:   "order " + order.OrderID + " is already " + string(order.Status),
			Venue:     order.Venue,
			CommandID: cmd.ID,
			OrderID:   order.OrderID,
		})
		return
	}

	conn, found := r.registry.Get(order.Venue)
	if !found {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeCancelFailed,
			Message:   "no connector registered for venue " + order.Venue,
			Venue:     order.Venue,
			CommandID: cmd.ID,
			OrderID:   order.OrderID,
		})
		return
	}

	// Cancel by the venue's own id when we have one; fall back to the local id
	// for connectors that echo ours.
	venueOrderID := order.VenueOrderID
	if venueOrderID == "" {
		venueOrderID = order.OrderID
	}

	if err := conn.CancelOrder(ctx, venueOrderID); err != nil {
		r.emitError(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeCancelFailed,
			Message:   err.Error(),
			Venue:     order.Venue,
			CommandID: cmd.ID,
			OrderID:   order.OrderID,
		})
		return
	}

	cancelled := r.transition(order.OrderID, func(o *protocol.Order) {
		o.Status = protocol.OrderCancelled
	})
	// The update keeps the originating trade's command id, not the cancel's.
	r.emitOrderUpdate(cancelled)
}

func (r *Router) routeCancelAll(ctx context.Context, cmd protocol.Command) {
	connectors := r.registry.All()

	// Fan out with per-venue error isolation: each failure becomes its own
	// CANCEL_ALL_FAILED event and never stops the others.
	var g errgroup.Group
	for _, conn := range connectors {
		g.Go(func() error {
			if err := conn.CancelAllOrders(ctx); err != nil {
				r.emitError(protocol.ErrorReport{
					Type:      protocol.ReportError,
					Code:      protocol.CodeCancelAllFailed,
					Message:   err.Error(),
					Venue:     conn.Venue(),
					CommandID: cmd.ID,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, open := range r.openOrdersSnapshot() {
		cancelled := r.transition(open.OrderID, func(o *protocol.Order) {
			o.Status = protocol.OrderCancelled
		})
		r.emitOrderUpdate(cancelled)
	}
}

// recordPending mints a unique order id and stores the order in pending
// state. Millisecond epoch plus a random suffix makes collisions negligible;
// the loop regenerates on the off chance anyway.
func (r *Router) recordPending(cmd protocol.Command, venueName string) protocol.Order {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for {
		id = venueName + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:6]
		if _, exists := r.orders[id]; !exists {
			break
		}
	}

	order := &protocol.Order{
		OrderID:    id,
		CommandID:  cmd.ID,
		Venue:      venueName,
		MarketID:   cmd.MarketID,
		Side:       cmd.Side,
		Action:     cmd.Action,
		Size:       cmd.Size,
		OrderType:  cmd.OrderType,
		LimitPrice: cmd.LimitPrice,
		Status:     protocol.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.orders[id] = order
	return *order
}

// transition applies fn to a tracked order under the lock and returns the
// updated copy.
func (r *Router) transition(orderID string, fn func(*protocol.Order)) protocol.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return protocol.Order{OrderID: orderID}
	}
	fn(o)
	o.UpdatedAt = r.clock.Now()
	return *o
}

// GetOrder returns a copy of a tracked order.
func (r *Router) GetOrder(orderID string) (protocol.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return protocol.Order{}, false
	}
	return *o, true
}

// FindByCommandID returns the order created for a command id, if any.
func (r *Router) FindByCommandID(commandID string) (protocol.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.CommandID == commandID {
			return *o, true
		}
	}
	return protocol.Order{}, false
}

// GetOrders returns every tracked order, oldest first.
func (r *Router) GetOrders() []protocol.Order {
	r.mu.RLock()
	out := make([]protocol.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// OpenOrders counts orders still in a non-terminal state.
func (r *Router) OpenOrders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if !o.Status.Terminal() {
			n++
		}
	}
	return n
}

func (r *Router) openOrdersSnapshot() []protocol.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Order, 0)
	for _, o := range r.orders {
		if o.Status == protocol.OrderPending || o.Status == protocol.OrderSubmitted {
			out = append(out, *o)
		}
	}
	return out
}

func (r *Router) emitOrderUpdate(o protocol.Order) {
	update := protocol.NewOrderUpdate(o)

	r.handlerMu.RLock()
	handlers := r.updateHandlers
	r.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(update)
	}

	r.logger.Debug("order update",
		slog.String("order_id", o.OrderID),
		slog.String("status", string(o.Status)),
		slog.String("venue", o.Venue))
}

func (r *Router) emitError(rep protocol.ErrorReport) {
	r.handlerMu.RLock()
	handlers := r.errorHandlers
	r.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(rep)
	}

	r.logger.Warn("routing error",
		slog.String("code", string(rep.Code)),
		slog.String("message", rep.Message),
		slog.String("command_id", rep.CommandID))
}
