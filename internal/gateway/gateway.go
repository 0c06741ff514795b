// Package gateway composes the router, position tracker, relay client,
// signal source and strategy engine into the running process: startup and
// shutdown ordering, state sync on reconnect, health supervision and status
// reporting.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/notify"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/position"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/relay"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/router"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/strategy"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue"
)

// DefaultHealthInterval is the health supervisor's tick.
const DefaultHealthInterval = 30 * time.Second

// Lifecycle failures.
var (
	ErrAlreadyStarted = errors.New("gateway: already started")
	ErrStopped        = errors.New("gateway: stopped")
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// RelayClient is the relay surface the orchestrator drives. *relay.Client
// implements it; tests substitute a fake.
type RelayClient interface {
	Connect(ctx context.Context) error
	Reconnect()
	Close()
	SendReport(report any)
	UpdateStatus(relay.Status)
	IsConnected() bool
	PairingID() string

	OnCommand(fn func(protocol.Command))
	OnConnected(fn func())
	OnDisconnected(fn func())
	OnPairingConfirmed(fn func(protocol.PairingConfirmed))
	OnPairingRevoked(fn func(protocol.PairingRevoked))
}

// SignalSource is the emit surface signals arrive through; both the live
// consumer and the script source satisfy it.
type SignalSource interface {
	OnSignal(fn func(protocol.Signal))
}

// Config holds the orchestrator knobs.
type Config struct {
	Version            string
	CancelOnShutdown   bool
	HealthInterval     time.Duration
	AutoTradeEnabled   bool
	StrategyConfigPath string
}

// Deps are the composed components. Engine is optional: when nil and
// auto-trade is enabled with a config path, Start loads it from disk.
// SignalsClose, when set, disconnects the signal source during shutdown.
type Deps struct {
	Relay        RelayClient
	Router       *router.Router
	Tracker      *position.Tracker
	Registry     *venue.Registry
	Engine       *strategy.Engine
	Signals      SignalSource
	SignalsClose func()
	Notifier     *notify.Notifier
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Gateway is the orchestrator.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	clock    clock.Clock
	relay    RelayClient
	router   *router.Router
	tracker  *position.Tracker
	registry *venue.Registry
	notifier *notify.Notifier
	signals  SignalSource
	sigClose func()

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	engine           *strategy.Engine
	startedAt        time.Time
	healthStop       chan struct{}
	venueConnected   map[string]bool
	venueHealthy     map[string]bool
	strategyOverride string
}

// New builds an orchestrator; Start does the wiring.
func New(cfg Config, deps Deps) *Gateway {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}

	return &Gateway{
		cfg:            cfg,
		logger:         deps.Logger.With(slog.String("component", "gateway")),
		clock:          deps.Clock,
		relay:          deps.Relay,
		router:         deps.Router,
		tracker:        deps.Tracker,
		registry:       deps.Registry,
		notifier:       deps.Notifier,
		signals:        deps.Signals,
		sigClose:       deps.SignalsClose,
		state:          StateStopped,
		engine:         deps.Engine,
		venueConnected: make(map[string]bool),
		venueHealthy:   make(map[string]bool),
	}
}

// State returns the lifecycle state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Start brings the gateway up: wire events, connect venues, connect the
// relay, start health supervision, initialize the strategy engine. A second
// call from any non-stopped state fails with ErrAlreadyStarted. Connector and
// relay failures are logged, never fatal; only invariant violations abort.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateStopped {
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.state = StateStarting
	g.startedAt = g.clock.Now()
	g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(context.Background())

	g.wireRelay()
	g.wirePipeline()

	// Venue connectors: a failed connect is logged and the venue stays
	// registered; the health supervisor keeps watching it.
	for _, conn := range g.registry.All() {
		name := conn.Venue()
		if err := conn.Connect(ctx); err != nil {
			g.logger.Error("venue connect failed",
				slog.String("venue", name),
				slog.String("error", err.Error()))
			g.setVenueConnected(name, false)
		} else {
			g.logger.Info("venue connected", slog.String("venue", name))
			g.setVenueConnected(name, true)
		}
		g.mu.Lock()
		g.venueHealthy[name] = conn.IsHealthy()
		g.mu.Unlock()
	}

	if err := g.relay.Connect(ctx); err != nil {
		if errors.Is(err, relay.ErrConfig) {
			g.mu.Lock()
			g.state = StateStopped
			g.mu.Unlock()
			return fmt.Errorf("gateway: relay: %w", err)
		}
		g.logger.Warn("initial relay connect failed, retrying in background",
			slog.String("error", err.Error()))
		g.relay.Reconnect()
	}

	g.mu.Lock()
	g.healthStop = make(chan struct{})
	stop := g.healthStop
	g.mu.Unlock()
	go g.healthLoop(stop)

	g.initStrategy()

	if g.signals != nil {
		g.signals.OnSignal(g.handleSignal)
	}

	g.mu.Lock()
	g.state = StateRunning
	g.mu.Unlock()

	g.pushRelayStatus()
	g.logger.Info("gateway started", slog.String("version", g.cfg.Version))
	return nil
}

// initStrategy loads the engine from disk when auto-trade is on. A load
// failure is reported through the strategy status, not a start failure.
func (g *Gateway) initStrategy() {
	g.mu.Lock()
	engine := g.engine
	g.mu.Unlock()
	if engine != nil {
		return
	}
	if !g.cfg.AutoTradeEnabled || g.cfg.StrategyConfigPath == "" {
		return
	}

	cfg, err := strategy.LoadConfig(g.cfg.StrategyConfigPath)
	if err != nil {
		g.logger.Error("strategy init failed",
			slog.String("path", g.cfg.StrategyConfigPath),
			slog.String("error", err.Error()))
		g.mu.Lock()
		g.strategyOverride = "error:strategy_init_failed"
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.engine = strategy.New(*cfg, g.tracker, g.clock, g.logger)
	g.mu.Unlock()
	g.logger.Info("strategy engine initialized",
		slog.Int("rules", len(cfg.Rules)),
		slog.Bool("dry_run", cfg.DryRun))
}

// Stop tears the gateway down in order: strategy off, signals detached,
// health timer stopped, optional cancel-all, shutdown report, venues
// disconnected, relay disconnected. Calling Stop from stopped or stopping is
// a no-op. The shutdown report leaves before the relay disconnect.
func (g *Gateway) Stop(ctx context.Context) {
	g.mu.Lock()
	if g.state == StateStopped || g.state == StateStopping {
		g.mu.Unlock()
		return
	}
	g.state = StateStopping
	engine := g.engine
	healthStop := g.healthStop
	g.healthStop = nil
	g.mu.Unlock()

	g.logger.Info("gateway stopping")

	if engine != nil {
		engine.Disable()
	}

	if g.sigClose != nil {
		g.sigClose()
	}

	if healthStop != nil {
		close(healthStop)
	}

	if g.cfg.CancelOnShutdown {
		g.cancelAllVenues(ctx)
	}

	g.maybeSendReport(protocol.NewErrorReport(protocol.CodeGatewayShutdown, "gateway shutting down"))

	for _, conn := range g.registry.All() {
		if err := conn.Disconnect(ctx); err != nil {
			g.logger.Warn("venue disconnect failed",
				slog.String("venue", conn.Venue()),
				slog.String("error", err.Error()))
		}
	}

	g.relay.Close()

	if g.cancel != nil {
		g.cancel()
	}

	g.mu.Lock()
	g.state = StateStopped
	g.mu.Unlock()
	g.logger.Info("gateway stopped")
}

// cancelAllVenues fans out CancelAllOrders with per-venue error isolation.
func (g *Gateway) cancelAllVenues(ctx context.Context) {
	var eg errgroup.Group
	for _, conn := range g.registry.All() {
		eg.Go(func() error {
			if err := conn.CancelAllOrders(ctx); err != nil {
				g.logger.Error("cancel all on shutdown failed",
					slog.String("venue", conn.Venue()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// wireRelay subscribes the orchestrator to relay events.
func (g *Gateway) wireRelay() {
	g.relay.OnCommand(g.handleCommand)
	g.relay.OnConnected(g.syncStateToRelay)
	g.relay.OnDisconnected(func() {
		g.logger.Warn("relay disconnected")
	})
	g.relay.OnPairingConfirmed(func(pc protocol.PairingConfirmed) {
		g.logger.Info("paired with relay", slog.String("pairing_id", pc.PairingID))
	})
	g.relay.OnPairingRevoked(func(pr protocol.PairingRevoked) {
		g.notify("pairing_revoked", "Relay pairing revoked",
			fmt.Sprintf("pairing %s revoked: %s", pr.PairingID, pr.Reason))
	})
}

// wirePipeline forwards router and tracker events to the relay and folds
// fills into the position book.
func (g *Gateway) wirePipeline() {
	g.router.OnOrderUpdate(func(u protocol.OrderUpdate) {
		g.maybeSendReport(u)
		if u.Status == protocol.OrderFilled {
			if order, ok := g.router.GetOrder(u.OrderID); ok {
				g.tracker.ApplyFill(order)
			}
		}
		g.pushRelayStatus()
	})
	g.router.OnError(func(rep protocol.ErrorReport) {
		g.maybeSendReport(rep)
	})
	g.tracker.OnPositionUpdate(func(p protocol.Position) {
		g.maybeSendReport(protocol.NewPositionReport(p))
	})
	g.tracker.OnSettlement(func(s protocol.Settlement) {
		g.maybeSendReport(protocol.NewSettlementReport(s))
	})
}

// handleCommand services one relay command. Pause and resume also gate the
// strategy engine; everything is then forwarded to the router. Routing runs
// off the relay read loop so a slow venue never stalls frame handling.
func (g *Gateway) handleCommand(cmd protocol.Command) {
	g.mu.Lock()
	state := g.state
	engine := g.engine
	g.mu.Unlock()

	if state == StateStopped || state == StateStopping {
		g.maybeSendReport(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeGatewayStopped,
			Message:   "gateway is stopped",
			CommandID: cmd.ID,
		})
		return
	}

	switch cmd.Type {
	case protocol.CommandPause:
		if engine != nil {
			engine.Disable()
		}
		g.mu.Lock()
		g.strategyOverride = "paused"
		g.mu.Unlock()
	case protocol.CommandResume:
		if engine != nil {
			engine.Enable()
		}
		g.mu.Lock()
		g.strategyOverride = ""
		g.mu.Unlock()
	}

	switch cmd.Type {
	case protocol.CommandPause, protocol.CommandResume:
		// Flag flips are synchronous so the pause is in force before the ack
		// leaves.
		g.router.RouteCommand(g.ctx, cmd)
		g.pushRelayStatus()
	default:
		go func() {
			g.router.RouteCommand(g.ctx, cmd)
			g.pushRelayStatus()
		}()
	}
}

// handleSignal runs one signal through the engine and executes whatever it
// synthesizes. Dry-run commands are returned by the engine but never
// injected.
func (g *Gateway) handleSignal(sig protocol.Signal) {
	g.mu.Lock()
	engine := g.engine
	running := g.state == StateRunning
	g.mu.Unlock()

	if engine == nil || !running {
		return
	}

	cmds := engine.HandleSignal(sig)
	if len(cmds) == 0 {
		return
	}
	if engine.DryRun() {
		g.logger.Info("dry run, not executing",
			slog.String("signal_id", sig.ID),
			slog.Int("legs", len(cmds)))
		return
	}

	go g.ExecuteStrategyCommands(cmds, sig.ID)
}

// ExecuteStrategyCommands injects strategy commands in order. Legs route
// sequentially: leg 2 is attempted only after leg 1's outcome is known. A
// failed first leg aborts the pair with ARB_LEG1_FAILED; a failed second leg
// leaves leg 1 unhedged and raises ARB_LEG2_FAILED_HEDGE_REQUIRED for the
// operator. Only successful injections burn rate and cooldown budget.
func (g *Gateway) ExecuteStrategyCommands(cmds []protocol.Command, signalID string) {
	g.mu.Lock()
	engine := g.engine
	g.mu.Unlock()

	pair := len(cmds) == 2

	for i, cmd := range cmds {
		g.router.RouteCommand(g.ctx, cmd)

		order, ok := g.router.FindByCommandID(cmd.ID)
		failed := !ok || order.Status == protocol.OrderRejected
		if !failed {
			if engine != nil {
				engine.RecordExecutedTrade(cmd.MarketID)
			}
			continue
		}

		if !pair {
			g.logger.Warn("strategy command failed",
				slog.String("signal_id", signalID),
				slog.String("command_id", cmd.ID))
			return
		}

		if i == 0 {
			g.maybeSendReport(protocol.ErrorReport{
				Type:      protocol.ReportError,
				Code:      protocol.CodeArbLeg1Failed,
				Message:   fmt.Sprintf("arb leg 1 failed for signal %s, leg 2 aborted", signalID),
				Venue:     cmd.Venue,
				MarketID:  cmd.MarketID,
				CommandID: cmd.ID,
			})
			return
		}

		msg := fmt.Sprintf("arb leg 2 failed for signal %s: leg 1 %s filled, leg 2 %s failed; manual hedge required",
			signalID, cmds[0].ID, cmd.ID)
		g.maybeSendReport(protocol.ErrorReport{
			Type:      protocol.ReportError,
			Code:      protocol.CodeArbLeg2FailedHedgeRequired,
			Message:   msg,
			Venue:     cmd.Venue,
			MarketID:  cmd.MarketID,
			CommandID: cmd.ID,
		})
		g.notify("hedge_required", "Arb leg 2 failed, hedge required", msg)
	}
}

// maybeSendReport forwards a report when the relay is connected and drops it
// silently otherwise.
func (g *Gateway) maybeSendReport(report any) {
	if !g.relay.IsConnected() {
		return
	}
	g.relay.SendReport(report)
}

// notify dispatches an operator notification without blocking the pipeline.
func (g *Gateway) notify(event, title, message string) {
	if g.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.notifier.Notify(ctx, event, title, message); err != nil {
			g.logger.Warn("operator notification failed", slog.String("error", err.Error()))
		}
	}()
}

func (g *Gateway) setVenueConnected(name string, connected bool) {
	g.mu.Lock()
	g.venueConnected[name] = connected
	g.mu.Unlock()
}
