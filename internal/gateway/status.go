package gateway

import (
	"log/slog"
	"sort"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/relay"
)

// VenueStatus is one venue's slice of the status snapshot.
type VenueStatus struct {
	Connected bool `json:"connected"`
	Healthy   bool `json:"healthy"`
}

// Status is the gateway snapshot rendered by the local status endpoint.
type Status struct {
	State          State                  `json:"state"`
	RelayConnected bool                   `json:"relayConnected"`
	PairingID      string                 `json:"pairingId,omitempty"`
	Venues         map[string]VenueStatus `json:"venues"`
	OpenOrders     int                    `json:"openOrders"`
	OpenPositions  int                    `json:"openPositions"`
	UptimeSeconds  int64                  `json:"uptimeSeconds"`
}

// Status returns a point-in-time snapshot of the gateway.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	state := g.state
	startedAt := g.startedAt
	venues := make(map[string]VenueStatus, len(g.venueConnected))
	for name, connected := range g.venueConnected {
		venues[name] = VenueStatus{Connected: connected, Healthy: g.venueHealthy[name]}
	}
	g.mu.Unlock()

	var uptime int64
	if !startedAt.IsZero() && state != StateStopped {
		uptime = int64(g.clock.Now().Sub(startedAt).Seconds())
	}

	return Status{
		State:          state,
		RelayConnected: g.relay.IsConnected(),
		PairingID:      g.relay.PairingID(),
		Venues:         venues,
		OpenOrders:     g.router.OpenOrders(),
		OpenPositions:  g.tracker.Count(),
		UptimeSeconds:  uptime,
	}
}

// strategyStatus resolves the heartbeat's strategy_status field. Operator
// pause and init failures override whatever the engine reports.
func (g *Gateway) strategyStatus() string {
	g.mu.Lock()
	override := g.strategyOverride
	engine := g.engine
	g.mu.Unlock()

	if override != "" {
		return override
	}
	if engine == nil {
		return "disabled"
	}
	return engine.Status()
}

// pushRelayStatus refreshes the live counters the relay client folds into its
// heartbeats.
func (g *Gateway) pushRelayStatus() {
	g.mu.Lock()
	engine := g.engine
	connected := make([]string, 0, len(g.venueConnected))
	for name, ok := range g.venueConnected {
		if ok && g.venueHealthy[name] {
			connected = append(connected, name)
		}
	}
	g.mu.Unlock()
	sort.Strings(connected)

	status := relay.Status{
		StrategyStatus:  g.strategyStatus(),
		ConnectedVenues: connected,
		OpenOrders:      g.router.OpenOrders(),
		OpenPositions:   g.tracker.Count(),
	}
	if engine != nil {
		status.StrategyMetrics = engine.Metrics()
	}
	g.relay.UpdateStatus(status)
}

// syncStateToRelay replays current state after a (re)connect: every open
// position goes out again, and venues currently unhealthy are re-reported so
// the control plane never acts on a stale picture.
func (g *Gateway) syncStateToRelay() {
	g.logger.Info("relay connected, syncing state")

	for _, p := range g.tracker.GetPositions() {
		g.maybeSendReport(protocol.NewPositionReport(p))
	}

	g.mu.Lock()
	unhealthy := make([]string, 0)
	for name, healthy := range g.venueHealthy {
		if !healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	g.mu.Unlock()

	for _, name := range unhealthy {
		g.maybeSendReport(protocol.ErrorReport{
			Type:    protocol.ReportError,
			Code:    protocol.CodeVenueUnhealthy,
			Message: "venue " + name + " is unhealthy",
			Venue:   name,
		})
	}

	g.pushRelayStatus()
	g.logger.Debug("state sync complete", slog.Int("positions", g.tracker.Count()))
}
