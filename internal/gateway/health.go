package gateway

import (
	"fmt"
	"log/slog"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// healthLoop polls connector health on a fixed interval until stopped.
func (g *Gateway) healthLoop(stop chan struct{}) {
	ticker := g.clock.NewTicker(g.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			g.checkVenueHealth()
		case <-stop:
			return
		}
	}
}

// checkVenueHealth compares each connector's current health against the
// previous tick. A healthy-to-unhealthy transition raises a VENUE_UNHEALTHY
// report and an operator notification; recovery is logged and reflected in
// the next heartbeat. Repeat unhealthy ticks stay quiet.
func (g *Gateway) checkVenueHealth() {
	changed := false

	for _, conn := range g.registry.All() {
		name := conn.Venue()
		healthy := conn.IsHealthy()

		g.mu.Lock()
		was, known := g.venueHealthy[name]
		g.venueHealthy[name] = healthy
		g.mu.Unlock()

		if known && was == healthy {
			continue
		}
		changed = true

		if !healthy {
			g.logger.Warn("venue unhealthy", slog.String("venue", name))
			g.maybeSendReport(protocol.ErrorReport{
				Type:    protocol.ReportError,
				Code:    protocol.CodeVenueUnhealthy,
				Message: "venue " + name + " became unhealthy",
				Venue:   name,
			})
			g.notify("venue_unhealthy", "Venue unhealthy",
				fmt.Sprintf("venue %s failed its health check", name))
		} else if known {
			g.logger.Info("venue recovered", slog.String("venue", name))
		}
	}

	if changed {
		g.pushRelayStatus()
	}
}
