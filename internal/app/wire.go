package app

import (
	"context"
	"time"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/gateway"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/notify"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/position"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/relay"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/router"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/server"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/signals"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/venue/sim"
)

// Dependencies bundles everything the application modes need to operate.
// ConnectSignals is nil when no live signal stream is configured; Script is
// nil outside simulate mode.
type Dependencies struct {
	Gateway        *gateway.Gateway
	Relay          *relay.Client
	Registry       *venue.Registry
	Server         *server.Server
	Script         *signals.Script
	ConnectSignals func(context.Context) error
}

// wire constructs all concrete dependency implementations from the
// configuration. With simulate set, venues are simulator connectors tuned
// from [venues.<name>] and the signal source is the built-in script instead
// of the live stream.
func (a *App) wire(simulate bool) *Dependencies {
	cfg := a.cfg
	logger := a.logger
	clk := clock.System{}

	registry := venue.NewRegistry()
	for _, name := range cfg.EnabledVenues() {
		vc := cfg.Venues[name]
		opts := []sim.Option{
			sim.WithLatency(time.Duration(vc.LatencyMs) * time.Millisecond),
			sim.WithRejectRate(vc.RejectRate),
			sim.WithOrdersPerSec(vc.OrdersPerSec),
		}
		if vc.FillPrice > 0 {
			opts = append(opts, sim.WithFillPrice(vc.FillPrice))
		}
		registry.Register(sim.New(name, opts...))
	}

	rt := router.New(registry, clk, logger)
	tracker := position.NewTracker()

	relayClient := relay.New(relay.Config{
		Endpoint:          cfg.Relay.URL,
		APIKey:            cfg.Relay.APIKey,
		PairingID:         cfg.Relay.PairingID,
		PairingCode:       cfg.Relay.PairingCode,
		Version:           cfg.Gateway.Version,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval(),
		PairingTimeout:    cfg.Relay.PairingTimeout(),
	}, clk, logger)
	a.onClose(relayClient.Close)

	notifier := a.buildNotifier()

	var (
		source         gateway.SignalSource
		sourceClose    func()
		connectSignals func(context.Context) error
		script         *signals.Script
	)
	switch {
	case simulate:
		script = signals.NewScript(simulatedSignalFrames(clk.Now()), 2*time.Second, logger)
		source = script
	case cfg.Signals.Enabled:
		consumer := signals.NewConsumer(signals.Config{
			Endpoint:      cfg.Signals.URL,
			APIKey:        cfg.Signals.APIKey,
			SignalTypes:   cfg.Signals.SignalTypes,
			Symbols:       cfg.Signals.Symbols,
			MinConfidence: cfg.Signals.MinConfidence,
		}, logger)
		source = consumer
		sourceClose = consumer.Close
		connectSignals = consumer.Connect
	}

	gw := gateway.New(gateway.Config{
		Version:            cfg.Gateway.Version,
		CancelOnShutdown:   cfg.Gateway.CancelOnShutdown,
		HealthInterval:     cfg.Gateway.HealthInterval(),
		AutoTradeEnabled:   cfg.Strategy.AutoTradeEnabled,
		StrategyConfigPath: cfg.Strategy.ConfigPath,
	}, gateway.Deps{
		Relay:        relayClient,
		Router:       rt,
		Tracker:      tracker,
		Registry:     registry,
		Signals:      source,
		SignalsClose: sourceClose,
		Notifier:     notifier,
		Clock:        clk,
		Logger:       logger,
	})

	deps := &Dependencies{
		Gateway:        gw,
		Relay:          relayClient,
		Registry:       registry,
		Script:         script,
		ConnectSignals: connectSignals,
	}

	if cfg.Server.Enabled {
		deps.Server = server.New(server.Config{Addr: cfg.Server.Addr}, gw, logger)
	}

	return deps
}

// buildNotifier assembles the operator notification fan-out from config.
// Returns a notifier with no senders when notifications are disabled, so
// callers never need a nil check.
func (a *App) buildNotifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.Enabled {
		if a.cfg.Notify.WebhookURL != "" {
			senders = append(senders, notify.NewWebhookSender(a.cfg.Notify.WebhookURL))
		}
		if a.cfg.Notify.TelegramBotToken != "" {
			senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramBotToken, a.cfg.Notify.TelegramChatID))
		}
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}
