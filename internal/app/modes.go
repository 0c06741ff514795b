package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// shutdownTimeout bounds the graceful teardown of the orchestrator and the
// status server once the run context is cancelled.
const shutdownTimeout = 15 * time.Second

// runMode starts the orchestrator and its satellites and blocks until the
// context is cancelled. With simulate set, venues are simulators and signals
// come from the built-in script.
func (a *App) runMode(ctx context.Context, simulate bool) error {
	deps := a.wire(simulate)

	if err := deps.Gateway.Start(ctx); err != nil {
		return fmt.Errorf("app: start gateway: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if deps.Server != nil {
		g.Go(deps.Server.Start)
	}

	if deps.ConnectSignals != nil {
		g.Go(func() error {
			a.keepSignalsConnected(gctx, deps.ConnectSignals)
			return nil
		})
	}

	if deps.Script != nil {
		g.Go(func() error {
			if err := deps.Script.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		deps.Gateway.Stop(stopCtx)
		if deps.Server != nil {
			if err := deps.Server.Shutdown(stopCtx); err != nil {
				a.logger.Warn("server shutdown failed", slog.String("error", err.Error()))
			}
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// keepSignalsConnected dials the live signal stream, retrying failed initial
// connects. Once connected, the consumer's own reconnect loop takes over.
func (a *App) keepSignalsConnected(ctx context.Context, connect func(context.Context) error) {
	for {
		err := connect(ctx)
		if err == nil {
			return
		}
		a.logger.Warn("signal stream connect failed, retrying",
			slog.String("error", err.Error()))

		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// pairMode performs a one-shot pairing handshake and prints the confirmed
// pairing id for the operator to persist.
func (a *App) pairMode(ctx context.Context) error {
	deps := a.wire(false)

	id, err := deps.Relay.Pair(ctx)
	if err != nil {
		return fmt.Errorf("app: pairing failed: %w", err)
	}

	a.logger.Info("pairing complete", slog.String("pairing_id", id))
	fmt.Println(id)
	return nil
}

// simulatedSignalFrames is the script replayed in simulate mode: a couple of
// directional signals and a cross-venue arbitrage alert with a live window.
func simulatedSignalFrames(now time.Time) [][]byte {
	windowEnd := now.Add(5 * time.Minute)

	frames := []any{
		protocol.Signal{
			ID:            "sim-whale-1",
			SignalType:    "whale_move",
			SignalName:    "btc_whale_accumulation",
			BaseCurrency:  "BTC",
			QuoteCurrency: "USD",
			Direction:     "long",
			Confidence:    0.92,
			Severity:      "high",
			Payload:       map[string]any{"current_price": "0.55"},
		},
		protocol.Signal{
			ID:            "sim-alert-1",
			SignalType:    "price_alert",
			SignalName:    "eth_breakout",
			BaseCurrency:  "ETH",
			QuoteCurrency: "USD",
			Direction:     "above",
			Confidence:    0.80,
			Severity:      "medium",
			Payload:       map[string]any{"trigger_price": "0.61"},
		},
		protocol.Signal{
			ID:         "sim-arb-1",
			SignalType: protocol.SignalTypeArbitrage,
			Confidence: 0.88,
			Severity:   "high",
			Payload: map[string]any{
				"buy_venue":      "sim",
				"sell_venue":     "sim",
				"buy_market_id":  "btc-above-100k",
				"sell_market_id": "btc-below-100k",
				"buy_price":      "0.42",
				"sell_price":     "0.58",
				"window_end_utc": windowEnd.UTC().Format(time.RFC3339),
			},
		},
	}

	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		raw, err := json.Marshal(f)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
