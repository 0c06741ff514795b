package signals

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// Script replays a fixed list of raw signal frames through the same emit
// surface as the live consumer. Frames go through the identical decode-and-
// drop rules, so malformed entries behave exactly like malformed stream
// messages. It backs the simulate mode and orchestrator tests.
type Script struct {
	frames   [][]byte
	interval time.Duration
	logger   *slog.Logger

	handlerMu sync.RWMutex
	handlers  []func(protocol.Signal)
}

// NewScript builds a script source that emits one frame per interval. A zero
// interval emits everything back to back.
func NewScript(frames [][]byte, interval time.Duration, logger *slog.Logger) *Script {
	return &Script{
		frames:   frames,
		interval: interval,
		logger:   logger.With(slog.String("component", "signal_script")),
	}
}

// OnSignal registers a handler for decoded signal events.
func (s *Script) OnSignal(fn func(protocol.Signal)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Run replays every frame, then returns. It stops early when the context is
// cancelled.
func (s *Script) Run(ctx context.Context) error {
	for i, raw := range s.frames {
		if i > 0 && s.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.interval):
			}
		}

		sig, ok, err := parseSignal(raw)
		if err != nil {
			s.logger.Warn("invalid scripted frame", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			s.logger.Debug("dropping scripted non-signal frame", slog.Int("index", i))
			continue
		}

		s.handlerMu.RLock()
		handlers := s.handlers
		s.handlerMu.RUnlock()
		for _, fn := range handlers {
			fn(sig)
		}
	}
	return nil
}
