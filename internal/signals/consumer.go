// Package signals consumes the public signal stream and forwards decoded
// signal events into the strategy pipeline. A script source with the same
// surface replays canned signals for tests and the simulate mode.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/logging"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/relay"
)

// SignalsPath is the public signal stream path.
const SignalsPath = "/api/v1/public/ws/signals"

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	dialTimeout = 15 * time.Second

	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// ErrClosed is returned by Connect after the consumer has been shut down.
var ErrClosed = errors.New("signals: consumer closed")

// Source is the emit surface the orchestrator consumes signals through. Both
// the live Consumer and the Script source implement it.
type Source interface {
	OnSignal(fn func(protocol.Signal))
}

// Config parameterizes a signal stream subscription. The subscribe frame is
// re-sent on every (re)connect.
type Config struct {
	Endpoint      string
	APIKey        string
	SignalTypes   []string
	Symbols       []string
	MinConfidence float64
}

// Consumer subscribes to the public signal WebSocket and emits each
// well-formed signal to its handlers. Frames that are not signals (missing id
// or signal_type) and invalid JSON are dropped, never fatal.
type Consumer struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	closed       bool
	reconnecting bool

	backoffMu sync.Mutex
	backoff   *backoff.ExponentialBackOff

	done chan struct{}

	handlerMu sync.RWMutex
	handlers  []func(protocol.Signal)
}

// NewConsumer builds a consumer for the configured endpoint.
func NewConsumer(cfg Config, logger *slog.Logger) *Consumer {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialReconnectDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = maxReconnectDelay
	bo.Reset()

	return &Consumer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "signals")),
		backoff: bo,
		done:    make(chan struct{}),
	}
}

// OnSignal registers a handler for decoded signal events.
func (c *Consumer) OnSignal(fn func(protocol.Signal)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Connect dials the signal stream and sends the subscribe frame. The read
// loop keeps running in the background and reconnects on drops.
func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	target, err := relay.WebSocketURL(c.cfg.Endpoint, SignalsPath, q)
	if err != nil {
		return fmt.Errorf("signals: build url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("signals: dial %s: %w", logging.SanitizeURL(target), err)
	}

	c.backoffMu.Lock()
	c.backoff.Reset()
	c.backoffMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := protocol.NewSubscribeRequest(c.cfg.SignalTypes, c.cfg.Symbols, c.cfg.MinConfidence)
	if err := c.writeJSON(conn, sub); err != nil {
		conn.Close()
		return fmt.Errorf("signals: subscribe: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("signal stream open", slog.String("url", logging.SanitizeURL(target)))
	return nil
}

// Close shuts down the consumer and disables reconnection. Safe to call more
// than once.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

func (c *Consumer) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Consumer) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame decodes one stream message. Objects lacking an id or a
// signal_type are not signals and are dropped quietly.
func (c *Consumer) handleFrame(raw []byte) {
	sig, ok, err := parseSignal(raw)
	if err != nil {
		c.logger.Warn("invalid signal frame", slog.String("error", err.Error()))
		return
	}
	if !ok {
		c.logger.Debug("dropping non-signal message")
		return
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(sig)
	}
}

func (c *Consumer) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	reconnect := !c.closed && !c.reconnecting
	if reconnect {
		c.reconnecting = true
	}
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("signal stream lost", slog.String("error", cause.Error()))

	if reconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop redials with the same backoff shape as the relay client and
// re-sends the subscribe frame on each open (Connect does both).
func (c *Consumer) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.backoffMu.Lock()
		delay := c.backoff.NextBackOff()
		c.backoffMu.Unlock()
		if delay == backoff.Stop || delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Warn("signal reconnect failed", slog.String("error", err.Error()))
	}
}

func (c *Consumer) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// parseSignal decodes a stream frame. ok is false for well-formed JSON that
// is not a signal (missing id or signal_type).
func parseSignal(raw []byte) (protocol.Signal, bool, error) {
	var sig protocol.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return protocol.Signal{}, false, err
	}
	if sig.ID == "" || sig.SignalType == "" {
		return protocol.Signal{}, false, nil
	}
	return sig, true, nil
}
