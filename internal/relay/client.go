// Package relay implements the client side of the control-plane WebSocket:
// connection lifecycle, the pairing handshake, heartbeat, exponential-backoff
// reconnect, outbound report framing and at-most-once command acknowledgement.
package relay

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

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/logging"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

const (
	// RelayPath is the relay endpoint path on the control plane.
	RelayPath = "/api/v1/relay"

	// DefaultHeartbeatInterval is how often a connected client reports liveness.
	DefaultHeartbeatInterval = 15 * time.Second

	// DefaultPairingTimeout bounds the one-shot Pair flow.
	DefaultPairingTimeout = 60 * time.Second

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// dialTimeout bounds each reconnect attempt's handshake.
	dialTimeout = 15 * time.Second

	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// Sentinel failures surfaced by the connect and pair flows.
var (
	ErrConfig           = errors.New("relay: either pairing_id or pairing_code is required")
	ErrPairingTimeout   = errors.New("relay: pairing timed out")
	ErrAlreadyConnected = errors.New("relay: already connected")
	ErrClosed           = errors.New("relay: client closed")
)

// State is the relay client's connection state.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
)

// Status is the gateway-side payload the orchestrator pushes for heartbeats.
// The client owns the heartbeat timer; the orchestrator owns the data.
type Status struct {
	StrategyStatus  string
	ConnectedVenues []string
	OpenOrders      int
	OpenPositions   int
	StrategyMetrics map[string]int64
}

// Config parameterizes a relay client. Exactly one of PairingID (reconnect)
// or PairingCode (first-time pairing) must be set before Connect.
type Config struct {
	Endpoint    string
	APIKey      string
	PairingID   string
	PairingCode string
	Version     string

	// HeartbeatInterval and PairingTimeout default to 15 s and 60 s; they are
	// overridable for tests only.
	HeartbeatInterval time.Duration
	PairingTimeout    time.Duration
}

// Client is the relay WebSocket client. All exported methods are safe for
// concurrent use.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	clock     clock.Clock
	startedAt time.Time

	mu              sync.Mutex
	state           State
	conn            *websocket.Conn
	pairingID       string
	shouldReconnect bool
	closed          bool
	heartbeatStop   chan struct{}
	reconnecting    bool

	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	backoffMu sync.Mutex
	backoff   *backoff.ExponentialBackOff

	statusMu sync.RWMutex
	status   Status

	pairedOnce sync.Once
	pairedCh   chan struct{}

	done chan struct{}

	handlerMu         sync.RWMutex
	commandHandlers   []func(protocol.Command)
	connectedHandlers []func()
	disconnHandlers   []func()
	confirmedHandlers []func(protocol.PairingConfirmed)
	revokedHandlers   []func(protocol.PairingRevoked)
}

// New builds a relay client. The clock drives the heartbeat timer so tests
// can advance it manually.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = DefaultPairingTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialReconnectDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = maxReconnectDelay
	bo.Reset()

	return &Client{
		cfg:             cfg,
		logger:          logger.With(slog.String("component", "relay")),
		clock:           clk,
		startedAt:       clk.Now(),
		state:           StateDisconnected,
		pairingID:       cfg.PairingID,
		shouldReconnect: true,
		backoff:         bo,
		pairedCh:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// OnCommand registers a handler for inbound command frames. Handlers run
// before the ack is sent.
func (c *Client) OnCommand(fn func(protocol.Command)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.commandHandlers = append(c.commandHandlers, fn)
}

// OnConnected registers a handler invoked each time the client reaches
// CONNECTED.
func (c *Client) OnConnected(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.connectedHandlers = append(c.connectedHandlers, fn)
}

// OnDisconnected registers a handler invoked on each transition to
// DISCONNECTED.
func (c *Client) OnDisconnected(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.disconnHandlers = append(c.disconnHandlers, fn)
}

// OnPairingConfirmed registers a handler for the pairing handshake result.
func (c *Client) OnPairingConfirmed(fn func(protocol.PairingConfirmed)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.confirmedHandlers = append(c.confirmedHandlers, fn)
}

// OnPairingRevoked registers a handler for server-side pairing revocation.
func (c *Client) OnPairingRevoked(fn func(protocol.PairingRevoked)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.revokedHandlers = append(c.revokedHandlers, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is fully paired and connected.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// PairingID returns the stored pairing id, empty before first confirmation.
// Once set it never changes for the process lifetime.
func (c *Client) PairingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingID
}

// UpdateStatus replaces the heartbeat payload data.
func (c *Client) UpdateStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// connectURL builds the dial URL. The query carries credentials and must
// never be logged unsanitized.
func (c *Client) connectURL() (string, error) {
	c.mu.Lock()
	pairingID := c.pairingID
	c.mu.Unlock()

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	switch {
	case pairingID != "":
		q.Set("pairing_id", pairingID)
	case c.cfg.PairingCode != "":
		q.Set("pairing_code", c.cfg.PairingCode)
	default:
		return "", ErrConfig
	}

	return WebSocketURL(c.cfg.Endpoint, RelayPath, q)
}

// Connect opens the relay WebSocket. With a known pairing id the client goes
// straight to CONNECTED; with only a pairing code it waits in
// AWAITING_PAIRING for the server's pairing_confirmed. It fails with
// ErrConfig when neither is available.
func (c *Client) Connect(ctx context.Context) error {
	target, err := c.connectURL()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("relay: dial %s: %w", logging.SanitizeURL(target), err)
	}

	// Reaching open resets the backoff, regardless of pairing outcome:
	// flapping dials back off, a working connection that drops retries fast.
	c.backoffMu.Lock()
	c.backoff.Reset()
	c.backoffMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	stop := make(chan struct{})
	c.heartbeatStop = stop
	paired := c.pairingID != ""
	if paired {
		c.state = StateConnected
	} else {
		c.state = StateAwaitingPairing
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn, stop)
	go c.heartbeatLoop(stop)

	c.logger.Info("relay socket open",
		slog.String("url", logging.SanitizeURL(target)),
		slog.Bool("paired", paired))

	if paired {
		c.emitConnected()
	}
	return nil
}

// Pair runs the one-shot pairing flow: connect with the pairing code, wait
// for pairing_confirmed, and return the pairing id for the caller to store.
// Fails with ErrPairingTimeout after the configured window.
func (c *Client) Pair(ctx context.Context) (string, error) {
	if id := c.PairingID(); id != "" {
		return id, nil
	}
	if err := c.Connect(ctx); err != nil {
		return "", err
	}

	timeout := c.clock.NewTicker(c.cfg.PairingTimeout)
	defer timeout.Stop()

	select {
	case <-c.pairedCh:
		return c.PairingID(), nil
	case <-timeout.C():
		return "", ErrPairingTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
}

// SendReport marshals a report and writes it as one frame. When the client is
// not CONNECTED the report is dropped with a warning; the gateway never
// blocks on the relay.
func (c *Client) SendReport(report any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Warn("dropping report, relay not connected")
		return
	}

	if err := c.writeJSON(conn, report); err != nil {
		c.logger.Warn("report write failed", slog.String("error", err.Error()))
	}
}

// Close disconnects and disables reconnection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.shouldReconnect = false
	close(c.done)
	c.mu.Unlock()

	c.disconnect()
}

// disconnect tears down the current connection and emits disconnected if a
// transition happened.
func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	wasUp := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}

	if wasUp {
		c.emitDisconnected()
	}
}

// readLoop reads frames until the connection drops, then hands off to the
// reconnect path.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.handleFrame(conn, raw)
	}
}

// pingLoop keeps the socket alive until stop closes.
func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// heartbeatLoop sends a heartbeat every interval while connected.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.sendHeartbeat()
		}
	}
}

func (c *Client) sendHeartbeat() {
	c.statusMu.RLock()
	status := c.status
	c.statusMu.RUnlock()

	hb := protocol.Heartbeat{
		Type:            protocol.ReportHeartbeat,
		UptimeSecs:      int64(c.clock.Now().Sub(c.startedAt).Seconds()),
		Version:         c.cfg.Version,
		StrategyStatus:  status.StrategyStatus,
		ConnectedVenues: status.ConnectedVenues,
		OpenOrders:      status.OpenOrders,
		OpenPositions:   status.OpenPositions,
		StrategyMetrics: status.StrategyMetrics,
	}
	if hb.ConnectedVenues == nil {
		hb.ConnectedVenues = []string{}
	}
	c.SendReport(hb)
}

// connectionLost handles a dropped socket: stop the heartbeat, transition to
// DISCONNECTED and schedule a reconnect unless the client is closing.
func (c *Client) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection superseded this one; nothing to do.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.state = StateDisconnected
	reconnect := c.shouldReconnect && !c.closed && !c.reconnecting
	if reconnect {
		c.reconnecting = true
	}
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("relay connection lost", slog.String("error", cause.Error()))
	c.emitDisconnected()

	if reconnect {
		go c.reconnectLoop()
	}
}

// Reconnect starts the background reconnect loop. Used when an initial
// Connect attempt fails; drops are handled internally.
func (c *Client) Reconnect() {
	c.mu.Lock()
	if c.closed || c.reconnecting || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff: 1 s initial,
// doubled per failed attempt, capped at 60 s. Connect resets the delay the
// moment a dial reaches open.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		delay := c.nextReconnectDelay()
		c.logger.Info("scheduling relay reconnect", slog.Duration("delay", delay))

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Warn("relay reconnect failed", slog.String("error", err.Error()))
	}
}

func (c *Client) nextReconnectDelay() time.Duration {
	c.backoffMu.Lock()
	defer c.backoffMu.Unlock()
	d := c.backoff.NextBackOff()
	if d == backoff.Stop || d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// handleFrame decodes one inbound frame and dispatches by type. Unknown types
// are logged and ignored, never fatal.
func (c *Client) handleFrame(conn *websocket.Conn, raw []byte) {
	var envelope struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Warn("undecodable relay frame", slog.String("error", err.Error()))
		return
	}

	switch {
	case protocol.IsCommandType(envelope.Type):
		c.handleCommand(conn, raw)
	case envelope.Type == protocol.MessagePairingConfirmed:
		c.handlePairingConfirmed(raw)
	case envelope.Type == protocol.MessagePairingRevoked:
		c.handlePairingRevoked(raw)
	default:
		c.logger.Warn("unknown relay frame type", slog.String("type", envelope.Type))
	}
}

// handleCommand emits the command, then acks it. The ack is best-effort: if
// the socket closed in between, the command still propagated and the relay
// retries on reconnect.
func (c *Client) handleCommand(conn *websocket.Conn, raw []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.logger.Warn("undecodable command frame", slog.String("error", err.Error()))
		return
	}

	c.handlerMu.RLock()
	handlers := c.commandHandlers
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(cmd)
	}

	if err := c.writeJSON(conn, protocol.NewCommandAck(cmd.ID)); err != nil {
		c.logger.Warn("command ack failed",
			slog.String("command_id", cmd.ID),
			slog.String("error", err.Error()))
	}
}

func (c *Client) handlePairingConfirmed(raw []byte) {
	var pc protocol.PairingConfirmed
	if err := json.Unmarshal(raw, &pc); err != nil {
		c.logger.Warn("undecodable pairing_confirmed", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if c.pairingID == "" {
		// First confirmation wins; the id is immutable afterwards.
		c.pairingID = pc.PairingID
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("pairing confirmed",
		slog.String("pairing_id", pc.PairingID),
		slog.String("relay_session_id", pc.RelaySessionID))

	c.handlerMu.RLock()
	confirmed := c.confirmedHandlers
	c.handlerMu.RUnlock()
	for _, fn := range confirmed {
		fn(pc)
	}

	c.emitConnected()

	c.pairedOnce.Do(func() { close(c.pairedCh) })
}

func (c *Client) handlePairingRevoked(raw []byte) {
	var pr protocol.PairingRevoked
	if err := json.Unmarshal(raw, &pr); err != nil {
		c.logger.Warn("undecodable pairing_revoked", slog.String("error", err.Error()))
		return
	}

	c.logger.Warn("pairing revoked", slog.String("reason", pr.Reason))

	c.handlerMu.RLock()
	revoked := c.revokedHandlers
	c.handlerMu.RUnlock()
	for _, fn := range revoked {
		fn(pr)
	}

	c.mu.Lock()
	c.shouldReconnect = false
	c.mu.Unlock()
	c.disconnect()
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) emitConnected() {
	c.handlerMu.RLock()
	handlers := c.connectedHandlers
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) emitDisconnected() {
	c.handlerMu.RLock()
	handlers := c.disconnHandlers
	c.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}
