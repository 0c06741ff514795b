package relay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/clock"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/protocol"
)

// relayServer is an in-process relay endpoint for client tests. Every
// accepted socket is announced on conns; every frame the client writes is
// decoded onto frames.
type relayServer struct {
	t      *testing.T
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan map[string]any

	mu      sync.Mutex
	queries []url.Values
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()

	rs := &relayServer{
		t:      t,
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan map[string]any, 32),
	}

	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.queries = append(rs.queries, r.URL.Query())
		rs.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.conns <- conn

		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame map[string]any
				if json.Unmarshal(raw, &frame) == nil {
					rs.frames <- frame
				}
			}
		}()
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

// endpoint returns the host:port form so the client derives the ws:// scheme.
func (rs *relayServer) endpoint() string {
	return strings.TrimPrefix(rs.srv.URL, "http://")
}

func (rs *relayServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-rs.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (rs *relayServer) waitFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-rs.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func (rs *relayServer) send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (rs *relayServer) lastQuery() url.Values {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.queries[len(rs.queries)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(cfg Config, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.System{}
	}
	return New(cfg, clk, testLogger())
}

func TestConnectRequiresPairingCredentials(t *testing.T) {
	t.Parallel()

	c := newTestClient(Config{Endpoint: "localhost:1", APIKey: "k"}, nil)
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestPairConnectAck(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingCode: "ABC123"}, nil)
	defer c.Close()

	var (
		commands  = make(chan protocol.Command, 1)
		connected = make(chan struct{}, 1)
		confirmed = make(chan protocol.PairingConfirmed, 1)
	)
	c.OnCommand(func(cmd protocol.Command) { commands <- cmd })
	c.OnConnected(func() { connected <- struct{}{} })
	c.OnPairingConfirmed(func(pc protocol.PairingConfirmed) { confirmed <- pc })

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateAwaitingPairing, c.State())
	assert.Equal(t, "ABC123", rs.lastQuery().Get("pairing_code"))
	assert.Equal(t, "k", rs.lastQuery().Get("api_key"))

	conn := rs.waitConn(t)
	rs.send(t, conn, map[string]any{
		"type":             "pairing_confirmed",
		"pairing_id":       "P1",
		"relay_session_id": "S1",
	})

	select {
	case pc := <-confirmed:
		assert.Equal(t, "P1", pc.PairingID)
	case <-time.After(3 * time.Second):
		t.Fatal("pairing_confirmed not emitted")
	}
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("connected not emitted")
	}
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "P1", c.PairingID())

	rs.send(t, conn, map[string]any{
		"type": "trade", "id": "C1",
		"market_id": "kalshi:M", "venue": "kalshi",
		"side": "yes", "action": "buy", "size": 10, "order_type": "market",
	})

	select {
	case cmd := <-commands:
		assert.Equal(t, protocol.CommandTrade, cmd.Type)
		assert.Equal(t, "C1", cmd.ID)
		assert.Equal(t, "kalshi:M", cmd.MarketID)
	case <-time.After(3 * time.Second):
		t.Fatal("command not emitted")
	}

	ack := rs.waitFrame(t)
	assert.Equal(t, "command_ack", ack["type"])
	assert.Equal(t, "C1", ack["command_id"])
	assert.Equal(t, "accepted", ack["status"])
}

func TestConnectWithKnownPairingID(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingID: "P9"}, nil)
	defer c.Close()

	connected := make(chan struct{}, 1)
	c.OnConnected(func() { connected <- struct{}{} })

	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("connected not emitted")
	}
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "P9", rs.lastQuery().Get("pairing_id"))
	assert.Empty(t, rs.lastQuery().Get("pairing_code"))
}

func TestPairingIDImmutableAfterFirstConfirmation(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingCode: "ABC"}, nil)
	defer c.Close()

	confirmed := make(chan protocol.PairingConfirmed, 2)
	c.OnPairingConfirmed(func(pc protocol.PairingConfirmed) { confirmed <- pc })

	require.NoError(t, c.Connect(context.Background()))
	conn := rs.waitConn(t)

	rs.send(t, conn, map[string]any{"type": "pairing_confirmed", "pairing_id": "P1"})
	<-confirmed
	rs.send(t, conn, map[string]any{"type": "pairing_confirmed", "pairing_id": "P2"})
	<-confirmed

	assert.Equal(t, "P1", c.PairingID())
}

func TestSendReportDropsWhenDisconnected(t *testing.T) {
	t.Parallel()

	c := newTestClient(Config{Endpoint: "localhost:1", APIKey: "k", PairingID: "P"}, nil)
	// Must not panic or block.
	c.SendReport(protocol.NewErrorReport(protocol.CodeGatewayShutdown, "bye"))
}

func TestHeartbeatCarriesPushedStatus(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := newTestClient(Config{
		Endpoint:  rs.endpoint(),
		APIKey:    "k",
		PairingID: "P1",
		Version:   "1.2.3",
	}, fake)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	rs.waitConn(t)

	c.UpdateStatus(Status{
		StrategyStatus:  "active",
		ConnectedVenues: []string{"kalshi"},
		OpenOrders:      2,
		OpenPositions:   1,
		StrategyMetrics: map[string]int64{"signals_received": 7},
	})

	fake.Advance(DefaultHeartbeatInterval)

	hb := rs.waitFrame(t)
	assert.Equal(t, "heartbeat", hb["type"])
	assert.Equal(t, "1.2.3", hb["version"])
	assert.Equal(t, "active", hb["strategy_status"])
	assert.Equal(t, float64(2), hb["open_orders"])
	assert.Equal(t, float64(1), hb["open_positions"])
	assert.Equal(t, float64(15), hb["uptime_secs"])
}

func TestPairingRevokedStopsClient(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingID: "P1"}, nil)
	defer c.Close()

	var (
		revoked      = make(chan protocol.PairingRevoked, 1)
		disconnected = make(chan struct{}, 1)
	)
	c.OnPairingRevoked(func(pr protocol.PairingRevoked) { revoked <- pr })
	c.OnDisconnected(func() { disconnected <- struct{}{} })

	require.NoError(t, c.Connect(context.Background()))
	conn := rs.waitConn(t)

	rs.send(t, conn, map[string]any{"type": "pairing_revoked", "pairing_id": "P1", "reason": "operator"})

	select {
	case pr := <-revoked:
		assert.Equal(t, "operator", pr.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("pairing_revoked not emitted")
	}
	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("disconnected not emitted")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReconnectAfterDrop(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingID: "P1"}, nil)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	conn := rs.waitConn(t)

	// Server-side close; the client should retry after the 1 s initial delay.
	conn.Close()
	rs.waitConn(t)

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReconnectDelaySequenceAndResetOnOpen(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingID: "P1"}, nil)
	defer c.Close()

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, c.nextReconnectDelay(), "attempt %d", i+1)
	}

	// Reaching the open event resets the ladder to 1 s; pairing is not
	// required for the reset.
	require.NoError(t, c.Connect(context.Background()))
	rs.waitConn(t)
	assert.Equal(t, 1*time.Second, c.nextReconnectDelay())
}

func TestPairTimesOut(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingCode: "ABC"}, fake)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Pair(context.Background())
		done <- err
	}()
	rs.waitConn(t)

	// Pair arms its timer after the dial; keep advancing until it fires.
	var pairErr error
	require.Eventually(t, func() bool {
		fake.Advance(DefaultPairingTimeout)
		select {
		case pairErr = <-done:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, pairErr, ErrPairingTimeout)
}

func TestPairReturnsConfirmedID(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingCode: "ABC"}, nil)
	defer c.Close()

	go func() {
		select {
		case conn := <-rs.conns:
			data, _ := json.Marshal(map[string]any{"type": "pairing_confirmed", "pairing_id": "P42"})
			_ = conn.WriteMessage(websocket.TextMessage, data)
		case <-time.After(3 * time.Second):
		}
	}()

	id, err := c.Pair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "P42", id)
}

func TestSocketOpenLogOmitsCredentials(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := New(Config{Endpoint: rs.endpoint(), APIKey: "supersecret", PairingID: "P1"}, clock.System{}, logger)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	rs.waitConn(t)

	// Even without the redacting handler the open log must not carry the
	// query string.
	assert.Contains(t, buf.String(), "relay socket open")
	assert.NotContains(t, buf.String(), "supersecret")
}

func TestUnknownFrameIgnored(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t)
	c := newTestClient(Config{Endpoint: rs.endpoint(), APIKey: "k", PairingID: "P1"}, nil)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	conn := rs.waitConn(t)

	rs.send(t, conn, map[string]any{"type": "mystery"})
	rs.send(t, conn, map[string]any{"type": "trade", "id": "C2", "market_id": "kalshi:M"})

	// The command after the unknown frame still arrives: one ack for C2.
	ack := rs.waitFrame(t)
	assert.Equal(t, "C2", ack["command_id"])
}
