package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	events []string
	titles []string
}

func (s *recordingSender) Send(ctx context.Context, event, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifierFiltersByEvent(t *testing.T) {
	sender := &recordingSender{name: "a"}
	n := NewNotifier([]Sender{sender}, []string{"hedge_required"}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "venue_unhealthy", "T1", "m"))
	require.NoError(t, n.Notify(context.Background(), "hedge_required", "T2", "m"))

	assert.Equal(t, []string{"T2"}, sender.titles)
	assert.Equal(t, []string{"hedge_required"}, sender.events, "senders receive the event name")
}

func TestNotifierEmptyEventListAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "a"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "T1", "m"))
	assert.Equal(t, []string{"T1"}, sender.titles)
}

func TestNotifierDeliversPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "hedge_required", "T1", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"T1"}, good.titles)
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "venue_unhealthy", "Venue unhealthy", "sim failed its health check"))

	assert.Equal(t, "venue_unhealthy", got["event"])
	assert.Equal(t, "Venue unhealthy", got["title"])
	assert.Equal(t, "sim failed its health check", got["message"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestWebhookSenderRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), "e", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
