package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func (p *recordingPublisher) Payloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

// streamServer serves each connection the given messages and then holds
// the connection open until the client goes away.
func streamServer(t *testing.T, messages []string) (*httptest.Server, *sync.WaitGroup) {
	upgrader := websocket.Upgrader{}
	var conns sync.WaitGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer conns.Done()
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

const (
	btcTrade = `{"stream":"btcusdt@trade","data":{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"100.00","q":"0.5","T":1}}`
	ethTrade = `{"stream":"ethusdt@trade","data":{"e":"trade","E":2,"s":"ETHUSDT","t":2,"p":"2000.00","q":"1","T":2}}`
)

func TestAdapter_PublishesValidTradesInOrder(t *testing.T) {
	srv, _ := streamServer(t, []string{btcTrade, `{"result":null,"id":1}`, `garbage`, ethTrade})
	pub := &recordingPublisher{}
	a := NewAdapter(zap.NewNop(), wsURL(srv), pub, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(pub.Payloads()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// Payloads are forwarded byte-for-byte.
	assert.Equal(t, []string{btcTrade, ethTrade}, pub.Payloads())
	stats := a.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(2), stats.Malformed)
	assert.Equal(t, int64(2), stats.Published)
}

func TestAdapter_PublishFailureDoesNotStopLoop(t *testing.T) {
	srv, _ := streamServer(t, []string{btcTrade, ethTrade})
	pub := &recordingPublisher{err: errors.New("redis down")}
	a := NewAdapter(zap.NewNop(), wsURL(srv), pub, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	assert.Eventually(t, func() bool { return a.Stats().Failed == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.Stats().Reconnects)
}

func TestAdapter_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	served := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		served++
		mu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(btcTrade))
		// Drop the connection immediately.
		_ = conn.Close()
	}))
	defer srv.Close()

	pub := &recordingPublisher{}
	a := NewAdapter(zap.NewNop(), wsURL(srv), pub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	assert.Eventually(t, func() bool { return a.Stats().Reconnects >= 2 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.GreaterOrEqual(t, served, 2)
	mu.Unlock()
}

func TestAdapter_DialFailureRetries(t *testing.T) {
	pub := &recordingPublisher{}
	a := NewAdapter(zap.NewNop(), "ws://127.0.0.1:1/stream", pub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	assert.Eventually(t, func() bool { return a.Stats().Reconnects >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.Payloads())
}

func TestBackoff(t *testing.T) {
	a := NewAdapter(zap.NewNop(), "ws://x", &recordingPublisher{}, 5*time.Second)
	assert.Equal(t, time.Second, a.backoff(0))
	assert.Equal(t, 2*time.Second, a.backoff(1))
	assert.Equal(t, 4*time.Second, a.backoff(2))
	assert.Equal(t, 5*time.Second, a.backoff(3))
	assert.Equal(t, 5*time.Second, a.backoff(100))
}
