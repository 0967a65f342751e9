package market

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is one live subscriber. Events are queued on a bounded channel;
// when it is full new events for this client are dropped.
type Client struct {
	ID      uuid.UUID
	send    chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool
}

// Events returns the client's outbound queue. It is closed on Unregister.
func (c *Client) Events() <-chan Event {
	return c.send
}

// Dropped returns how many events were discarded for this client.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Subscribed reports whether the client follows topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// Hub fans engine events out to registered clients. Quote events reach
// every client; candle events reach clients subscribed to their topic.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

// NewHub creates a Hub whose clients buffer up to buffer events.
func NewHub(logger *zap.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		logger:  logger.Named("hub"),
		buffer:  buffer,
		clients: make(map[uuid.UUID]*Client),
	}
}

// Register adds a new client.
func (h *Hub) Register() *Client {
	c := &Client{
		ID:     uuid.New(),
		send:   make(chan Event, h.buffer),
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected", zap.String("client_id", c.ID.String()), zap.Int("clients", n))
	return c
}

// Unregister removes the client and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	h.logger.Info("Client disconnected",
		zap.String("client_id", c.ID.String()),
		zap.Int64("dropped_events", c.Dropped()),
		zap.Int("clients", n))
}

// Subscribe adds topic to the client's subscriptions.
func (h *Hub) Subscribe(c *Client, topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes topic from the client's subscriptions.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit implements Emitter. It never blocks on a slow client.
func (h *Hub) Emit(e Event) {
	topic := ""
	if e.Candle != nil {
		topic = Topic(e.Symbol, e.Interval)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if topic != "" && !c.Subscribed(topic) {
			continue
		}
		h.Send(c, e)
	}
}

// Send queues an event for one client without blocking. It reports
// whether the event was queued.
func (h *Hub) Send(c *Client, e Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- e:
		return true
	default:
		if c.dropped.Add(1) == 1 {
			h.logger.Warn("Client is lagging, dropping events", zap.String("client_id", c.ID.String()))
		}
		return false
	}
}
