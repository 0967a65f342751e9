package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"binance-market-stream-go/internal/binance"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Publisher delivers a validated raw trade message to the broadcast topic
// and the durable queue.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Stats is a snapshot of the adapter's counters.
type Stats struct {
	Received   int64
	Published  int64
	Malformed  int64
	Failed     int64
	Reconnects int64
}

// Adapter keeps one websocket connection to the exchange trade stream open
// and forwards every valid trade message to the Publisher unmodified.
type Adapter struct {
	logger       *zap.Logger
	url          string
	publisher    Publisher
	dialer       *websocket.Dialer
	reconnectMax time.Duration
	readTimeout  time.Duration

	received   atomic.Int64
	published  atomic.Int64
	malformed  atomic.Int64
	failed     atomic.Int64
	reconnects atomic.Int64
}

// NewAdapter creates an Adapter for the given combined-stream URL.
func NewAdapter(logger *zap.Logger, url string, publisher Publisher, reconnectMax time.Duration) *Adapter {
	if reconnectMax <= 0 {
		reconnectMax = 30 * time.Second
	}
	return &Adapter{
		logger:       logger.Named("feed"),
		url:          url,
		publisher:    publisher,
		dialer:       websocket.DefaultDialer,
		reconnectMax: reconnectMax,
		// Binance pings every few minutes; anything silent for longer is dead.
		readTimeout: 10 * time.Minute,
	}
}

// Stats returns a snapshot of the counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Received:   a.received.Load(),
		Published:  a.published.Load(),
		Malformed:  a.malformed.Load(),
		Failed:     a.failed.Load(),
		Reconnects: a.reconnects.Load(),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with capped
// exponential backoff whenever the connection drops.
func (a *Adapter) Run(ctx context.Context) error {
	attempt := 0
	for {
		started := time.Now()
		err := a.session(ctx)
		if ctx.Err() != nil {
			a.logger.Info("Feed stopped", zap.Any("stats", a.Stats()))
			return nil
		}

		// A session that lived a while resets the backoff.
		if time.Since(started) > a.reconnectMax {
			attempt = 0
		}
		wait := a.backoff(attempt)
		attempt++
		a.reconnects.Add(1)

		a.logger.Warn("Trade stream disconnected, reconnecting...",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *Adapter) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return a.reconnectMax
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > a.reconnectMax || d <= 0 {
		return a.reconnectMax
	}
	return d
}

// session runs one connection lifetime.
func (a *Adapter) session(ctx context.Context) error {
	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", a.url, err)
	}
	defer conn.Close()
	a.logger.Info("Connected to trade stream", zap.String("url", a.url))

	// Unblock ReadMessage when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.handle(ctx, raw)
	}
}

// handle validates one message and publishes it as received.
func (a *Adapter) handle(ctx context.Context, raw []byte) {
	a.received.Add(1)

	trade, err := binance.ParseTradeMessage(raw)
	if err != nil {
		a.malformed.Add(1)
		a.logger.Warn("Dropping malformed trade message", zap.Error(err))
		return
	}

	if err := a.publisher.Publish(ctx, raw); err != nil {
		a.failed.Add(1)
		if !errors.Is(err, context.Canceled) {
			a.logger.Error("Failed to publish trade",
				zap.String("symbol", trade.Symbol),
				zap.Int64("trade_id", trade.TradeID),
				zap.Error(err))
		}
		return
	}
	a.published.Add(1)
}
