package persister

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"binance-market-stream-go/internal/binance"
	"binance-market-stream-go/internal/bus"
	"binance-market-stream-go/internal/config"
	"binance-market-stream-go/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the persister's batching state.
type State int32

const (
	StateAccumulating State = iota
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "ACCUMULATING"
	case StateFlushing:
		return "FLUSHING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TradeStore is the durable sink for flushed batches.
type TradeStore interface {
	InsertTrades(ctx context.Context, trades []models.Trade) (int64, error)
}

// Queue is the source of raw trade messages and the destination for
// batches that failed to insert.
type Queue interface {
	Pop(ctx context.Context) (bus.Message, error)
	PushRetry(ctx context.Context, payloads ...[]byte) error
}

// Stats is a snapshot of the persister's counters.
type Stats struct {
	Buffered int
	Inserted int64
	Retried  int64
	Dropped  int64
	Flushes  int64
	Failures int64
}

// Persister batches trades from the durable queue into the trade store.
type Persister struct {
	logger       *zap.Logger
	store        TradeStore
	queue        Queue
	batchSize    int
	flushTimeout time.Duration
	retryLimiter *rate.Limiter
	isRetry      func(bus.Message) bool

	mu     sync.Mutex
	buffer []models.Trade
	timer  *time.Timer
	// timerGen invalidates callbacks from timers that were stopped too late.
	timerGen uint64
	baseCtx  context.Context

	// flushMu serializes writes so batches reach the store one at a time.
	flushMu sync.Mutex
	state   atomic.Int32

	inserted atomic.Int64
	retried  atomic.Int64
	dropped  atomic.Int64
	flushes  atomic.Int64
	failures atomic.Int64
}

// Option configures a Persister.
type Option func(*Persister)

// WithRetryDetector tells the persister which messages came from the retry queue.
func WithRetryDetector(fn func(bus.Message) bool) Option {
	return func(p *Persister) { p.isRetry = fn }
}

// New creates a Persister.
func New(logger *zap.Logger, cfg *config.Persister, store TradeStore, queue Queue, opts ...Option) *Persister {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RetryRate > 0 {
		limit = rate.Limit(cfg.RetryRate)
	}
	burst := cfg.RetryBurst
	if burst <= 0 {
		burst = 1
	}

	p := &Persister{
		logger:       logger.Named("persister"),
		store:        store,
		queue:        queue,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		retryLimiter: rate.NewLimiter(limit, burst),
		isRetry:      func(bus.Message) bool { return false },
		buffer:       make([]models.Trade, 0, batchSize),
		baseCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current batching state.
func (p *Persister) State() State {
	return State(p.state.Load())
}

// Stats returns a snapshot of the counters.
func (p *Persister) Stats() Stats {
	p.mu.Lock()
	buffered := len(p.buffer)
	p.mu.Unlock()
	return Stats{
		Buffered: buffered,
		Inserted: p.inserted.Load(),
		Retried:  p.retried.Load(),
		Dropped:  p.dropped.Load(),
		Flushes:  p.flushes.Load(),
		Failures: p.failures.Load(),
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what is left.
func (p *Persister) Run(ctx context.Context) error {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	p.logger.Info("Starting persister",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("flush_timeout", p.flushTimeout))

	defer p.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("Queue pop failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if p.isRetry(msg) {
			if err := p.retryLimiter.Wait(ctx); err != nil {
				// Put it back rather than lose it on shutdown.
				p.requeue(context.Background(), msg.Payload)
				return nil
			}
		}
		p.Handle(ctx, msg.Payload)
	}
}

// Handle parses one raw queue item and buffers it. Malformed items are
// logged and discarded.
func (p *Persister) Handle(ctx context.Context, payload []byte) {
	trade, err := binance.ParseTradeMessage(payload)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("Discarding invalid queue item",
			zap.ByteString("payload", truncate(payload, 256)),
			zap.Error(err))
		return
	}
	p.Add(ctx, trade)
}

// Add appends a trade to the buffer and flushes when the batch is full.
func (p *Persister) Add(ctx context.Context, trade models.Trade) {
	p.mu.Lock()
	p.buffer = append(p.buffer, trade)
	if len(p.buffer) == 1 {
		p.armTimerLocked()
	}
	full := len(p.buffer) >= p.batchSize
	var batch []models.Trade
	if full {
		batch = p.takeLocked()
	}
	p.mu.Unlock()

	p.logger.Debug("Buffered trade",
		zap.String("symbol", trade.Symbol),
		zap.String("price", trade.Price.String()),
		zap.Int64("trade_id", trade.TradeID))

	if full {
		p.write(ctx, batch)
	}
}

// Flush writes whatever is currently buffered.
func (p *Persister) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.takeLocked()
	p.mu.Unlock()
	p.write(ctx, batch)
}

// takeLocked detaches the buffer and stops the quiet-period timer.
// The caller must hold p.mu.
func (p *Persister) takeLocked() []models.Trade {
	p.stopTimerLocked()
	if len(p.buffer) == 0 {
		return nil
	}
	batch := p.buffer
	p.buffer = make([]models.Trade, 0, p.batchSize)
	return batch
}

func (p *Persister) armTimerLocked() {
	p.stopTimerLocked()
	gen := p.timerGen
	p.timer = time.AfterFunc(p.flushTimeout, func() {
		p.onTimer(gen)
	})
}

func (p *Persister) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

func (p *Persister) onTimer(gen uint64) {
	p.mu.Lock()
	if gen != p.timerGen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	batch := p.takeLocked()
	ctx := p.baseCtx
	p.mu.Unlock()

	if len(batch) > 0 {
		p.logger.Debug("Flush timeout reached", zap.Int("buffered", len(batch)))
	}
	p.write(ctx, batch)
}

// write inserts one batch. On failure every trade goes to the retry queue;
// the batch is never put back into the live buffer.
func (p *Persister) write(ctx context.Context, batch []models.Trade) {
	if len(batch) == 0 {
		return
	}

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.state.Store(int32(StateFlushing))
	defer p.state.Store(int32(StateAccumulating))
	p.flushes.Add(1)

	n, err := p.store.InsertTrades(ctx, batch)
	if err == nil {
		p.inserted.Add(n)
		p.logger.Info("Inserted trade batch",
			zap.Int("batch", len(batch)),
			zap.Int64("new_rows", n),
			zap.Int64("total", p.inserted.Load()))
		return
	}

	p.failures.Add(1)
	p.logger.Error("Batch insert failed, moving trades to retry queue",
		zap.Int("batch", len(batch)),
		zap.Error(err))

	payloads := make([][]byte, 0, len(batch))
	for _, t := range batch {
		payload, encErr := binance.EncodeTradeMessage(t)
		if encErr != nil {
			p.logger.Error("Failed to encode trade for retry", zap.Int64("trade_id", t.TradeID), zap.Error(encErr))
			continue
		}
		payloads = append(payloads, payload)
	}
	p.requeue(context.WithoutCancel(ctx), payloads...)
}

func (p *Persister) requeue(ctx context.Context, payloads ...[]byte) {
	if err := p.queue.PushRetry(ctx, payloads...); err != nil {
		p.logger.Error("Failed to push trades to retry queue", zap.Int("count", len(payloads)), zap.Error(err))
		return
	}
	p.retried.Add(int64(len(payloads)))
}

// shutdown flushes the remaining buffer with a fresh deadline.
func (p *Persister) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	p.Flush(ctx)
	p.logger.Info("Persister stopped", zap.Any("stats", p.Stats()))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
