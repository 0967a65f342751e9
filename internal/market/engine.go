// Package market maintains live quotes and in-progress candles from the
// broadcast trade stream and fans the resulting events out to subscribers.
package market

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"binance-market-stream-go/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNoLivePrice means no trade has been seen yet for the symbol.
	ErrNoLivePrice = errors.New("no live price available")
	// ErrInvalidSide is returned for quote sides other than buy and sell.
	ErrInvalidSide = errors.New("invalid quote side")
	// ErrUnknownInterval is returned for intervals the engine does not track.
	ErrUnknownInterval = errors.New("unknown interval")
)

// symbolState is everything the engine knows about one instrument.
// mu serializes trade application for the symbol.
type symbolState struct {
	mu      sync.Mutex
	quote   *models.Quote
	candles map[string]*models.Candle // interval name -> active candle
}

// Engine owns the live market state. Trades for one symbol are applied
// strictly in arrival order; different symbols may be applied in parallel.
type Engine struct {
	logger    *zap.Logger
	intervals []models.Interval
	spread    decimal.Decimal
	places    int32
	emitter   Emitter
	now       func() time.Time

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Intervals     []models.Interval
	Spread        decimal.Decimal
	PriceDecimals int32
}

// NewEngine creates an Engine that reports events to emitter.
func NewEngine(logger *zap.Logger, cfg EngineConfig, emitter Emitter) *Engine {
	if emitter == nil {
		emitter = EmitterFunc(func(Event) {})
	}
	return &Engine{
		logger:    logger.Named("engine"),
		intervals: cfg.Intervals,
		spread:    cfg.Spread,
		places:    cfg.PriceDecimals,
		emitter:   emitter,
		now:       time.Now,
		symbols:   make(map[string]*symbolState),
	}
}

// Intervals returns the intervals tracked by the engine.
func (e *Engine) Intervals() []models.Interval {
	return e.intervals
}

// Interval resolves a tracked interval by name.
func (e *Engine) Interval(name string) (models.Interval, error) {
	for _, iv := range e.intervals {
		if iv.Name == name {
			return iv, nil
		}
	}
	return models.Interval{}, ErrUnknownInterval
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{candles: make(map[string]*models.Candle, len(e.intervals))}
	e.symbols[symbol] = st
	return st
}

func (e *Engine) lookup(symbol string) (*symbolState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.symbols[symbol]
	return st, ok
}

// Apply folds one trade into the symbol's quote and candles and emits the
// resulting events. For each interval a rolled-over bucket is emitted as
// candle-closed and evicted before the new bucket's candle-update.
func (e *Engine) Apply(t models.Trade) {
	st := e.state(t.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	quote := models.NewQuote(t, e.spread, e.places, e.now())
	st.quote = &quote
	q := quote
	e.emitter.Emit(Event{Type: EventQuoteUpdate, Symbol: t.Symbol, Quote: &q})

	for _, iv := range e.intervals {
		bucket := iv.BucketStart(t.EventTime)
		active := st.candles[iv.Name]

		switch {
		case active == nil:
			active = models.NewCandle(t, iv)
			st.candles[iv.Name] = active
		case active.OpenTime == bucket:
			active.Apply(t)
		case bucket > active.OpenTime:
			closed := *active
			closed.IsClosed = true
			delete(st.candles, iv.Name)
			e.emitter.Emit(Event{Type: EventCandleClosed, Symbol: t.Symbol, Interval: iv.Name, Candle: &closed})

			active = models.NewCandle(t, iv)
			st.candles[iv.Name] = active
		default:
			// A trade older than the open bucket cannot reopen a closed one.
			e.logger.Debug("Ignoring late trade for interval",
				zap.String("symbol", t.Symbol),
				zap.String("interval", iv.Name),
				zap.Int64("event_time", t.EventTime),
				zap.Int64("open_time", active.OpenTime))
			continue
		}

		snapshot := *active
		e.emitter.Emit(Event{Type: EventCandleUpdate, Symbol: t.Symbol, Interval: iv.Name, Candle: &snapshot})
	}
}

// Snapshot returns a copy of the active candle for (symbol, interval).
func (e *Engine) Snapshot(symbol, interval string) (models.Candle, bool) {
	st, ok := e.lookup(symbol)
	if !ok {
		return models.Candle{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.candles[interval]
	if !ok || c.IsClosed {
		return models.Candle{}, false
	}
	return *c, true
}

// Quote returns the current quote for symbol or ErrNoLivePrice.
func (e *Engine) Quote(symbol string) (models.Quote, error) {
	st, ok := e.lookup(symbol)
	if !ok {
		return models.Quote{}, ErrNoLivePrice
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.quote == nil {
		return models.Quote{}, ErrNoLivePrice
	}
	return *st.quote, nil
}

// RequestQuote returns the price a buyer (ask) or seller (bid) would get.
// Absence is always an error, never a zero price.
func (e *Engine) RequestQuote(symbol string, side models.Side) (decimal.Decimal, error) {
	side = models.Side(strings.ToLower(string(side)))
	if side != models.SideBuy && side != models.SideSell {
		return decimal.Zero, ErrInvalidSide
	}
	q, err := e.Quote(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price, _ := q.PriceFor(side)
	return price, nil
}

// Quotes returns every known quote ordered by symbol.
func (e *Engine) Quotes() []models.Quote {
	e.mu.RLock()
	states := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]models.Quote, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if st.quote != nil {
			out = append(out, *st.quote)
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Run applies trades from in until it is closed or ctx is done. Trades are
// sharded by symbol so each symbol is handled by exactly one goroutine.
func (e *Engine) Run(ctx context.Context, in <-chan models.Trade, shards int) {
	if shards <= 0 {
		shards = 1
	}
	lanes := make([]chan models.Trade, shards)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan models.Trade, 256)
		wg.Add(1)
		go func(lane <-chan models.Trade) {
			defer wg.Done()
			for t := range lane {
				e.Apply(t)
			}
		}(lanes[i])
	}

	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
		e.logger.Info("Engine stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			select {
			case lanes[shardFor(t.Symbol, shards)] <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func shardFor(symbol string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(shards))
}
