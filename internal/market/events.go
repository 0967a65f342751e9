package market

import "binance-market-stream-go/internal/models"

// EventType names a push event sent to live subscribers.
type EventType string

const (
	EventCandleInitial EventType = "candle-initial"
	EventCandleUpdate  EventType = "candle-update"
	EventCandleClosed  EventType = "candle-closed"
	EventQuoteUpdate   EventType = "quote-update"
	EventQuoteSnapshot EventType = "quote-snapshot"
	EventQuoteResponse EventType = "quote-response"
	EventQuoteError    EventType = "quote-error"
	EventError         EventType = "error"
)

// Event is one message pushed to a subscriber.
type Event struct {
	Type     EventType      `json:"type"`
	Symbol   string         `json:"symbol,omitempty"`
	Interval string         `json:"interval,omitempty"`
	Side     models.Side    `json:"side,omitempty"`
	Price    string         `json:"price,omitempty"`
	Candle   *models.Candle `json:"candle,omitempty"`
	Quote    *models.Quote  `json:"quote,omitempty"`
	Quotes   []models.Quote `json:"quotes,omitempty"`
	Error    string         `json:"error,omitempty"`
	Time     int64          `json:"timestamp,omitempty"`
}

// Topic returns the subscription key for candle events.
func Topic(symbol, interval string) string {
	return symbol + "-" + interval
}

// Emitter receives events produced by the engine.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }
