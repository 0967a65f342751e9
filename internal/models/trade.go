package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single normalized trade tick from the exchange feed.
// It is passed by value and never mutated after parsing.
type Trade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	EventTime int64           `json:"event_time"` // milliseconds since epoch
	TradeID   int64           `json:"trade_id"`
}

// Time returns the event time as a UTC time.Time.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.EventTime).UTC()
}
