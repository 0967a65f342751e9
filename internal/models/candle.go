package models

import "github.com/shopspring/decimal"

// Candle is the OHLCV summary of one (symbol, interval, bucket).
type Candle struct {
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	OpenTime   int64           `json:"open_time"`
	CloseTime  int64           `json:"close_time"` // inclusive, OpenTime + width - 1
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount int64           `json:"trade_count"`
	IsClosed   bool            `json:"is_closed"`
}

// NewCandle opens a candle for the bucket containing the trade.
func NewCandle(t Trade, iv Interval) *Candle {
	open := iv.BucketStart(t.EventTime)
	return &Candle{
		Symbol:     t.Symbol,
		Interval:   iv.Name,
		OpenTime:   open,
		CloseTime:  open + iv.Millis() - 1,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Quantity,
		TradeCount: 1,
	}
}

// Apply folds a trade from the same bucket into the candle.
func (c *Candle) Apply(t Trade) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Quantity)
	c.TradeCount++
}
