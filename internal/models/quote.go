package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side selects which half of a quote a caller wants.
type Side string

const (
	SideBuy  Side = "buy"  // pays the ask
	SideSell Side = "sell" // receives the bid
)

// Quote is the synthetic bid/ask derived from the latest trade of a symbol.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Mid        decimal.Decimal `json:"mid"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Quantity   decimal.Decimal `json:"quantity"`
	TradeTime  int64           `json:"trade_time"`
	TradeID    int64           `json:"trade_id"`
	ObservedAt time.Time       `json:"observed_at"`
}

// NewQuote derives a quote from a trade price: bid = mid*(1-spread) and
// ask = mid*(1+spread), both rounded to places decimals.
func NewQuote(t Trade, spread decimal.Decimal, places int32, observedAt time.Time) Quote {
	one := decimal.NewFromInt(1)
	return Quote{
		Symbol:     t.Symbol,
		Mid:        t.Price,
		Bid:        t.Price.Mul(one.Sub(spread)).Round(places),
		Ask:        t.Price.Mul(one.Add(spread)).Round(places),
		Quantity:   t.Quantity,
		TradeTime:  t.EventTime,
		TradeID:    t.TradeID,
		ObservedAt: observedAt,
	}
}

// PriceFor returns the price a caller on the given side would trade at.
func (q Quote) PriceFor(side Side) (decimal.Decimal, bool) {
	switch side {
	case SideBuy:
		return q.Ask, true
	case SideSell:
		return q.Bid, true
	default:
		return decimal.Zero, false
	}
}
