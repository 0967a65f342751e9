package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(ts int64, price, qty string) Trade {
	return Trade{
		Symbol:    "BTCUSDT",
		Price:     decimal.RequireFromString(price),
		Quantity:  decimal.RequireFromString(qty),
		EventTime: ts,
		TradeID:   ts,
	}
}

func TestInterval_BucketStart(t *testing.T) {
	oneMinute, err := ParseInterval("1m")
	require.NoError(t, err)

	tests := []struct {
		name      string
		eventTime int64
		want      int64
	}{
		{"zero", 0, 0},
		{"inside first bucket", 59_999, 0},
		{"exact boundary", 60_000, 60_000},
		{"second bucket", 61_000, 60_000},
		{"real timestamp", 1_700_000_123_456, 1_700_000_100_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, oneMinute.BucketStart(tt.eventTime))
		})
	}
}

func TestParseIntervals(t *testing.T) {
	ivs, err := ParseIntervals([]string{"1m", "1h", "1d"})
	require.NoError(t, err)
	require.Len(t, ivs, 3)
	assert.Equal(t, time.Hour, ivs[1].Duration)
	assert.Equal(t, "candles_1d", ivs[2].ViewName())

	_, err = ParseIntervals([]string{"1m", "2m"})
	assert.Error(t, err)

	_, err = ParseIntervals([]string{"1m", "1m"})
	assert.Error(t, err)
}

func TestSupportedIntervals_RefreshShorterThanBucket(t *testing.T) {
	for _, iv := range SupportedIntervals() {
		assert.Less(t, iv.Refresh, iv.Duration, iv.Name)
	}
}

func TestNewQuote(t *testing.T) {
	q := NewQuote(trade(1, "100", "1"), decimal.RequireFromString("0.02"), 2, time.Unix(0, 0))

	assert.True(t, q.Mid.Equal(decimal.RequireFromString("100")))
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("98")), q.Bid.String())
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("102")), q.Ask.String())

	buy, ok := q.PriceFor(SideBuy)
	assert.True(t, ok)
	assert.True(t, buy.Equal(q.Ask))

	sell, ok := q.PriceFor(SideSell)
	assert.True(t, ok)
	assert.True(t, sell.Equal(q.Bid))

	_, ok = q.PriceFor(Side("hold"))
	assert.False(t, ok)
}

func TestNewQuote_Rounding(t *testing.T) {
	q := NewQuote(trade(1, "43210.123456", "1"), decimal.RequireFromString("0.02"), 2, time.Now())

	// 43210.123456 * 0.98 = 42345.92098688, * 1.02 = 44074.32592512
	assert.Equal(t, "42345.92", q.Bid.StringFixed(2))
	assert.Equal(t, "44074.33", q.Ask.StringFixed(2))
	assert.Equal(t, int32(-2), q.Bid.Exponent())
}

func TestCandle_Apply(t *testing.T) {
	oneMinute, _ := ParseInterval("1m")
	c := NewCandle(trade(1_000, "100", "0.5"), oneMinute)

	assert.Equal(t, int64(0), c.OpenTime)
	assert.Equal(t, int64(59_999), c.CloseTime)
	assert.Equal(t, int64(1), c.TradeCount)
	assert.False(t, c.IsClosed)

	c.Apply(trade(2_000, "105", "1"))
	c.Apply(trade(2_000, "95", "0.25"))
	c.Apply(trade(3_000, "101", "0.25"))

	assert.Equal(t, "100", c.Open.String())
	assert.Equal(t, "105", c.High.String())
	assert.Equal(t, "95", c.Low.String())
	assert.Equal(t, "101", c.Close.String())
	assert.Equal(t, "2", c.Volume.String())
	assert.Equal(t, int64(4), c.TradeCount)
}

func TestTradeRow_FixedPoint(t *testing.T) {
	tr := trade(1_700_000_000_123, "43210.12345678", "0.001234")
	row := NewTradeRow(tr)

	assert.Equal(t, int64(4_321_012_345_678), row.Price)
	assert.Equal(t, int64(1_234), row.Quantity)
	assert.Equal(t, int64(1_700_000_000_123), row.Time.UnixMilli())
	assert.Equal(t, time.UTC, row.Time.Location())

	back := row.Trade()
	assert.True(t, back.Price.Equal(tr.Price))
	assert.True(t, back.Quantity.Equal(tr.Quantity))
	assert.Equal(t, tr.EventTime, back.EventTime)
}

func TestTradeRow_RoundsBeyondScale(t *testing.T) {
	row := NewTradeRow(trade(1, "0.000000015", "0.0000005"))
	assert.Equal(t, int64(2), row.Price)
	assert.Equal(t, int64(1), row.Quantity)
}
