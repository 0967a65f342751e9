package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fixed-point multipliers for the durable trade ledger. The continuous
// aggregates divide by the same constants.
const (
	PriceMultiplier    = 100_000_000 // 1e8
	QuantityMultiplier = 1_000_000   // 1e6
)

var (
	priceScale    = decimal.NewFromInt(PriceMultiplier)
	quantityScale = decimal.NewFromInt(QuantityMultiplier)
)

// TradeRow is the persisted form of a Trade with price and quantity stored
// as scaled integers.
type TradeRow struct {
	Time     time.Time `gorm:"primaryKey;autoIncrement:false;not null;index:idx_trade_symbol_time,priority:2"`
	TradeID  int64     `gorm:"primaryKey;autoIncrement:false;not null;index:idx_trades_trade_id"`
	Symbol   string    `gorm:"not null;index:idx_trade_symbol_time,priority:1"`
	Price    int64     `gorm:"not null"`
	Quantity int64     `gorm:"not null"`
}

// TableName overrides the default table name for GORM.
func (TradeRow) TableName() string {
	return "trades"
}

// NewTradeRow converts a trade into its fixed-point row.
func NewTradeRow(t Trade) TradeRow {
	return TradeRow{
		Time:     t.Time(),
		TradeID:  t.TradeID,
		Symbol:   t.Symbol,
		Price:    t.Price.Mul(priceScale).Round(0).IntPart(),
		Quantity: t.Quantity.Mul(quantityScale).Round(0).IntPart(),
	}
}

// Trade converts the row back into a Trade.
func (r TradeRow) Trade() Trade {
	return Trade{
		Symbol:    r.Symbol,
		Price:     decimal.NewFromInt(r.Price).Div(priceScale),
		Quantity:  decimal.NewFromInt(r.Quantity).Div(quantityScale),
		EventTime: r.Time.UnixMilli(),
		TradeID:   r.TradeID,
	}
}
