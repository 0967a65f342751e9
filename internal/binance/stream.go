package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"binance-market-stream-go/internal/models"
	"github.com/shopspring/decimal"
)

// ErrMalformedTrade is returned for stream messages that cannot become a Trade.
var ErrMalformedTrade = errors.New("malformed trade message")

// StreamMessage is the combined-stream envelope: {"stream": ..., "data": {...}}.
type StreamMessage struct {
	Stream string      `json:"stream"`
	Data   *TradeEvent `json:"data"`
}

// TradeEvent is the payload of a <symbol>@trade stream. Pointer fields let
// the parser tell a missing field from a zero value.
type TradeEvent struct {
	EventType string  `json:"e,omitempty"`
	EventTime int64   `json:"E,omitempty"`
	Symbol    *string `json:"s"`
	Price     *string `json:"p"`
	Quantity  *string `json:"q"`
	TradeTime *int64  `json:"T"`
	TradeID   *int64  `json:"t"`
}

// ParseTradeMessage decodes a combined-stream message into a Trade.
// Any missing required field or unparseable decimal yields ErrMalformedTrade.
func ParseTradeMessage(raw []byte) (models.Trade, error) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Trade{}, fmt.Errorf("%w: %v", ErrMalformedTrade, err)
	}
	if msg.Data == nil {
		return models.Trade{}, fmt.Errorf("%w: missing data", ErrMalformedTrade)
	}
	return msg.Data.Trade()
}

// Trade validates the event and converts it to the canonical Trade.
func (e *TradeEvent) Trade() (models.Trade, error) {
	var missing []string
	if e.Symbol == nil || *e.Symbol == "" {
		missing = append(missing, "s")
	}
	if e.Price == nil {
		missing = append(missing, "p")
	}
	if e.Quantity == nil {
		missing = append(missing, "q")
	}
	if e.TradeTime == nil {
		missing = append(missing, "T")
	}
	if e.TradeID == nil {
		missing = append(missing, "t")
	}
	if len(missing) > 0 {
		return models.Trade{}, fmt.Errorf("%w: missing fields %s", ErrMalformedTrade, strings.Join(missing, ","))
	}

	price, err := decimal.NewFromString(*e.Price)
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: price %q: %v", ErrMalformedTrade, *e.Price, err)
	}
	qty, err := decimal.NewFromString(*e.Quantity)
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: quantity %q: %v", ErrMalformedTrade, *e.Quantity, err)
	}
	if !price.IsPositive() || qty.IsNegative() {
		return models.Trade{}, fmt.Errorf("%w: non-positive price %s or negative quantity %s", ErrMalformedTrade, price, qty)
	}

	return models.Trade{
		Symbol:    strings.ToUpper(*e.Symbol),
		Price:     price,
		Quantity:  qty,
		EventTime: *e.TradeTime,
		TradeID:   *e.TradeID,
	}, nil
}

// EncodeTradeMessage renders a Trade back into the combined-stream envelope.
// Used when a trade has to be re-queued after a failed insert.
func EncodeTradeMessage(t models.Trade) ([]byte, error) {
	symbol := t.Symbol
	price := t.Price.String()
	qty := t.Quantity.String()
	tradeTime := t.EventTime
	tradeID := t.TradeID

	return json.Marshal(StreamMessage{
		Stream: StreamName(symbol),
		Data: &TradeEvent{
			EventType: "trade",
			EventTime: tradeTime,
			Symbol:    &symbol,
			Price:     &price,
			Quantity:  &qty,
			TradeTime: &tradeTime,
			TradeID:   &tradeID,
		},
	})
}

// StreamName returns the trade stream name for a symbol, e.g. "btcusdt@trade".
func StreamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// CombinedStreamURL builds the combined-stream URL for the given symbols.
func CombinedStreamURL(base string, symbols []string) (string, error) {
	if len(symbols) == 0 {
		return "", errors.New("no symbols configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream url %q: %w", base, err)
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = StreamName(s)
	}
	// The separator must stay a literal '/', so the query is built by hand.
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}
