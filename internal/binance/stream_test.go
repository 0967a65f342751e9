package binance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeMessage(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":12345,"p":"43210.12000000","q":"0.00150000","T":1700000000099,"m":true}}`)

		trade, err := ParseTradeMessage(raw)

		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", trade.Symbol)
		assert.Equal(t, "43210.12", trade.Price.String())
		assert.Equal(t, "0.0015", trade.Quantity.String())
		assert.Equal(t, int64(1700000000099), trade.EventTime)
		assert.Equal(t, int64(12345), trade.TradeID)
	})

	t.Run("ZeroTradeIDIsPresent", func(t *testing.T) {
		raw := []byte(`{"stream":"x","data":{"s":"ETHUSDT","t":0,"p":"1","q":"1","T":0}}`)
		trade, err := ParseTradeMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, int64(0), trade.TradeID)
	})

	malformed := map[string]string{
		"InvalidJSON":    `{"stream":`,
		"MissingData":    `{"stream":"btcusdt@trade"}`,
		"MissingSymbol":  `{"data":{"t":1,"p":"1","q":"1","T":1}}`,
		"MissingPrice":   `{"data":{"s":"BTCUSDT","t":1,"q":"1","T":1}}`,
		"MissingQty":     `{"data":{"s":"BTCUSDT","t":1,"p":"1","T":1}}`,
		"MissingTime":    `{"data":{"s":"BTCUSDT","t":1,"p":"1","q":"1"}}`,
		"MissingTradeID": `{"data":{"s":"BTCUSDT","p":"1","q":"1","T":1}}`,
		"BadPrice":       `{"data":{"s":"BTCUSDT","t":1,"p":"abc","q":"1","T":1}}`,
		"ZeroPrice":      `{"data":{"s":"BTCUSDT","t":1,"p":"0","q":"1","T":1}}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTradeMessage([]byte(raw))
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedTrade))
		})
	}
}

func TestEncodeTradeMessage_RoundTrip(t *testing.T) {
	raw := []byte(`{"stream":"solusdt@trade","data":{"s":"SOLUSDT","t":77,"p":"150.25","q":"3.5","T":1700000000000}}`)
	original, err := ParseTradeMessage(raw)
	require.NoError(t, err)

	encoded, err := EncodeTradeMessage(original)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"stream":"solusdt@trade"`)

	decoded, err := ParseTradeMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, original.Symbol, decoded.Symbol)
	assert.True(t, original.Price.Equal(decoded.Price))
	assert.True(t, original.Quantity.Equal(decoded.Quantity))
	assert.Equal(t, original.EventTime, decoded.EventTime)
	assert.Equal(t, original.TradeID, decoded.TradeID)
}

func TestCombinedStreamURL(t *testing.T) {
	u, err := CombinedStreamURL("wss://stream.binance.com:9443/stream", []string{"BTCUSDT", "ethusdt"})
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade", u)

	_, err = CombinedStreamURL("wss://stream.binance.com:9443/stream", nil)
	assert.Error(t, err)
}
