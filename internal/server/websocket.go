package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"binance-market-stream-go/internal/market"
	"binance-market-stream-go/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Client message types.
const (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgRequestQuote = "request-quote"
)

// clientMessage is a request sent by a websocket client.
type clientMessage struct {
	Type     string      `json:"type"`
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval"`
	Side     models.Side `json:"side"`
}

func (s *APIServer) wsHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.hub.Register()
	s.hub.Send(client, market.Event{Type: market.EventQuoteSnapshot, Quotes: s.engine.Quotes(), Time: s.now().UnixMilli()})

	go s.writePump(conn, client)
	s.readPump(conn, client)
}

// readPump handles client requests until the connection fails.
func (s *APIServer) readPump(conn *websocket.Conn, client *market.Client) {
	defer func() {
		s.hub.Unregister(client)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Websocket read failed", zap.String("client_id", client.ID.String()), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.hub.Send(client, market.Event{Type: market.EventError, Error: "invalid message"})
			continue
		}
		s.handleMessage(client, msg)
	}
}

func (s *APIServer) handleMessage(client *market.Client, msg clientMessage) {
	symbol := strings.ToUpper(msg.Symbol)

	switch msg.Type {
	case msgSubscribe:
		if _, err := s.engine.Interval(msg.Interval); err != nil || symbol == "" {
			s.hub.Send(client, market.Event{Type: market.EventError, Symbol: symbol, Interval: msg.Interval, Error: market.ErrUnknownInterval.Error()})
			return
		}
		s.hub.Subscribe(client, market.Topic(symbol, msg.Interval))
		if candle, ok := s.engine.Snapshot(symbol, msg.Interval); ok {
			s.hub.Send(client, market.Event{Type: market.EventCandleInitial, Symbol: symbol, Interval: msg.Interval, Candle: &candle})
		}

	case msgUnsubscribe:
		s.hub.Unsubscribe(client, market.Topic(symbol, msg.Interval))

	case msgRequestQuote:
		side := models.Side(strings.ToLower(string(msg.Side)))
		price, err := s.engine.RequestQuote(symbol, side)
		if err != nil {
			reason := err.Error()
			if !errors.Is(err, market.ErrNoLivePrice) && !errors.Is(err, market.ErrInvalidSide) {
				reason = "failed to get quote"
			}
			s.hub.Send(client, market.Event{Type: market.EventQuoteError, Symbol: symbol, Side: side, Error: reason})
			return
		}
		s.hub.Send(client, market.Event{
			Type:   market.EventQuoteResponse,
			Symbol: symbol,
			Side:   side,
			Price:  price.String(),
			Time:   s.now().UnixMilli(),
		})

	default:
		s.hub.Send(client, market.Event{Type: market.EventError, Error: "unknown message type " + msg.Type})
	}
}

// writePump drains the client's queue onto the connection and keeps it alive.
func (s *APIServer) writePump(conn *websocket.Conn, client *market.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
