package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"binance-market-stream-go/internal/market"
	"binance-market-stream-go/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the live market state the server reads from.
type Engine interface {
	Snapshot(symbol, interval string) (models.Candle, bool)
	RequestQuote(symbol string, side models.Side) (decimal.Decimal, error)
	Quotes() []models.Quote
	Interval(name string) (models.Interval, error)
}

// APIServer exposes the live subscription websocket and the synchronous
// quote endpoint used by the order subsystem.
type APIServer struct {
	server   *http.Server
	engine   Engine
	hub      *market.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	ID        uuid.UUID
	StartTime time.Time
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(port int, engine Engine, hub *market.Hub, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		hub:    hub,
		logger: logger.Named("api-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:       time.Now,
		ID:        uuid.New(),
		StartTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the gin router.
func (s *APIServer) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.healthHandler)
	router.GET("/status", s.statusHandler)
	router.GET("/ws", s.wsHandler)

	v1 := router.Group("/api/v1")
	v1.GET("/quotes", s.quotesHandler)
	v1.GET("/quotes/:symbol", s.quoteHandler)

	return router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *APIServer) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Len()})
}

func (s *APIServer) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uuid":       s.ID.String(),
		"start_time": s.StartTime.Format(time.RFC3339),
		"uptime":     time.Since(s.StartTime).String(),
		"clients":    s.hub.Len(),
		"symbols":    len(s.engine.Quotes()),
	})
}

// QuoteResponse is the body of a successful quote request.
type QuoteResponse struct {
	Symbol    string      `json:"symbol"`
	Side      models.Side `json:"side"`
	Price     string      `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

func (s *APIServer) quoteHandler(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	side := models.Side(strings.ToLower(c.DefaultQuery("side", string(models.SideBuy))))

	price, err := s.engine.RequestQuote(symbol, side)
	switch {
	case errors.Is(err, market.ErrNoLivePrice):
		c.JSON(http.StatusNotFound, gin.H{"symbol": symbol, "error": err.Error()})
		return
	case errors.Is(err, market.ErrInvalidSide):
		c.JSON(http.StatusBadRequest, gin.H{"symbol": symbol, "error": err.Error()})
		return
	case err != nil:
		s.logger.Error("Quote request failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get quote"})
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		Symbol:    symbol,
		Side:      side,
		Price:     price.String(),
		Timestamp: s.now().UnixMilli(),
	})
}

func (s *APIServer) quotesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Quotes())
}
