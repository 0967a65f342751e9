package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-market-stream-go/internal/binance"
	"binance-market-stream-go/internal/bus"
	"binance-market-stream-go/internal/config"
	"binance-market-stream-go/internal/logger"
	"binance-market-stream-go/internal/market"
	"binance-market-stream-go/internal/models"
	"binance-market-stream-go/internal/server"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger("streamer", cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	intervals, err := models.ParseIntervals(cfg.Market.Intervals)
	if err != nil {
		log.Fatal("Invalid interval configuration", zap.Error(err))
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	redisClient, err := bus.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	hub := market.NewHub(log, cfg.Market.ClientBuffer)
	engine := market.NewEngine(log, market.EngineConfig{
		Intervals:     intervals,
		Spread:        decimal.NewFromFloat(cfg.Market.Spread),
		PriceDecimals: cfg.Market.PriceDecimals,
	}, hub)

	raw := make(chan []byte, 1024)
	if err := bus.NewSubscriber(redisClient, &cfg.Redis, log).Subscribe(ctx, raw); err != nil {
		log.Fatal("Failed to subscribe to trade channel", zap.Error(err))
	}

	trades := make(chan models.Trade, 1024)
	go decode(ctx, log, raw, trades)
	go engine.Run(ctx, trades, cfg.Market.Shards)

	apiServer := server.NewAPIServer(cfg.Server.Port, engine, hub, log)
	apiServer.Start()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Streamer has been shut down.")
}

// decode turns broadcast payloads into trades for the engine. Malformed
// payloads are skipped.
func decode(ctx context.Context, log *zap.Logger, in <-chan []byte, out chan<- models.Trade) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-in:
			trade, err := binance.ParseTradeMessage(payload)
			if err != nil {
				log.Warn("Discarding malformed broadcast message", zap.Error(err), zap.ByteString("payload", payload))
				continue
			}
			select {
			case out <- trade:
			case <-ctx.Done():
				return
			}
		}
	}
}
