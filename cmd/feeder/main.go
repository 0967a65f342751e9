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
	"binance-market-stream-go/internal/feed"
	"binance-market-stream-go/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger("feeder", cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

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

	// Check the configured symbols against the exchange before streaming
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if err := binance.ValidateSymbols(ctx, restClient, cfg.Binance.Symbols); err != nil {
		log.Fatal("Symbol validation failed", zap.Error(err))
	}
	skew, err := binance.ClockSkew(ctx, restClient, time.Now)
	if err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	if skew > time.Second || skew < -time.Second {
		log.Warn("Local clock differs from exchange time", zap.Duration("skew", skew))
	}
	log.Info("Successfully connected to Binance API.", zap.Strings("symbols", cfg.Binance.Symbols))

	// Connect to Redis
	redisClient, err := bus.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	url, err := binance.CombinedStreamURL(cfg.Binance.StreamURL, cfg.Binance.Symbols)
	if err != nil {
		log.Fatal("Invalid stream configuration", zap.Error(err))
	}

	adapter := feed.NewAdapter(log, url, bus.NewPublisher(redisClient, &cfg.Redis), cfg.Binance.ReconnectMax)
	if err := adapter.Run(ctx); err != nil {
		log.Error("Feed exited with error", zap.Error(err))
	}

	log.Info("Feeder has been shut down.", zap.Any("stats", adapter.Stats()))
}
