package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"binance-market-stream-go/internal/bus"
	"binance-market-stream-go/internal/config"
	"binance-market-stream-go/internal/database"
	"binance-market-stream-go/internal/logger"
	"binance-market-stream-go/internal/models"
	"binance-market-stream-go/internal/persister"
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
	log, err := logger.NewLogger("persister", cfg.Logger.Level, cfg.Logger.Format)
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

	// Initialize database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Database.Timescale {
		if err := database.EnableTimescale(db, intervals); err != nil {
			log.Fatal("Failed to set up time-series schema", zap.Error(err))
		}
	}
	log.Info("Database connection successful and schema migrated.")

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

	queue := bus.NewQueue(redisClient, &cfg.Redis)
	if primary, retry, err := queue.Depth(ctx); err == nil {
		log.Info("Queue backlog", zap.Int64("queue", primary), zap.Int64("retry_queue", retry))
	}

	p := persister.New(log, &cfg.Persister, database.NewTradeStore(db), queue,
		persister.WithRetryDetector(func(m bus.Message) bool { return m.Retry(queue) }))
	if err := p.Run(ctx); err != nil {
		log.Error("Persister exited with error", zap.Error(err))
	}

	log.Info("Persister has been shut down.", zap.Any("stats", p.Stats()))
}
