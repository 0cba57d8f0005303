package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rsi-trade-bot/internal/binance"
	"rsi-trade-bot/internal/config"
	"rsi-trade-bot/internal/database"
	"rsi-trade-bot/internal/indicator"
	"rsi-trade-bot/internal/lock"
	"rsi-trade-bot/internal/logger"
	"rsi-trade-bot/internal/trader"
)

// main runs exactly one trading cycle and exits. Recurring execution is the
// job of an external scheduler such as cron.
func main() {
	// Credentials may come from a local .env file; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn("Configuration warning", zap.String("detail", w))
	}
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Configuration loaded",
		zap.Int("active_assets", len(cfg.ActiveAssets())),
		zap.Bool("dry_run", cfg.Trading.DryRun))

	// One process at a time: overlapping cycles would double-spend the
	// daily quota and race on order placement.
	fileLock, err := lock.Acquire(cfg.Lock.Path)
	if err != nil {
		log.Fatal("Could not acquire instance lock", zap.Error(err))
	}
	defer fileLock.Release()

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := database.NewStore(db, log)
	log.Info("Database connection successful and schema migrated.")

	restClient := binance.NewRestClient(&cfg.Binance, log)
	if err := restClient.SyncServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	// Cancel the cycle early on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, finishing up...")
		cancel()
	}()

	rsi := indicator.NewCached(
		indicator.NewKlineSource(restClient, log),
		indicator.DefaultCacheTTL,
		nil,
	)

	engine := trader.NewEngine(log, &cfg, restClient, store, rsi)
	if err := engine.RunCycle(ctx); err != nil {
		fileLock.Release()
		log.Fatal("Trading cycle failed", zap.Error(err))
	}
}
