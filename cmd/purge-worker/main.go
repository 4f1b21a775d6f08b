package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/config"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/db"
)

// purge-worker hard-deletes pending confirmations past their expiry.
// Lookups already ignore expired rows, so this is housekeeping rather
// than correctness; it keeps the table small.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("purge-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	store := confirmation.NewPgRepository(pgPool)

	// Run once at startup
	runOnce(rootCtx, store, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping purge worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, store, logger)
		}
	}
}

func runOnce(ctx context.Context, store confirmation.Repository, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	purged, err := store.DeleteExpired(runCtx, time.Now())
	if err != nil {
		logger.Error("purge run error", zap.Error(err))
		return
	}
	logger.Info("purge run complete",
		zap.Int64("purged", purged),
		zap.Duration("took", time.Since(start)))
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
