package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/agenda"
	"github.com/hackgods/confirmation-messenger/internal/api"
	"github.com/hackgods/confirmation-messenger/internal/config"
	"github.com/hackgods/confirmation-messenger/internal/confirmation"
	"github.com/hackgods/confirmation-messenger/internal/connection"
	"github.com/hackgods/confirmation-messenger/internal/db"
	"github.com/hackgods/confirmation-messenger/internal/intent"
	redisclient "github.com/hackgods/confirmation-messenger/internal/redis"
	"github.com/hackgods/confirmation-messenger/internal/resolver"
	"github.com/hackgods/confirmation-messenger/internal/transport"
)

const version = "1.0.0"

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

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	store := confirmation.NewPgRepository(pgPool)
	agendaClient := agenda.NewClient(cfg.AgendaURL, cfg.AgendaSecret, cfg.StatusDedup, logger.Named("agenda"))
	dialer := transport.NewBridgeDialer(cfg.BridgeURL, cfg.BridgeAPIKey, logger.Named("bridge"))
	creds := transport.NewFileCredentialStore(cfg.CredsDir)

	mgr := connection.NewManager(dialer, creds, store, agendaClient, cfg.Connection, logger.Named("connection"))

	keywords := intent.NewKeywordClassifier(intent.ConfirmKeywords, intent.CancelKeywords)
	stages := []intent.Classifier{
		keywords,
		intent.NewFuzzyClassifier(intent.ConfirmKeywords, intent.CancelKeywords, 2),
	}
	if cfg.ClassifierURL != "" {
		stages = append(stages, intent.NewSemanticClassifier(cfg.ClassifierURL, cfg.ClassifierAPIKey, logger.Named("classifier")))
	}
	pipeline := intent.NewPipeline(stages...)

	dedup := redisclient.NewInboundDeduper(rdb, cfg.DedupTTL, logger.Named("dedup"))
	res := resolver.New(store, agendaClient, mgr, pipeline, keywords, dedup, cfg.CancelReasonLack, logger.Named("resolver"))
	mgr.WithInboundHandler(res.HandleInbound)

	router := api.NewRouter(api.RouterConfig{
		Manager:   mgr,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       logger.Named("http"),
		APISecret: cfg.APISecret,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	mgr.Shutdown(shutCtx)

	logger.Info("api-server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
