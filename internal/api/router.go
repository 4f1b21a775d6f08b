package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/confirmation-messenger/internal/connection"
)

type RouterConfig struct {
	Manager   *connection.Manager
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       *zap.Logger
	APISecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints stay unauthenticated for probes.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Session endpoints
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APISecret))
		r.Post("/whatsapp/connect", connectHandler(cfg.Manager))
		r.Post("/whatsapp/send", sendHandler(cfg.Manager))
		r.Post("/whatsapp/disconnect", disconnectHandler(cfg.Manager))
		r.Get("/whatsapp/status/{phone}", statusHandler(cfg.Manager))
	})

	return r
}
