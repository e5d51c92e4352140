package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"clearance-watch/internal/config"
	"clearance-watch/internal/metrics"
	custommiddleware "clearance-watch/internal/middleware"
	"clearance-watch/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	triggerRequestsPerWindow = 5
	triggerWindow            = time.Minute
)

// Database is the part of the catalog store the ops server needs
type Database interface {
	Health(ctx context.Context) map[string]string
	Close() error
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     Database
	redis  *redis.Client
}

// NewServer builds the ops HTTP server. redisClient may be nil, in which
// case manual triggers are rate limited in-process.
func NewServer(cfg *config.Config, logger *zap.Logger, db Database, redisClient *redis.Client, syncHandler *transport.SyncHandler) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger, "/health", "/metrics"))

	s := &Server{
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", metrics.Handler())

	limitCfg := custommiddleware.RateLimitConfig{
		RequestsPerWindow: triggerRequestsPerWindow,
		Window:            triggerWindow,
		KeyPrefix:         "clearance-watch:sync-trigger",
	}
	var triggerLimit func(http.Handler) http.Handler
	if redisClient != nil {
		triggerLimit = custommiddleware.RateLimitMiddleware(redisClient, limitCfg, logger)
	} else {
		triggerLimit = custommiddleware.LocalRateLimitMiddleware(limitCfg, logger)
	}
	syncHandler.RegisterRoutes(router, triggerLimit)

	s.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	stats := s.db.Health(r.Context())

	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{"database": stats}
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			body["redis"] = map[string]string{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			body["redis"] = map[string]string{"status": "up"}
		}
	}

	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	custommiddleware.RespondWithJSON(w, status, body)
}

// Close releases the store and Redis connections
func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
