package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"clearance-watch/internal/catalog"
	"clearance-watch/internal/config"
	"clearance-watch/internal/database"
	"clearance-watch/internal/lock"
	"clearance-watch/internal/logger"
	"clearance-watch/internal/notify"
	"clearance-watch/internal/repository"
	"clearance-watch/internal/scheduler"
	"clearance-watch/internal/server"
	"clearance-watch/internal/service"
	"clearance-watch/internal/transport"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func gracefulShutdown(ctx context.Context, stop context.CancelFunc, apiServer *server.Server, sched *scheduler.Scheduler, syncHandler *transport.SyncHandler, logger *zap.Logger, done chan bool) {
	<-ctx.Done()

	logger.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	// A running pass gets the same budget as in-flight requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("Sync pass did not stop in time", zap.Error(err))
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// manual passes run outside the scheduler and must finish before the
	// store is closed
	if err := syncHandler.Wait(shutdownCtx); err != nil {
		logger.Error("Manual sync pass did not stop in time", zap.Error(err))
	}

	if err := apiServer.Close(); err != nil {
		logger.Error("Error closing server resources", zap.Error(err))
	}

	logger.Info("Server exiting")

	done <- true
}

func main() {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		logger.NewWithDefaults().Fatal("Configuration rejected", zap.Error(err))
	}

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting clearance watcher",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("schedule", cfg.Sync.Schedule),
		zap.Int("categories", len(cfg.Categories)),
	)

	// Cancelled on SIGINT/SIGTERM; a second signal kills the process
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbService, err := database.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database health check", zap.Any("health", dbService.Health(ctx)))

	if err := database.RunMigrations(ctx, dbService.DB(), cfg.Database.MigrationsDir, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	var (
		redisClient *redis.Client
		passLock    lock.PassLock
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to reach redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
		}
		passLock = lock.NewRedisLock(redisClient, lock.DefaultKey, cfg.Redis.LockTTL)
		log.Info("Using redis pass lock", zap.String("addr", cfg.Redis.Addr))
	} else {
		passLock = lock.NewLocalLock()
		log.Info("REDIS_ADDR not set, using in-process pass lock")
	}

	normalizer, err := catalog.NewNormalizer(cfg.Sync.StoreBaseURL)
	if err != nil {
		log.Fatal("Invalid store base URL", zap.Error(err))
	}

	telegram, err := notify.NewTelegramClient(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Sync.HTTPTimeout, log)
	if err != nil {
		log.Fatal("Failed to create telegram client", zap.Error(err))
	}

	syncService := service.NewSyncService(service.Dependencies{
		Fetcher:    catalog.NewFetcher(cfg.Sync.StoreBaseURL, cfg.Sync.PageSize, cfg.Sync.MaxPages, cfg.Sync.HTTPTimeout, log),
		Normalizer: normalizer,
		Classifier: catalog.NewAvailabilityClient(cfg.Sync.AvailabilityURL, cfg.Sync.AvailabilityRPS, cfg.Sync.HTTPTimeout, log),
		Notifier: notify.NewDispatcher(telegram, notify.Config{
			Threshold:    cfg.Sync.NotifyThreshold,
			MaxRetries:   cfg.Sync.NotifyMaxRetries,
			StoreBaseURL: cfg.Sync.StoreBaseURL,
		}, log),
		CatalogRepo:  repository.NewCatalogRepository(dbService.DB()),
		CategoryRepo: repository.NewCategoryRepository(dbService.DB()),
		Lock:         passLock,
		Categories:   cfg.Categories,
		Retention:    cfg.Sync.Retention,
	}, log)

	sched, err := scheduler.New(cfg.Sync.Schedule, func(jobCtx context.Context) {
		report, err := syncService.RunPass(jobCtx)
		switch {
		case errors.Is(err, service.ErrPassInProgress):
			log.Warn("Scheduled pass skipped, another pass holds the lock")
		case err != nil:
			log.Error("Scheduled pass failed", zap.Error(err))
		default:
			log.Info("Scheduled pass finished",
				zap.String("pass_id", report.ID.String()),
				zap.Int("failed_categories", report.Failed()),
				zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
			)
		}
	}, log)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	syncHandler := transport.NewSyncHandler(ctx, syncService, cfg.Categories, sched.Next, log)
	srv := server.NewServer(cfg, log, dbService, redisClient, syncHandler)

	done := make(chan bool, 1)
	go gracefulShutdown(ctx, stop, srv, sched, syncHandler, log, done)

	sched.Start()
	if cfg.Sync.RunOnStart {
		go sched.RunNow()
	}

	log.Info("Server listening", zap.String("addr", srv.Addr))

	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("HTTP server error", zap.Error(err))
	}

	<-done
	log.Info("Graceful shutdown complete")
}
