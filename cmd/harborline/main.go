package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/harborline/harborline/internal/agents"
	"github.com/harborline/harborline/internal/allocations"
	"github.com/harborline/harborline/internal/app"
	"github.com/harborline/harborline/internal/availability"
	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/observability"
	"github.com/harborline/harborline/internal/platform/cache"
	"github.com/harborline/harborline/internal/platform/db"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
	"github.com/harborline/harborline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	summaryCache := availability.NewSummaryCache(redisClient, 10*time.Minute)

	fleetRepo := fleet.NewRepository(pool)
	agentsRepo := agents.NewRepository(pool)

	tripsRepo := trips.NewRepository(pool)
	tripsService := trips.NewService(tripsRepo, fleetRepo, auditLogger)

	availabilityRepo := availability.NewRepository(pool)
	availabilityService := availability.NewService(availabilityRepo, fleetRepo, auditLogger, summaryCache, idempotencyStore)

	allocationsRepo := allocations.NewRepository(pool)
	allocationsService := allocations.NewService(allocationsRepo, agentsRepo, auditLogger, summaryCache, idempotencyStore)

	metrics := observability.NewMetrics()
	exposeInternal := cfg.ExposeInternalErrors()

	tripsHandler := trips.NewHandler(logger, tripsService, exposeInternal)
	availabilityHandler := availability.NewHandler(logger, availabilityService, exposeInternal)
	allocationsHandler := allocations.NewHandler(logger, allocationsService, exposeInternal)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		TripsHandler:        tripsHandler,
		AvailabilityHandler: availabilityHandler,
		AllocationsHandler:  allocationsHandler,
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
