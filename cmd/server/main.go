package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-batch-platform/internal/app"
	"ticket-batch-platform/internal/config"
	"ticket-batch-platform/internal/handlers"
	"ticket-batch-platform/internal/middleware"
	"ticket-batch-platform/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	defer a.Close()

	applied, err := a.DB.RunMigrations(ctx, logger)
	if err != nil {
		log.Fatal("Failed to run migrations:", err)
	}
	logger.Info("database ready", "migrations_applied", applied)

	limiter := middleware.NewRedisRateLimiter(a.Redis, 30, time.Minute, logger)
	go limiter.Run(ctx, time.Minute)

	cors := middleware.DefaultCORSConfig()
	router := server.NewRouter(server.RouterConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		Batches:   handlers.NewBatchHandler(a.Batches, logger),
		AdminBatches: handlers.NewAdminBatchHandler(handlers.AdminBatchHandlerConfig{
			BatchService:     a.Batches,
			DiagnosisService: a.Diagnosis,
			Reconciler:       a.Reconciler,
			AuditLogs:        a.Audit,
			Logger:           logger,
		}),
		RepairLimiter: limiter,
		CORS:          &cors,
		HealthCheck: func(r *http.Request) error {
			return a.DB.PingContext(r.Context())
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
