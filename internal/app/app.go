// Package app wires the batch services over Postgres, Redis and RabbitMQ
// for the server and the maintenance tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"

	"github.com/redis/go-redis/v9"

	"ticket-batch-platform/internal/config"
	"ticket-batch-platform/internal/database"
	"ticket-batch-platform/internal/queue"
	"ticket-batch-platform/internal/repositories"
	"ticket-batch-platform/internal/services"
)

type publisher interface {
	services.RepairNotifier
	Close() error
}

// App holds the connected infrastructure and the services built on it
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *database.DB
	Redis  *redis.Client

	Audit      *services.AuditService
	Batches    *services.BatchService
	Diagnosis  *services.BatchDiagnosisService
	Reconciler *services.BatchReconciler

	publisher publisher
}

// New connects to the database and the optional Redis and RabbitMQ
// backends and builds the services
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.NewConnection(ctx, cfg.Database.Connection())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Redis:  config.NewRedisClient(ctx, cfg.Redis, logger),
	}

	if cfg.RabbitMQ.URL != "" {
		a.publisher = queue.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.RepairQueue, logger)
	} else {
		logger.Info("RABBITMQ_URL not set, repair notifications disabled")
		a.publisher = queue.NoopPublisher{}
	}

	batchRepo := repositories.NewBatchRepository(db.DB)
	cache := services.NewRedisDiagnosisCache(a.Redis, cfg.Redis.DiagnosisTTL, logger)

	a.Audit = services.NewAuditService(repositories.NewAuditLogRepository(db.DB))
	a.Batches = services.NewBatchService(batchRepo, a.Audit, cache, logger)
	a.Diagnosis = services.NewBatchDiagnosisService(batchRepo, cache, logger)
	a.Reconciler = services.NewBatchReconciler(services.ReconcilerConfig{
		Store:        batchRepo,
		Notifier:     a.publisher,
		Audit:        a.Audit,
		Cache:        cache,
		Logger:       logger,
		Concurrency:  cfg.Reconcile.Concurrency,
		BatchTimeout: cfg.Reconcile.BatchTimeout,
	})

	return a, nil
}

// Close releases every connection the app opened
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// WithCLIActor attributes audit entries written from a maintenance tool to
// "cli:<os user>"
func WithCLIActor(ctx context.Context) context.Context {
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return services.WithActor(ctx, services.Actor{UserID: "cli:" + name, UserAgent: "batch-maintenance-cli"})
}
