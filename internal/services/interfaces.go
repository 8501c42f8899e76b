package services

import (
	"context"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/queue"
)

// BatchStore is the narrow persistence interface the status engine and
// the repair tooling depend on
type BatchStore interface {
	// GetBatch returns models.ErrBatchNotFound when no batch has the id
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, eventID string) ([]*models.Batch, error)
	// UpdateBatchFields writes only the fields set in the update
	UpdateBatchFields(ctx context.Context, id string, fields models.BatchFieldUpdate) error
}

// BatchRepository extends BatchStore with the writes used by the
// administration and purchase paths
type BatchRepository interface {
	BatchStore
	CreateBatch(ctx context.Context, batch *models.Batch) error
	// DecrementAvailable subtracts quantity only when enough tickets remain
	// and returns the new available count. It returns
	// models.ErrInsufficientTickets when the condition fails.
	DecrementAvailable(ctx context.Context, id string, quantity int) (int, error)
}

// AuditLogRepository persists administrative audit entries
type AuditLogRepository interface {
	Create(ctx context.Context, req *models.AuditLogCreateRequest) (*models.AuditLog, error)
	GetByTarget(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditRecorder records administrative actions
type AuditRecorder interface {
	LogAction(ctx context.Context, entry AuditEntry) error
}

// AuditLogReader pages through the audit history of one target
type AuditLogReader interface {
	GetAuditLogsByTarget(ctx context.Context, targetType, targetID string, page, limit int) ([]*models.AuditLog, int, error)
}

// RepairNotifier is told about every repair that was written
type RepairNotifier interface {
	PublishBatchRepaired(ctx context.Context, event queue.BatchRepairedEvent) error
}

// DiagnosisCache caches diagnosis reports per event
type DiagnosisCache interface {
	Get(ctx context.Context, eventID string) (*DiagnosisReport, bool)
	Set(ctx context.Context, eventID string, report *DiagnosisReport)
	Invalidate(ctx context.Context, eventID string)
}

// BatchServiceInterface defines the batch read, edit and purchase operations
type BatchServiceInterface interface {
	ListEventBatches(ctx context.Context, eventID string) ([]*BatchView, error)
	GetBatch(ctx context.Context, id string) (*BatchView, error)
	CreateBatch(ctx context.Context, req *models.BatchCreateRequest) (*BatchView, error)
	UpdateBatch(ctx context.Context, id string, req *models.BatchUpdateRequest) (*BatchView, error)
	CheckPurchasable(ctx context.Context, batchID string, quantity int) (*models.Batch, error)
	ReserveTickets(ctx context.Context, batchID string, quantity int) (*BatchView, error)
}

// BatchDiagnosisServiceInterface defines the read-only diagnosis operations
type BatchDiagnosisServiceInterface interface {
	DiagnoseEvent(ctx context.Context, eventID string) (*DiagnosisReport, error)
	DiagnoseEventFresh(ctx context.Context, eventID string) (*DiagnosisReport, error)
	DebugBatch(ctx context.Context, batchID string) (*models.BatchDebugInfo, error)
}

// BatchReconcilerInterface defines the repair operations
type BatchReconcilerInterface interface {
	FixSingleBatchStatus(ctx context.Context, batchID string) *RepairOutcome
	FixAllBatchesForEvent(ctx context.Context, eventID string) (*RepairReport, error)
	FixAvailableTickets(ctx context.Context, target RepairTarget, confirmation string) (*RepairReport, error)
}
