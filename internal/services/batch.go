package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticket-batch-platform/internal/models"
)

// BatchView is a batch together with the status computed at read time.
// Listings and badges render ComputedStatus, never the persisted column.
type BatchView struct {
	*models.Batch
	ComputedStatus models.BatchStatus `json:"computed_status"`
	SoldTickets    int                `json:"sold_tickets"`
	Purchasable    bool               `json:"purchasable"`
}

func newBatchView(b *models.Batch, now time.Time) (*BatchView, error) {
	status, err := models.ComputeStatus(b, now)
	if err != nil {
		return nil, err
	}
	return &BatchView{
		Batch:          b,
		ComputedStatus: status,
		SoldTickets:    b.SoldTickets(),
		Purchasable:    status == models.BatchActive,
	}, nil
}

// BatchService handles batch read, edit and purchase operations
type BatchService struct {
	repo   BatchRepository
	audit  AuditRecorder
	cache  DiagnosisCache
	logger *slog.Logger
	now    func() time.Time
}

// NewBatchService creates a new batch service. audit and cache may be nil.
func NewBatchService(repo BatchRepository, audit AuditRecorder, cache DiagnosisCache, logger *slog.Logger) *BatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchService{
		repo:   repo,
		audit:  audit,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// ListEventBatches returns the event's batches with their computed status
func (s *BatchService) ListEventBatches(ctx context.Context, eventID string) ([]*BatchView, error) {
	batches, err := s.repo.ListBatches(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	now := s.now()
	views := make([]*BatchView, 0, len(batches))
	for _, b := range batches {
		if b == nil {
			continue
		}
		view, err := newBatchView(b, now)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetBatch returns one batch with its computed status
func (s *BatchService) GetBatch(ctx context.Context, id string) (*BatchView, error) {
	batch, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return newBatchView(batch, s.now())
}

// CreateBatch validates the request and stores a new batch with its
// status initialized from the computed status
func (s *BatchService) CreateBatch(ctx context.Context, req *models.BatchCreateRequest) (*BatchView, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, err.Error())
	}

	now := s.now()
	batch := &models.Batch{
		ID:               uuid.NewString(),
		EventID:          req.EventID,
		Title:            strings.TrimSpace(req.Title),
		Price:            req.Price,
		IsVisible:        req.IsVisible,
		AvailableTickets: req.TotalTickets,
		TotalTickets:     req.TotalTickets,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	status, err := models.ComputeStatus(batch, now)
	if err != nil {
		return nil, err
	}
	batch.Status = status

	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.record(ctx, AuditEntry{
		Action:     models.AuditActionBatchCreate,
		TargetType: models.AuditTargetBatch,
		TargetID:   batch.ID,
		Details:    map[string]interface{}{"event_id": batch.EventID, "title": batch.Title, "total_tickets": batch.TotalTickets},
	})
	s.invalidate(ctx, batch.EventID)

	return newBatchView(batch, now)
}

// UpdateBatch applies an administrative edit and writes the status
// recomputed for the edited batch in the same update
func (s *BatchService) UpdateBatch(ctx context.Context, id string, req *models.BatchUpdateRequest) (*BatchView, error) {
	current, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := req.Validate(current); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidInput, err.Error())
	}

	update := req.FieldUpdate(current)
	if update.IsEmpty() {
		return nil, models.ErrEmptyUpdate
	}

	now := s.now()
	edited := update.ApplyTo(current)
	status, err := models.ComputeStatus(edited, now)
	if err != nil {
		return nil, err
	}
	if status != current.Status {
		update.Status = &status
		edited.Status = status
	}

	if err := s.repo.UpdateBatchFields(ctx, id, update); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}

	s.record(ctx, AuditEntry{
		Action:     models.AuditActionBatchUpdate,
		TargetType: models.AuditTargetBatch,
		TargetID:   id,
		Details:    update,
	})
	s.invalidate(ctx, current.EventID)

	return newBatchView(edited, now)
}

// CheckPurchasable returns the batch when quantity tickets can be bought
// from it right now
func (s *BatchService) CheckPurchasable(ctx context.Context, batchID string, quantity int) (*models.Batch, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be greater than 0", models.ErrInvalidInput)
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	status, err := models.ComputeStatus(batch, s.now())
	if err != nil {
		return nil, err
	}
	if status != models.BatchActive {
		return nil, fmt.Errorf("%w: batch is %s", models.ErrBatchNotPurchasable, status)
	}
	if quantity > batch.AvailableTickets {
		return nil, fmt.Errorf("%w: requested %d, available %d", models.ErrInsufficientTickets, quantity, batch.AvailableTickets)
	}
	return batch, nil
}

// ReserveTickets takes quantity tickets from the batch. The decrement is
// conditional in the store so concurrent purchases cannot oversell; the
// batch is marked sold_out when the last ticket goes.
func (s *BatchService) ReserveTickets(ctx context.Context, batchID string, quantity int) (*BatchView, error) {
	batch, err := s.CheckPurchasable(ctx, batchID, quantity)
	if err != nil {
		return nil, err
	}

	remaining, err := s.repo.DecrementAvailable(ctx, batchID, quantity)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientTickets) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reserve tickets: %w", err)
	}

	batch.AvailableTickets = remaining
	if remaining <= 0 {
		soldOut := models.BatchSoldOut
		if err := s.repo.UpdateBatchFields(ctx, batchID, models.BatchFieldUpdate{Status: &soldOut}); err != nil {
			// The reconciler corrects the status later; the sale stands
			s.logger.Error("failed to mark batch sold out", "batch_id", batchID, "error", err)
		} else {
			batch.Status = soldOut
		}
	}
	s.invalidate(ctx, batch.EventID)

	return newBatchView(batch, s.now())
}

func (s *BatchService) record(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAction(ctx, entry); err != nil {
		s.logger.Error("audit log write failed", "action", entry.Action, "target_id", entry.TargetID, "error", err)
	}
}

func (s *BatchService) invalidate(ctx context.Context, eventID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, eventID)
	}
}
