package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-batch-platform/internal/models"
)

// DiagnosisReport summarizes the health of a set of batches
type DiagnosisReport struct {
	EventID                string                   `json:"event_id,omitempty"`
	TotalBatches           int                      `json:"total_batches"`
	MismatchCount          int                      `json:"mismatch_count"`
	ExhaustedCount         int                      `json:"exhausted_count"`
	CapacityViolationCount int                      `json:"capacity_violation_count"`
	UnknownStatusCount     int                      `json:"unknown_status_count"`
	NilBatchCount          int                      `json:"nil_batch_count"`
	Batches                []*models.BatchDebugInfo `json:"batches"`
	GeneratedAt            time.Time                `json:"generated_at"`
}

// Healthy reports whether no batch has a stale status or more available
// than total tickets
func (r *DiagnosisReport) Healthy() bool {
	return r.MismatchCount == 0 && r.CapacityViolationCount == 0
}

// Mismatched returns the debug entries whose persisted status is stale
func (r *DiagnosisReport) Mismatched() []*models.BatchDebugInfo {
	var out []*models.BatchDebugInfo
	for _, info := range r.Batches {
		if info.StatusMismatch {
			out = append(out, info)
		}
	}
	return out
}

// DiagnoseBatches evaluates every batch at now without modifying anything.
// Nil entries are skipped and counted.
func DiagnoseBatches(batches []*models.Batch, now time.Time) *DiagnosisReport {
	report := &DiagnosisReport{
		Batches:     make([]*models.BatchDebugInfo, 0, len(batches)),
		GeneratedAt: now,
	}

	for _, b := range batches {
		info, err := models.NewBatchDebugInfo(b, now)
		if err != nil {
			report.NilBatchCount++
			continue
		}

		report.TotalBatches++
		if info.StatusMismatch {
			report.MismatchCount++
		}
		if info.Exhausted {
			report.ExhaustedCount++
		}
		if info.CapacityExceeded {
			report.CapacityViolationCount++
		}
		if info.UnknownStatus {
			report.UnknownStatusCount++
		}
		report.Batches = append(report.Batches, info)
	}

	return report
}

// BatchDiagnosisService diagnoses batches loaded from the store
type BatchDiagnosisService struct {
	store  BatchStore
	cache  DiagnosisCache
	logger *slog.Logger
	now    func() time.Time
}

// NewBatchDiagnosisService creates a diagnosis service. cache may be nil.
func NewBatchDiagnosisService(store BatchStore, cache DiagnosisCache, logger *slog.Logger) *BatchDiagnosisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchDiagnosisService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// DiagnoseEvent lists the event's batches and diagnoses them. A cached
// report is returned while it is fresh.
func (s *BatchDiagnosisService) DiagnoseEvent(ctx context.Context, eventID string) (*DiagnosisReport, error) {
	if s.cache != nil {
		if report, ok := s.cache.Get(ctx, eventID); ok {
			return report, nil
		}
	}
	return s.diagnose(ctx, eventID)
}

// DiagnoseEventFresh ignores any cached report and always reads the store.
// The new report replaces the cached one. Status writes made outside this
// service do not invalidate the cache, so maintenance tools use this.
func (s *BatchDiagnosisService) DiagnoseEventFresh(ctx context.Context, eventID string) (*DiagnosisReport, error) {
	return s.diagnose(ctx, eventID)
}

func (s *BatchDiagnosisService) diagnose(ctx context.Context, eventID string) (*DiagnosisReport, error) {
	batches, err := s.store.ListBatches(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches for event %s: %w", eventID, err)
	}

	report := DiagnoseBatches(batches, s.now())
	report.EventID = eventID

	if !report.Healthy() {
		s.logger.Warn("batch drift detected",
			"event_id", eventID,
			"mismatches", report.MismatchCount,
			"capacity_violations", report.CapacityViolationCount,
		)
	}

	if s.cache != nil {
		s.cache.Set(ctx, eventID, report)
	}
	return report, nil
}

// DebugBatch returns the debug snapshot of a single batch
func (s *BatchDiagnosisService) DebugBatch(ctx context.Context, batchID string) (*models.BatchDebugInfo, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return models.NewBatchDebugInfo(batch, s.now())
}
