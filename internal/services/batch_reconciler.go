package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/queue"
)

// DefaultReconcileConcurrency bounds how many batches of one event are
// repaired at the same time
const DefaultReconcileConcurrency = 4

// RepairResult is the per-batch result of a repair operation
type RepairResult string

const (
	RepairUnchanged RepairResult = "unchanged"
	RepairFixed     RepairResult = "fixed"
	RepairFailed    RepairResult = "failed"
	RepairNotFound  RepairResult = "not_found"
	RepairSkipped   RepairResult = "skipped"
)

// RepairSummary classifies a whole repair run
type RepairSummary string

const (
	SummaryNoProblems     RepairSummary = "no_problems"
	SummaryFixed          RepairSummary = "fixed"
	SummaryPartialFailure RepairSummary = "partial_failure"
	SummaryFailed         RepairSummary = "failed"
)

// RepairOutcome reports what a repair did to one batch
type RepairOutcome struct {
	BatchID         string             `json:"batch_id"`
	EventID         string             `json:"event_id,omitempty"`
	Title           string             `json:"title,omitempty"`
	Result          RepairResult       `json:"result"`
	StatusBefore    models.BatchStatus `json:"status_before,omitempty"`
	StatusAfter     models.BatchStatus `json:"status_after,omitempty"`
	AvailableBefore int                `json:"available_before"`
	AvailableAfter  int                `json:"available_after"`
	Error           string             `json:"error,omitempty"`

	Err error `json:"-"`
}

// Changed reports whether the repair wrote to the batch
func (o *RepairOutcome) Changed() bool {
	return o.Result == RepairFixed
}

func (o *RepairOutcome) fail(result RepairResult, err error) *RepairOutcome {
	o.Result = result
	o.Err = err
	o.Error = err.Error()
	return o
}

// RepairReport aggregates the outcomes of a multi-batch repair
type RepairReport struct {
	Operation  string           `json:"operation"`
	TargetType string           `json:"target_type"`
	TargetID   string           `json:"target_id"`
	Outcomes   []*RepairOutcome `json:"outcomes"`
	Checked    int              `json:"checked"`
	Unchanged  int              `json:"unchanged"`
	Fixed      int              `json:"fixed"`
	Failed     int              `json:"failed"`
	NotFound   int              `json:"not_found"`
	Skipped    int              `json:"skipped"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// NewSingleRepairReport wraps the outcome of FixSingleBatchStatus in a
// report so single and event-wide runs are summarized the same way
func NewSingleRepairReport(outcome *RepairOutcome) *RepairReport {
	report := &RepairReport{
		Operation:  models.AuditActionBatchStatusFix,
		TargetType: models.AuditTargetBatch,
		TargetID:   outcome.BatchID,
	}
	report.add(outcome)
	return report
}

func (r *RepairReport) add(o *RepairOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Checked++
	switch o.Result {
	case RepairUnchanged:
		r.Unchanged++
	case RepairFixed:
		r.Fixed++
	case RepairNotFound:
		r.NotFound++
	case RepairSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Summary tells apart a run with nothing to fix, a fully applied run, and
// runs where some or all batches could not be repaired
func (r *RepairReport) Summary() RepairSummary {
	incomplete := r.Failed + r.NotFound + r.Skipped
	succeeded := r.Fixed + r.Unchanged

	switch {
	case incomplete == 0 && r.Fixed == 0:
		return SummaryNoProblems
	case incomplete == 0:
		return SummaryFixed
	case succeeded > 0:
		return SummaryPartialFailure
	default:
		return SummaryFailed
	}
}

// RepairTarget selects the batches of a repair: exactly one of BatchID or
// EventID must be set
type RepairTarget struct {
	BatchID string `json:"batch_id,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Validate checks that exactly one target is set
func (t RepairTarget) Validate() error {
	if (t.BatchID == "") == (t.EventID == "") {
		return fmt.Errorf("%w: exactly one of batch id or event id is required", models.ErrInvalidInput)
	}
	return nil
}

// ReconcilerConfig holds the collaborators and limits of a BatchReconciler
type ReconcilerConfig struct {
	Store BatchStore
	// Notifier is told about applied repairs. If nil, nothing is published.
	Notifier RepairNotifier
	// Audit records repairs. If nil, repairs are only logged.
	Audit AuditRecorder
	// Cache has its event entry invalidated after a repair. Optional.
	Cache DiagnosisCache
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Concurrency bounds parallel repairs within one event
	Concurrency int
	// BatchTimeout bounds a single batch's read and write. Zero means no
	// limit beyond the caller's context.
	BatchTimeout time.Duration
	// Now overrides the clock used for status computation
	Now func() time.Time
}

// BatchReconciler detects and repairs drift between persisted batch state
// and the computed status
type BatchReconciler struct {
	store        BatchStore
	notifier     RepairNotifier
	audit        AuditRecorder
	cache        DiagnosisCache
	logger       *slog.Logger
	concurrency  int
	batchTimeout time.Duration
	now          func() time.Time
}

// NewBatchReconciler creates a reconciler from config
func NewBatchReconciler(config ReconcilerConfig) *BatchReconciler {
	r := &BatchReconciler{
		store:        config.Store,
		notifier:     config.Notifier,
		audit:        config.Audit,
		cache:        config.Cache,
		logger:       config.Logger,
		concurrency:  config.Concurrency,
		batchTimeout: config.BatchTimeout,
		now:          config.Now,
	}
	if r.notifier == nil {
		r.notifier = queue.NoopPublisher{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultReconcileConcurrency
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// FixSingleBatchStatus re-reads the batch and writes its computed status
// when the persisted one differs. Only the status column is written.
func (r *BatchReconciler) FixSingleBatchStatus(ctx context.Context, batchID string) *RepairOutcome {
	outcome := r.fixStatus(ctx, batchID)
	if outcome.Changed() {
		r.invalidate(ctx, outcome.EventID)
	}
	return outcome
}

// FixAllBatchesForEvent applies the single-batch status repair to every
// batch of the event. Each batch is re-read before its write and failures
// do not stop the others. The error is non-nil only when the listing
// itself fails.
func (r *BatchReconciler) FixAllBatchesForEvent(ctx context.Context, eventID string) (*RepairReport, error) {
	report := &RepairReport{
		Operation:  models.AuditActionBatchStatusFixAll,
		TargetType: models.AuditTargetEvent,
		TargetID:   eventID,
		StartedAt:  r.now(),
	}

	batches, err := r.store.ListBatches(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches for event %s: %w", eventID, err)
	}

	outcomes := r.forEachBatch(ctx, batches, r.fixStatus)
	for _, o := range outcomes {
		report.add(o)
	}
	report.FinishedAt = r.now()

	if report.Fixed > 0 {
		r.invalidate(ctx, eventID)
	}

	r.logger.Info("batch status repair finished",
		"event_id", eventID,
		"summary", report.Summary(),
		"checked", report.Checked,
		"fixed", report.Fixed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	r.record(ctx, AuditEntry{
		Action:     models.AuditActionBatchStatusFixAll,
		TargetType: models.AuditTargetEvent,
		TargetID:   eventID,
		Details: map[string]interface{}{
			"summary":   report.Summary(),
			"checked":   report.Checked,
			"fixed":     report.Fixed,
			"unchanged": report.Unchanged,
			"failed":    report.Failed,
			"not_found": report.NotFound,
			"skipped":   report.Skipped,
		},
	})

	return report, nil
}

// FixAvailableTickets resets available_tickets to total_tickets and forces
// the status to active for one batch or every batch of an event. It
// discards the record of sold tickets, so the caller must pass
// models.ResetAvailabilityConfirmation verbatim. Every reset is audited
// before it is written, and a write that then fails gets a follow-up entry.
func (r *BatchReconciler) FixAvailableTickets(ctx context.Context, target RepairTarget, confirmation string) (*RepairReport, error) {
	if confirmation != models.ResetAvailabilityConfirmation {
		return nil, models.ErrConfirmationRequired
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	report := &RepairReport{
		Operation: models.AuditActionBatchAvailabilityReset,
		StartedAt: r.now(),
	}

	var outcomes []*RepairOutcome
	if target.BatchID != "" {
		report.TargetType, report.TargetID = models.AuditTargetBatch, target.BatchID
		outcomes = []*RepairOutcome{r.resetAvailability(ctx, target.BatchID)}
	} else {
		report.TargetType, report.TargetID = models.AuditTargetEvent, target.EventID
		batches, err := r.store.ListBatches(ctx, target.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to list batches for event %s: %w", target.EventID, err)
		}
		outcomes = r.forEachBatch(ctx, batches, r.resetAvailability)
	}

	invalidated := make(map[string]bool)
	for _, o := range outcomes {
		report.add(o)
		if o.Changed() && !invalidated[o.EventID] {
			invalidated[o.EventID] = true
			r.invalidate(ctx, o.EventID)
		}
	}
	report.FinishedAt = r.now()

	r.logger.Warn("batch availability reset finished",
		"target_type", report.TargetType,
		"target_id", report.TargetID,
		"summary", report.Summary(),
		"fixed", report.Fixed,
		"failed", report.Failed,
	)
	return report, nil
}

type batchRepair func(ctx context.Context, batchID string) *RepairOutcome

// forEachBatch runs repair for every listed batch with bounded
// parallelism. Batches not started before ctx is done are skipped.
// Outcomes keep the listing order.
func (r *BatchReconciler) forEachBatch(ctx context.Context, batches []*models.Batch, repair batchRepair) []*RepairOutcome {
	outcomes := make([]*RepairOutcome, len(batches))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, b := range batches {
		if b == nil {
			outcomes[i] = (&RepairOutcome{}).fail(RepairNotFound, models.ErrNilBatch)
			continue
		}
		if ctx.Err() != nil {
			outcomes[i] = skippedOutcome(b, ctx.Err())
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = skippedOutcome(b, err)
				return nil
			}
			outcomes[i] = repair(ctx, b.ID)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func skippedOutcome(b *models.Batch, err error) *RepairOutcome {
	o := &RepairOutcome{
		BatchID:         b.ID,
		EventID:         b.EventID,
		Title:           b.Title,
		StatusBefore:    b.Status,
		StatusAfter:     b.Status,
		AvailableBefore: b.AvailableTickets,
		AvailableAfter:  b.AvailableTickets,
	}
	return o.fail(RepairSkipped, err)
}

// load re-reads a batch and fills the before fields of a new outcome. A
// nil batch means the outcome is already final.
func (r *BatchReconciler) load(ctx context.Context, batchID string) (*models.Batch, *RepairOutcome) {
	outcome := &RepairOutcome{BatchID: batchID}
	if err := ctx.Err(); err != nil {
		return nil, outcome.fail(RepairSkipped, err)
	}

	batch, err := r.store.GetBatch(ctx, batchID)
	switch {
	case errors.Is(err, models.ErrBatchNotFound):
		return nil, outcome.fail(RepairNotFound, err)
	case err != nil:
		return nil, outcome.fail(RepairFailed, fmt.Errorf("failed to load batch %s: %w", batchID, err))
	case batch == nil:
		return nil, outcome.fail(RepairNotFound, models.ErrBatchNotFound)
	}

	outcome.EventID = batch.EventID
	outcome.Title = batch.Title
	outcome.StatusBefore = batch.Status
	outcome.StatusAfter = batch.Status
	outcome.AvailableBefore = batch.AvailableTickets
	outcome.AvailableAfter = batch.AvailableTickets
	return batch, outcome
}

func (r *BatchReconciler) write(ctx context.Context, outcome *RepairOutcome, update models.BatchFieldUpdate) error {
	err := r.store.UpdateBatchFields(ctx, outcome.BatchID, update)
	switch {
	case errors.Is(err, models.ErrBatchNotFound):
		outcome.fail(RepairNotFound, err)
	case err != nil:
		outcome.fail(RepairFailed, fmt.Errorf("failed to update batch %s: %w", outcome.BatchID, err))
	}
	return err
}

func (r *BatchReconciler) withBatchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.batchTimeout > 0 {
		return context.WithTimeout(ctx, r.batchTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *BatchReconciler) fixStatus(ctx context.Context, batchID string) *RepairOutcome {
	ctx, cancel := r.withBatchTimeout(ctx)
	defer cancel()

	batch, outcome := r.load(ctx, batchID)
	if batch == nil {
		r.logFailure("batch status repair", outcome)
		return outcome
	}

	computed, err := models.ComputeStatus(batch, r.now())
	if err != nil {
		return outcome.fail(RepairFailed, err)
	}
	if computed == batch.Status {
		outcome.Result = RepairUnchanged
		return outcome
	}

	if err := r.write(ctx, outcome, models.BatchFieldUpdate{Status: &computed}); err != nil {
		r.logFailure("batch status repair", outcome)
		return outcome
	}

	outcome.Result = RepairFixed
	outcome.StatusAfter = computed
	r.logger.Info("batch status repaired",
		"batch_id", batchID,
		"event_id", outcome.EventID,
		"from", outcome.StatusBefore,
		"to", outcome.StatusAfter,
	)

	r.record(ctx, AuditEntry{
		Action:     models.AuditActionBatchStatusFix,
		TargetType: models.AuditTargetBatch,
		TargetID:   batchID,
		Details: map[string]interface{}{
			"event_id":      outcome.EventID,
			"status_before": outcome.StatusBefore,
			"status_after":  outcome.StatusAfter,
		},
	})
	r.notify(ctx, queue.RepairKindStatus, outcome)
	return outcome
}

func (r *BatchReconciler) resetAvailability(ctx context.Context, batchID string) *RepairOutcome {
	ctx, cancel := r.withBatchTimeout(ctx)
	defer cancel()

	batch, outcome := r.load(ctx, batchID)
	if batch == nil {
		r.logFailure("batch availability reset", outcome)
		return outcome
	}

	if batch.AvailableTickets == batch.TotalTickets && batch.Status == models.BatchActive {
		outcome.Result = RepairUnchanged
		return outcome
	}

	available := batch.TotalTickets
	active := models.BatchActive

	if r.audit != nil {
		err := r.audit.LogAction(ctx, AuditEntry{
			Action:     models.AuditActionBatchAvailabilityReset,
			TargetType: models.AuditTargetBatch,
			TargetID:   batchID,
			Details: map[string]interface{}{
				"event_id":         batch.EventID,
				"total_tickets":    batch.TotalTickets,
				"available_before": batch.AvailableTickets,
				"available_after":  available,
				"sold_discarded":   batch.SoldTickets(),
				"status_before":    batch.Status,
				"status_after":     active,
			},
		})
		if err != nil {
			outcome.fail(RepairFailed, fmt.Errorf("failed to audit availability reset of batch %s: %w", batchID, err))
			r.logFailure("batch availability reset", outcome)
			return outcome
		}
	} else {
		r.logger.Warn("availability reset without audit recorder", "batch_id", batchID)
	}

	update := models.BatchFieldUpdate{AvailableTickets: &available, Status: &active}
	if err := r.write(ctx, outcome, update); err != nil {
		r.logFailure("batch availability reset", outcome)
		// The reset entry is already logged; mark it as not applied. The
		// batch context may be what expired, so use one without its deadline.
		r.record(context.WithoutCancel(ctx), AuditEntry{
			Action:     models.AuditActionBatchAvailabilityResetFailed,
			TargetType: models.AuditTargetBatch,
			TargetID:   batchID,
			Details: map[string]interface{}{
				"event_id": batch.EventID,
				"result":   outcome.Result,
				"error":    outcome.Error,
			},
		})
		return outcome
	}

	outcome.Result = RepairFixed
	outcome.StatusAfter = active
	outcome.AvailableAfter = available
	r.logger.Warn("batch availability reset",
		"batch_id", batchID,
		"event_id", outcome.EventID,
		"available_before", outcome.AvailableBefore,
		"available_after", outcome.AvailableAfter,
	)
	r.notify(ctx, queue.RepairKindAvailability, outcome)
	return outcome
}

func (r *BatchReconciler) logFailure(op string, o *RepairOutcome) {
	if o.Result == RepairSkipped {
		return
	}
	r.logger.Error(op+" failed",
		"batch_id", o.BatchID,
		"result", o.Result,
		"error", o.Err,
	)
}

// record writes a non-blocking audit entry; failures are logged
func (r *BatchReconciler) record(ctx context.Context, entry AuditEntry) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogAction(ctx, entry); err != nil {
		r.logger.Error("audit log write failed", "action", entry.Action, "target_id", entry.TargetID, "error", err)
	}
}

func (r *BatchReconciler) notify(ctx context.Context, kind string, o *RepairOutcome) {
	event := queue.BatchRepairedEvent{
		Kind:            kind,
		BatchID:         o.BatchID,
		EventID:         o.EventID,
		Title:           o.Title,
		StatusBefore:    string(o.StatusBefore),
		StatusAfter:     string(o.StatusAfter),
		AvailableBefore: o.AvailableBefore,
		AvailableAfter:  o.AvailableAfter,
		RepairedAt:      r.now().UTC().Format(time.RFC3339),
	}
	if err := r.notifier.PublishBatchRepaired(ctx, event); err != nil {
		r.logger.Warn("repair notification not published", "batch_id", o.BatchID, "error", err)
	}
}

func (r *BatchReconciler) invalidate(ctx context.Context, eventID string) {
	if r.cache != nil && eventID != "" {
		r.cache.Invalidate(ctx, eventID)
	}
}
