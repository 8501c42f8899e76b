package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/queue"
)

func newTestReconciler(store BatchStore, opts ...func(*ReconcilerConfig)) *BatchReconciler {
	config := ReconcilerConfig{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    fixedClock,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return NewBatchReconciler(config)
}

func TestFixSingleBatchStatus_SoldOut(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	r := newTestReconciler(store)

	outcome := r.FixSingleBatchStatus(context.Background(), "b1")

	assert.Equal(t, RepairFixed, outcome.Result)
	assert.Equal(t, models.BatchActive, outcome.StatusBefore)
	assert.Equal(t, models.BatchSoldOut, outcome.StatusAfter)
	assert.Equal(t, "e1", outcome.EventID)
	assert.Empty(t, outcome.Error)
	assert.Equal(t, models.BatchSoldOut, store.get("b1").Status)
}

func TestFixSingleBatchStatus_WritesOnlyStatus(t *testing.T) {
	store := newMockBatchStore(endedButActive("b1", "e1"))
	r := newTestReconciler(store)

	outcome := r.FixSingleBatchStatus(context.Background(), "b1")
	require.Equal(t, RepairFixed, outcome.Result)

	require.Len(t, store.updates["b1"], 1)
	update := store.updates["b1"][0]
	require.NotNil(t, update.Status)
	assert.Equal(t, models.BatchEnded, *update.Status)
	assert.Nil(t, update.AvailableTickets)
	assert.Nil(t, update.TotalTickets)
	assert.Nil(t, update.IsVisible)
	assert.Nil(t, update.StartDate)
	assert.Nil(t, update.EndDate)
	assert.False(t, update.ClearEndDate)
}

func TestFixSingleBatchStatus_Idempotent(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	r := newTestReconciler(store)

	first := r.FixSingleBatchStatus(context.Background(), "b1")
	second := r.FixSingleBatchStatus(context.Background(), "b1")

	assert.Equal(t, RepairFixed, first.Result)
	assert.Equal(t, RepairUnchanged, second.Result)
	assert.Equal(t, models.BatchSoldOut, second.StatusBefore)
	assert.Equal(t, models.BatchSoldOut, second.StatusAfter)
	assert.Equal(t, 1, store.updateCount())
}

func TestFixSingleBatchStatus_NotFound(t *testing.T) {
	r := newTestReconciler(newMockBatchStore())

	outcome := r.FixSingleBatchStatus(context.Background(), "missing")

	assert.Equal(t, RepairNotFound, outcome.Result)
	assert.ErrorIs(t, outcome.Err, models.ErrBatchNotFound)
	assert.NotEmpty(t, outcome.Error)
}

func TestFixSingleBatchStatus_StoreErrors(t *testing.T) {
	t.Run("read failure", func(t *testing.T) {
		store := newMockBatchStore(soldOutButActive("b1", "e1"))
		store.shouldFailOps["GetBatch"] = true
		r := newTestReconciler(store)

		outcome := r.FixSingleBatchStatus(context.Background(), "b1")
		assert.Equal(t, RepairFailed, outcome.Result)
		assert.Contains(t, outcome.Error, "failed to load batch b1")
	})

	t.Run("write failure", func(t *testing.T) {
		store := newMockBatchStore(soldOutButActive("b1", "e1"))
		store.failUpdateFor["b1"] = true
		r := newTestReconciler(store)

		outcome := r.FixSingleBatchStatus(context.Background(), "b1")
		assert.Equal(t, RepairFailed, outcome.Result)
		assert.Equal(t, models.BatchActive, outcome.StatusAfter)
		assert.Contains(t, outcome.Error, "mock write error")
		assert.Equal(t, models.BatchActive, store.get("b1").Status)
	})
}

func TestFixSingleBatchStatus_NotifiesAuditsAndInvalidates(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	notifier := new(MockNotifier)
	audit := new(MockAuditRecorder)
	cache := new(MockDiagnosisCache)

	notifier.On("PublishBatchRepaired", mock.Anything, mock.MatchedBy(func(e queue.BatchRepairedEvent) bool {
		return e.BatchID == "b1" && e.Kind == queue.RepairKindStatus &&
			e.StatusBefore == "active" && e.StatusAfter == "sold_out"
	})).Return(nil)
	audit.On("LogAction", mock.Anything, mock.MatchedBy(func(e AuditEntry) bool {
		return e.Action == models.AuditActionBatchStatusFix && e.TargetID == "b1"
	})).Return(nil)
	cache.On("Invalidate", mock.Anything, "e1").Return()

	r := newTestReconciler(store, func(c *ReconcilerConfig) {
		c.Notifier = notifier
		c.Audit = audit
		c.Cache = cache
	})

	outcome := r.FixSingleBatchStatus(context.Background(), "b1")
	require.Equal(t, RepairFixed, outcome.Result)

	notifier.AssertExpectations(t)
	audit.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestFixSingleBatchStatus_NotifierErrorDoesNotFailRepair(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	notifier := new(MockNotifier)
	notifier.On("PublishBatchRepaired", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	r := newTestReconciler(store, func(c *ReconcilerConfig) { c.Notifier = notifier })

	outcome := r.FixSingleBatchStatus(context.Background(), "b1")
	assert.Equal(t, RepairFixed, outcome.Result)
	notifier.AssertNumberOfCalls(t, "PublishBatchRepaired", 1)
}

func TestFixAllBatchesForEvent_UnresponsiveBrokerDoesNotStallRepairs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	publisher := queue.NewAMQPPublisher("amqp://guest:guest@"+ln.Addr().String()+"/", "", nil)
	defer publisher.Close()

	store := newMockBatchStore(soldOutButActive("b1", "e1"), endedButActive("b2", "e1"))
	r := newTestReconciler(store, func(c *ReconcilerConfig) {
		c.Notifier = publisher
		c.BatchTimeout = 300 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	report, err := r.FixAllBatchesForEvent(ctx, "e1")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, report.Fixed)
	assert.Equal(t, SummaryFixed, report.Summary())
}

func TestFixAllBatchesForEvent(t *testing.T) {
	store := newMockBatchStore(
		soldOutButActive("b1", "e1"),
		healthyActive("b2", "e1"),
		endedButActive("b3", "e1"),
		soldOutButActive("other", "e2"),
	)
	r := newTestReconciler(store)

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Fixed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, SummaryFixed, report.Summary())
	assert.Equal(t, models.AuditTargetEvent, report.TargetType)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "b1", report.Outcomes[0].BatchID)
	assert.Equal(t, "b2", report.Outcomes[1].BatchID)
	assert.Equal(t, "b3", report.Outcomes[2].BatchID)

	assert.Equal(t, models.BatchSoldOut, store.get("b1").Status)
	assert.Equal(t, models.BatchEnded, store.get("b3").Status)
	assert.Equal(t, models.BatchActive, store.get("other").Status, "other events are untouched")
}

func TestFixAllBatchesForEvent_PartialFailureIsolation(t *testing.T) {
	store := newMockBatchStore(
		soldOutButActive("b1", "e1"),
		endedButActive("b2", "e1"),
		soldOutButActive("b3", "e1"),
	)
	store.failUpdateFor["b2"] = true
	r := newTestReconciler(store)

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Fixed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, SummaryPartialFailure, report.Summary())

	assert.Equal(t, RepairFixed, report.Outcomes[0].Result)
	assert.Equal(t, RepairFailed, report.Outcomes[1].Result)
	assert.Contains(t, report.Outcomes[1].Error, "mock write error")
	assert.Equal(t, RepairFixed, report.Outcomes[2].Result)

	assert.Equal(t, models.BatchSoldOut, store.get("b1").Status)
	assert.Equal(t, models.BatchActive, store.get("b2").Status)
	assert.Equal(t, models.BatchSoldOut, store.get("b3").Status)
}

func TestFixAllBatchesForEvent_AllFail(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"), endedButActive("b2", "e1"))
	store.shouldFailOps["UpdateBatchFields"] = true
	r := newTestReconciler(store)

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, SummaryFailed, report.Summary())
}

func TestFixAllBatchesForEvent_NoProblems(t *testing.T) {
	store := newMockBatchStore(healthyActive("b1", "e1"))
	r := newTestReconciler(store)

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, SummaryNoProblems, report.Summary())
	assert.Equal(t, 0, store.updateCount())
}

func TestFixAllBatchesForEvent_EmptyEvent(t *testing.T) {
	r := newTestReconciler(newMockBatchStore())

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, SummaryNoProblems, report.Summary())
}

func TestFixAllBatchesForEvent_ListFailure(t *testing.T) {
	store := newMockBatchStore()
	store.shouldFailOps["ListBatches"] = true
	r := newTestReconciler(store)

	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	assert.Error(t, err)
	assert.Nil(t, report)
}

// The listing may be stale; each batch is re-read before deciding.
func TestFixAllBatchesForEvent_RereadsBeforeWrite(t *testing.T) {
	fresh := healthyActive("b1", "e1")
	store := newMockBatchStore(fresh)

	stale := *fresh
	stale.AvailableTickets = 0
	store.listSnapshot = []*models.Batch{&stale}

	r := newTestReconciler(store)
	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, RepairUnchanged, report.Outcomes[0].Result)
	assert.Equal(t, 0, store.updateCount())
}

func TestFixAllBatchesForEvent_BatchDeletedAfterListing(t *testing.T) {
	store := newMockBatchStore(healthyActive("b1", "e1"))
	ghost := soldOutButActive("gone", "e1")
	store.listSnapshot = []*models.Batch{store.get("b1"), ghost, nil}

	r := newTestReconciler(store)
	report, err := r.FixAllBatchesForEvent(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 2, report.NotFound)
	assert.Equal(t, SummaryPartialFailure, report.Summary())
}

func TestFixAllBatchesForEvent_Cancelled(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"), endedButActive("b2", "e1"))
	r := newTestReconciler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.FixAllBatchesForEvent(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, SummaryFailed, report.Summary())
	assert.Equal(t, 0, store.updateCount())
	for _, o := range report.Outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestFixAllBatchesForEvent_CancelMidway(t *testing.T) {
	store := newMockBatchStore(
		soldOutButActive("b1", "e1"),
		soldOutButActive("b2", "e1"),
		soldOutButActive("b3", "e1"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onGet = func(id string) {
		if id == "b1" {
			cancel()
		}
	}

	r := newTestReconciler(store, func(c *ReconcilerConfig) { c.Concurrency = 1 })
	report, err := r.FixAllBatchesForEvent(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, RepairSkipped, report.Outcomes[1].Result)
	assert.Equal(t, RepairSkipped, report.Outcomes[2].Result)
	assert.Equal(t, models.BatchActive, store.get("b2").Status)
	assert.Equal(t, models.BatchActive, store.get("b3").Status)
}

func TestFixAvailableTickets_RequiresConfirmation(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	r := newTestReconciler(store)

	for _, confirmation := range []string{"", "yes", "reset available tickets", models.ResetAvailabilityConfirmation + " "} {
		report, err := r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "b1"}, confirmation)
		assert.ErrorIs(t, err, models.ErrConfirmationRequired, "confirmation %q", confirmation)
		assert.Nil(t, report)
	}
	assert.Equal(t, 0, store.updateCount())
}

func TestFixAvailableTickets_InvalidTarget(t *testing.T) {
	r := newTestReconciler(newMockBatchStore())

	_, err := r.FixAvailableTickets(context.Background(), RepairTarget{}, models.ResetAvailabilityConfirmation)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "b1", EventID: "e1"}, models.ResetAvailabilityConfirmation)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestFixAvailableTickets_SingleBatch(t *testing.T) {
	b := soldOutButActive("b1", "e1")
	b.AvailableTickets = 130
	b.Status = models.BatchSoldOut
	store := newMockBatchStore(b)

	audit := new(MockAuditRecorder)
	audit.On("LogAction", mock.Anything, mock.MatchedBy(func(e AuditEntry) bool {
		details, ok := e.Details.(map[string]interface{})
		return ok && e.Action == models.AuditActionBatchAvailabilityReset &&
			e.TargetID == "b1" && details["available_before"] == 130 && details["available_after"] == 100
	})).Return(nil).Once()

	r := newTestReconciler(store, func(c *ReconcilerConfig) { c.Audit = audit })

	report, err := r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "b1"}, models.ResetAvailabilityConfirmation)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	outcome := report.Outcomes[0]
	assert.Equal(t, RepairFixed, outcome.Result)
	assert.Equal(t, 130, outcome.AvailableBefore)
	assert.Equal(t, 100, outcome.AvailableAfter)
	assert.Equal(t, models.BatchActive, outcome.StatusAfter)
	assert.Equal(t, SummaryFixed, report.Summary())

	stored := store.get("b1")
	assert.Equal(t, 100, stored.AvailableTickets)
	assert.Equal(t, models.BatchActive, stored.Status)

	update := store.updates["b1"][0]
	assert.NotNil(t, update.AvailableTickets)
	assert.NotNil(t, update.Status)
	assert.Nil(t, update.TotalTickets)
	assert.Nil(t, update.IsVisible)
	audit.AssertExpectations(t)
}

func TestFixAvailableTickets_AuditFailureBlocksWrite(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	audit := new(MockAuditRecorder)
	audit.On("LogAction", mock.Anything, mock.Anything).Return(errors.New("audit table missing"))

	r := newTestReconciler(store, func(c *ReconcilerConfig) { c.Audit = audit })

	report, err := r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "b1"}, models.ResetAvailabilityConfirmation)
	require.NoError(t, err)

	assert.Equal(t, RepairFailed, report.Outcomes[0].Result)
	assert.Contains(t, report.Outcomes[0].Error, "audit table missing")
	assert.Equal(t, 0, store.updateCount())
	assert.Equal(t, SummaryFailed, report.Summary())
}

func TestFixAvailableTickets_WriteFailureIsAudited(t *testing.T) {
	store := newMockBatchStore(soldOutButActive("b1", "e1"))
	store.failUpdateFor["b1"] = true

	audit := new(MockAuditRecorder)
	audit.On("LogAction", mock.Anything, mock.MatchedBy(func(e AuditEntry) bool {
		return e.Action == models.AuditActionBatchAvailabilityReset && e.TargetID == "b1"
	})).Return(nil).Once()
	audit.On("LogAction", mock.Anything, mock.MatchedBy(func(e AuditEntry) bool {
		details, ok := e.Details.(map[string]interface{})
		return ok && e.Action == models.AuditActionBatchAvailabilityResetFailed &&
			e.TargetID == "b1" && details["result"] == RepairFailed
	})).Return(nil).Once()

	r := newTestReconciler(store, func(c *ReconcilerConfig) { c.Audit = audit })

	report, err := r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "b1"}, models.ResetAvailabilityConfirmation)
	require.NoError(t, err)

	assert.Equal(t, RepairFailed, report.Outcomes[0].Result)
	assert.Equal(t, SummaryFailed, report.Summary())
	audit.AssertExpectations(t)
}

func TestFixAvailableTickets_Event(t *testing.T) {
	already := healthyActive("b2", "e1")
	already.AvailableTickets = already.TotalTickets
	store := newMockBatchStore(soldOutButActive("b1", "e1"), already)

	r := newTestReconciler(store)
	report, err := r.FixAvailableTickets(context.Background(), RepairTarget{EventID: "e1"}, models.ResetAvailabilityConfirmation)
	require.NoError(t, err)

	assert.Equal(t, models.AuditTargetEvent, report.TargetType)
	assert.Equal(t, 1, report.Fixed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 100, store.get("b1").AvailableTickets)
	assert.Len(t, store.updates["b2"], 0)
}

func TestFixAvailableTickets_NotFound(t *testing.T) {
	r := newTestReconciler(newMockBatchStore())

	report, err := r.FixAvailableTickets(context.Background(), RepairTarget{BatchID: "nope"}, models.ResetAvailabilityConfirmation)
	require.NoError(t, err)
	assert.Equal(t, RepairNotFound, report.Outcomes[0].Result)
	assert.Equal(t, SummaryFailed, report.Summary())
}

func TestRepairReport_Summary(t *testing.T) {
	tests := []struct {
		name   string
		report RepairReport
		want   RepairSummary
	}{
		{"nothing checked", RepairReport{}, SummaryNoProblems},
		{"all unchanged", RepairReport{Unchanged: 3}, SummaryNoProblems},
		{"some fixed", RepairReport{Unchanged: 2, Fixed: 1}, SummaryFixed},
		{"fixed and failed", RepairReport{Fixed: 1, Failed: 1}, SummaryPartialFailure},
		{"unchanged and not found", RepairReport{Unchanged: 1, NotFound: 1}, SummaryPartialFailure},
		{"only failures", RepairReport{Failed: 2}, SummaryFailed},
		{"only skipped", RepairReport{Skipped: 2}, SummaryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Summary())
		})
	}
}

func TestNewSingleRepairReport(t *testing.T) {
	tests := []struct {
		result  RepairResult
		count   func(*RepairReport) int
		summary RepairSummary
	}{
		{RepairFixed, func(r *RepairReport) int { return r.Fixed }, SummaryFixed},
		{RepairUnchanged, func(r *RepairReport) int { return r.Unchanged }, SummaryNoProblems},
		{RepairFailed, func(r *RepairReport) int { return r.Failed }, SummaryFailed},
		{RepairNotFound, func(r *RepairReport) int { return r.NotFound }, SummaryFailed},
		{RepairSkipped, func(r *RepairReport) int { return r.Skipped }, SummaryFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.result), func(t *testing.T) {
			outcome := &RepairOutcome{BatchID: "b1", Result: tt.result}
			report := NewSingleRepairReport(outcome)

			assert.Equal(t, models.AuditActionBatchStatusFix, report.Operation)
			assert.Equal(t, models.AuditTargetBatch, report.TargetType)
			assert.Equal(t, "b1", report.TargetID)
			assert.Equal(t, 1, report.Checked)
			assert.Equal(t, 1, tt.count(report))
			assert.Equal(t, tt.summary, report.Summary())
			require.Len(t, report.Outcomes, 1)
			assert.Same(t, outcome, report.Outcomes[0])
		})
	}
}

func TestNewBatchReconciler_Defaults(t *testing.T) {
	r := NewBatchReconciler(ReconcilerConfig{Store: newMockBatchStore()})
	assert.Equal(t, DefaultReconcileConcurrency, r.concurrency)
	assert.NotNil(t, r.logger)
	assert.NotNil(t, r.now)
	assert.IsType(t, queue.NoopPublisher{}, r.notifier)
}
