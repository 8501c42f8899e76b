package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func strPtr(s string) *string { return &s }

func ts(t time.Time) string { return t.Format(time.RFC3339) }

func TestComputeStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)

	tests := []struct {
		name  string
		batch Batch
		want  BatchStatus
	}{
		{
			name: "active within window with tickets",
			batch: Batch{
				IsVisible: boolPtr(true), AvailableTickets: 10, TotalTickets: 100,
				StartDate: ts(yesterday), EndDate: strPtr(ts(tomorrow)),
			},
			want: BatchActive,
		},
		{
			name: "nil visibility defaults to visible",
			batch: Batch{
				AvailableTickets: 10, TotalTickets: 100, StartDate: ts(yesterday),
			},
			want: BatchActive,
		},
		{
			name: "hidden overrides sold out and ended",
			batch: Batch{
				IsVisible: boolPtr(false), AvailableTickets: 0, TotalTickets: 100,
				StartDate: ts(lastWeek), EndDate: strPtr(ts(yesterday)),
			},
			want: BatchHidden,
		},
		{
			name: "hidden overrides upcoming",
			batch: Batch{
				IsVisible: boolPtr(false), AvailableTickets: 50, TotalTickets: 100,
				StartDate: ts(tomorrow),
			},
			want: BatchHidden,
		},
		{
			name: "upcoming with zero tickets",
			batch: Batch{
				IsVisible: boolPtr(true), AvailableTickets: 0, TotalTickets: 100,
				StartDate: ts(tomorrow),
			},
			want: BatchUpcoming,
		},
		{
			name: "upcoming with end date in the past",
			batch: Batch{
				AvailableTickets: 10, TotalTickets: 100,
				StartDate: ts(tomorrow), EndDate: strPtr(ts(yesterday)),
			},
			want: BatchUpcoming,
		},
		{
			name: "ended even with tickets remaining",
			batch: Batch{
				AvailableTickets: 40, TotalTickets: 100,
				StartDate: ts(lastWeek), EndDate: strPtr(ts(yesterday)),
			},
			want: BatchEnded,
		},
		{
			name: "ended takes priority over sold out",
			batch: Batch{
				AvailableTickets: 0, TotalTickets: 100,
				StartDate: ts(lastWeek), EndDate: strPtr(ts(yesterday)),
			},
			want: BatchEnded,
		},
		{
			name: "sold out at zero",
			batch: Batch{
				IsVisible: boolPtr(true), AvailableTickets: 0, TotalTickets: 100,
				StartDate: ts(yesterday),
			},
			want: BatchSoldOut,
		},
		{
			name: "sold out when negative",
			batch: Batch{
				AvailableTickets: -3, TotalTickets: 100, StartDate: ts(yesterday),
			},
			want: BatchSoldOut,
		},
		{
			name: "start exactly now is started",
			batch: Batch{
				AvailableTickets: 1, TotalTickets: 1, StartDate: ts(now),
			},
			want: BatchActive,
		},
		{
			name: "end exactly now is not ended",
			batch: Batch{
				AvailableTickets: 1, TotalTickets: 1,
				StartDate: ts(yesterday), EndDate: strPtr(ts(now)),
			},
			want: BatchActive,
		},
		{
			name: "unparsable start date counts as started",
			batch: Batch{
				AvailableTickets: 5, TotalTickets: 10, StartDate: "not-a-date",
			},
			want: BatchActive,
		},
		{
			name: "empty start date counts as started",
			batch: Batch{
				AvailableTickets: 0, TotalTickets: 10,
			},
			want: BatchSoldOut,
		},
		{
			name: "unparsable end date means no upper bound",
			batch: Batch{
				AvailableTickets: 5, TotalTickets: 10,
				StartDate: ts(yesterday), EndDate: strPtr("31/02/2020"),
			},
			want: BatchActive,
		},
		{
			name: "postgres text timestamps",
			batch: Batch{
				AvailableTickets: 5, TotalTickets: 10,
				StartDate: "2026-03-01 09:00:00+00", EndDate: strPtr("2026-03-05 09:00:00.123+00"),
			},
			want: BatchEnded,
		},
		{
			name: "date only start in the future",
			batch: Batch{
				AvailableTickets: 5, TotalTickets: 10, StartDate: "2026-04-01",
			},
			want: BatchUpcoming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeStatus(&tt.batch, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeStatus_NilBatch(t *testing.T) {
	status, err := ComputeStatus(nil, time.Now())
	assert.ErrorIs(t, err, ErrNilBatch)
	assert.Empty(t, status)
}

func TestComputeStatus_Deterministic(t *testing.T) {
	now := time.Now()
	batches := []Batch{
		{AvailableTickets: 3, TotalTickets: 5, StartDate: ts(now.Add(-time.Hour))},
		{AvailableTickets: 0, TotalTickets: 5, StartDate: "garbage", EndDate: strPtr("garbage")},
		{IsVisible: boolPtr(false), StartDate: ts(now.Add(time.Hour))},
	}

	for i := range batches {
		first, err := ComputeStatus(&batches[i], now)
		require.NoError(t, err)
		second, err := ComputeStatus(&batches[i], now)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.True(t, first.IsKnown())
	}
}

func TestComputeStatus_MalformedDatesNeverFail(t *testing.T) {
	inputs := []string{"", " ", "tomorrow", "2026-13-45", "0000-00-00", "1e9", "{}"}
	now := time.Now()

	for _, start := range inputs {
		for _, end := range inputs {
			b := &Batch{AvailableTickets: 1, TotalTickets: 1, StartDate: start, EndDate: strPtr(end)}
			status, err := ComputeStatus(b, now)
			require.NoError(t, err)
			assert.True(t, status.IsKnown(), "start=%q end=%q", start, end)
		}
	}
}

// A batch that started yesterday with no tickets left but still stored as
// active is sold out.
func TestComputeStatus_SoldOutScenario(t *testing.T) {
	now := time.Now()
	b := &Batch{
		IsVisible:        boolPtr(true),
		StartDate:        ts(now.Add(-24 * time.Hour)),
		AvailableTickets: 0,
		TotalTickets:     100,
		Status:           BatchActive,
	}

	status, err := ComputeStatus(b, now)
	require.NoError(t, err)
	assert.Equal(t, BatchSoldOut, status)
}

func TestBatch_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		wantAvailable int
		wantTotal     int
		wantVisible   *bool
		wantEnd       *string
	}{
		{
			name:          "well formed",
			payload:       `{"id":"b1","available_tickets":5,"total_tickets":10,"is_visible":false,"start_date":"2026-01-01T00:00:00Z","end_date":"2026-02-01T00:00:00Z"}`,
			wantAvailable: 5,
			wantTotal:     10,
			wantVisible:   boolPtr(false),
			wantEnd:       strPtr("2026-02-01T00:00:00Z"),
		},
		{
			name:          "numeric strings",
			payload:       `{"available_tickets":"7","total_tickets":"12"}`,
			wantAvailable: 7,
			wantTotal:     12,
		},
		{
			name:          "non numeric counts become zero",
			payload:       `{"available_tickets":"NaN","total_tickets":"lots"}`,
			wantAvailable: 0,
			wantTotal:     0,
		},
		{
			name:          "null counts and visibility",
			payload:       `{"available_tickets":null,"total_tickets":null,"is_visible":null}`,
			wantAvailable: 0,
			wantTotal:     0,
		},
		{
			name:          "negative count is kept",
			payload:       `{"available_tickets":-2,"total_tickets":10}`,
			wantAvailable: -2,
			wantTotal:     10,
		},
		{
			name:          "string visibility",
			payload:       `{"is_visible":"false"}`,
			wantVisible:   boolPtr(false),
		},
		{
			name:    "non string end date is unusable",
			payload: `{"end_date":12345}`,
			wantEnd: strPtr(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Batch
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &b))
			assert.Equal(t, tt.wantAvailable, b.AvailableTickets)
			assert.Equal(t, tt.wantTotal, b.TotalTickets)
			assert.Equal(t, tt.wantVisible, b.IsVisible)
			assert.Equal(t, tt.wantEnd, b.EndDate)
		})
	}
}

func TestBatch_UnmarshalJSON_KeepsPlainFields(t *testing.T) {
	var b Batch
	err := json.Unmarshal([]byte(`{"id":"b1","event_id":"e1","title":"VIP","status":"upcoming","price":"2500"}`), &b)
	require.NoError(t, err)

	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, "e1", b.EventID)
	assert.Equal(t, "VIP", b.Title)
	assert.Equal(t, BatchUpcoming, b.Status)
	assert.Equal(t, 2500, b.Price)
}

func TestBatchFieldUpdate(t *testing.T) {
	assert.True(t, BatchFieldUpdate{}.IsEmpty())

	status := BatchSoldOut
	update := BatchFieldUpdate{Status: &status, ClearEndDate: true}
	assert.False(t, update.IsEmpty())

	original := &Batch{ID: "b1", Status: BatchActive, EndDate: strPtr("2026-01-01")}
	next := update.ApplyTo(original)

	assert.Equal(t, BatchSoldOut, next.Status)
	assert.Nil(t, next.EndDate)
	assert.Equal(t, BatchActive, original.Status, "original must not change")
}

func TestBatchStatus_IsKnown(t *testing.T) {
	for _, s := range []BatchStatus{BatchActive, BatchUpcoming, BatchEnded, BatchSoldOut, BatchHidden} {
		assert.True(t, s.IsKnown())
	}
	assert.False(t, BatchStatus("paused").IsKnown())
	assert.False(t, BatchStatus("").IsKnown())
}
