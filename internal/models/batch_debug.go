package models

import "time"

// BatchDebugInfo is a read-only snapshot explaining how a batch's status
// was computed.
type BatchDebugInfo struct {
	BatchID          string      `json:"batch_id"`
	EventID          string      `json:"event_id"`
	Title            string      `json:"title"`
	IsVisible        bool        `json:"is_visible"`
	StartsAt         time.Time   `json:"starts_at"`
	StartDateValid   bool        `json:"start_date_valid"`
	EndsAt           *time.Time  `json:"ends_at,omitempty"`
	EndDateValid     bool        `json:"end_date_valid"`
	SaleStarted      bool        `json:"sale_started"`
	SaleEnded        bool        `json:"sale_ended"`
	AvailableTickets int         `json:"available_tickets"`
	TotalTickets     int         `json:"total_tickets"`
	SoldTickets      int         `json:"sold_tickets"`
	PersistedStatus  BatchStatus `json:"persisted_status"`
	ComputedStatus   BatchStatus `json:"computed_status"`
	StatusMismatch   bool        `json:"status_mismatch"`
	UnknownStatus    bool        `json:"unknown_status"`
	Exhausted        bool        `json:"exhausted"`
	CapacityExceeded bool        `json:"capacity_exceeded"`
	EvaluatedAt      time.Time   `json:"evaluated_at"`
}

// NewBatchDebugInfo builds the debug snapshot of b evaluated at now.
// EndDateValid is true when there is no end date or it parsed.
// UnknownStatus marks a persisted status outside the five known values.
func NewBatchDebugInfo(b *Batch, now time.Time) (*BatchDebugInfo, error) {
	computed, err := ComputeStatus(b, now)
	if err != nil {
		return nil, err
	}

	start, startValid := b.SaleStart()
	info := &BatchDebugInfo{
		BatchID:          b.ID,
		EventID:          b.EventID,
		Title:            b.Title,
		IsVisible:        b.Visible(),
		StartsAt:         start,
		StartDateValid:   startValid,
		EndDateValid:     true,
		SaleStarted:      !now.Before(start),
		AvailableTickets: b.AvailableTickets,
		TotalTickets:     b.TotalTickets,
		SoldTickets:      b.SoldTickets(),
		PersistedStatus:  b.Status,
		ComputedStatus:   computed,
		StatusMismatch:   b.Status != computed,
		UnknownStatus:    !b.Status.IsKnown(),
		Exhausted:        b.AvailableTickets <= 0,
		CapacityExceeded: b.CapacityExceeded(),
		EvaluatedAt:      now,
	}

	if b.EndDate != nil {
		end, ok := b.SaleEnd()
		info.EndDateValid = ok
		if ok {
			info.EndsAt = &end
			info.SaleEnded = now.After(end)
		}
	}

	return info, nil
}
