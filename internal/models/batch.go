package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// BatchStatus represents the sales status of a ticket batch
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchUpcoming BatchStatus = "upcoming"
	BatchEnded    BatchStatus = "ended"
	BatchSoldOut  BatchStatus = "sold_out"
	BatchHidden   BatchStatus = "hidden"
)

// ResetAvailabilityConfirmation must be passed verbatim to confirm an
// availability reset, which discards the record of tickets already sold.
const ResetAvailabilityConfirmation = "RESET AVAILABLE TICKETS"

// IsKnown reports whether s is one of the five computed statuses.
func (s BatchStatus) IsKnown() bool {
	switch s {
	case BatchActive, BatchUpcoming, BatchEnded, BatchSoldOut, BatchHidden:
		return true
	default:
		return false
	}
}

// Batch represents a ticket lot of an event (e.g. "1st lot", "VIP")
type Batch struct {
	ID               string      `json:"id" db:"id"`
	EventID          string      `json:"event_id" db:"event_id"`
	Title            string      `json:"title" db:"title"`
	Price            int         `json:"price" db:"price"` // Price in cents
	IsVisible        *bool       `json:"is_visible" db:"is_visible"`
	AvailableTickets int         `json:"available_tickets" db:"available_tickets"`
	TotalTickets     int         `json:"total_tickets" db:"total_tickets"`
	StartDate        string      `json:"start_date" db:"start_date"`
	EndDate          *string     `json:"end_date" db:"end_date"`
	Status           BatchStatus `json:"status" db:"status"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// timestampLayouts are tried in order when parsing batch sale dates
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBatchTimestamp parses a stored or submitted timestamp.
func ParseBatchTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SaleStart returns the parsed start of the sale window. An unparsable
// start date yields the Unix epoch so the batch counts as started.
func (b *Batch) SaleStart() (time.Time, bool) {
	if t, ok := ParseBatchTimestamp(b.StartDate); ok {
		return t, true
	}
	return time.Unix(0, 0).UTC(), false
}

// SaleEnd returns the parsed end of the sale window. The second result is
// false when there is no usable end date, in which case the window is open.
func (b *Batch) SaleEnd() (time.Time, bool) {
	if b.EndDate == nil {
		return time.Time{}, false
	}
	return ParseBatchTimestamp(*b.EndDate)
}

// Visible reports whether the batch is visible; a missing flag means visible.
func (b *Batch) Visible() bool {
	return b.IsVisible == nil || *b.IsVisible
}

// SoldTickets returns total minus available, without clamping.
func (b *Batch) SoldTickets() int {
	return b.TotalTickets - b.AvailableTickets
}

// CapacityExceeded reports a batch with more available than total tickets
func (b *Batch) CapacityExceeded() bool {
	return b.AvailableTickets > b.TotalTickets
}

// ComputeStatus derives the effective sales status of a batch at now.
// The rules are evaluated in priority order: hidden, upcoming, ended,
// sold_out, active. Malformed dates never cause an error; only a nil
// batch does.
func ComputeStatus(b *Batch, now time.Time) (BatchStatus, error) {
	if b == nil {
		return "", ErrNilBatch
	}

	if !b.Visible() {
		return BatchHidden, nil
	}

	start, _ := b.SaleStart()
	if now.Before(start) {
		return BatchUpcoming, nil
	}

	if end, ok := b.SaleEnd(); ok && now.After(end) {
		return BatchEnded, nil
	}

	if b.AvailableTickets <= 0 {
		return BatchSoldOut, nil
	}

	return BatchActive, nil
}

// UnmarshalJSON decodes a batch record leniently. Ticket counts that are
// not numbers decode to 0, and dates of the wrong JSON type decode as
// unparsable text so ComputeStatus applies its substitutions.
func (b *Batch) UnmarshalJSON(data []byte) error {
	type plain Batch
	var raw struct {
		plain
		IsVisible        json.RawMessage `json:"is_visible"`
		AvailableTickets json.RawMessage `json:"available_tickets"`
		TotalTickets     json.RawMessage `json:"total_tickets"`
		StartDate        json.RawMessage `json:"start_date"`
		EndDate          json.RawMessage `json:"end_date"`
		Price            json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = Batch(raw.plain)
	b.IsVisible = decodeVisibility(raw.IsVisible)
	b.AvailableTickets = decodeCount(raw.AvailableTickets)
	b.TotalTickets = decodeCount(raw.TotalTickets)
	b.Price = decodeCount(raw.Price)

	if s, ok := decodeString(raw.StartDate); ok {
		b.StartDate = s
	}
	if s, ok := decodeString(raw.EndDate); ok {
		b.EndDate = &s
	} else if !isNull(raw.EndDate) {
		// Present but not a string: keep it as an unusable end date.
		empty := ""
		b.EndDate = &empty
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeVisibility(raw json.RawMessage) *bool {
	if isNull(raw) {
		return nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	if s, ok := decodeString(raw); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return &parsed
		}
	}
	return nil
}

func decodeCount(raw json.RawMessage) int {
	if isNull(raw) {
		return 0
	}
	text := string(bytes.TrimSpace(raw))
	if s, ok := decodeString(raw); ok {
		text = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

// BatchFieldUpdate is a partial update of a batch. Only non-nil fields are
// written; ClearEndDate removes the end date.
type BatchFieldUpdate struct {
	Title            *string      `json:"title,omitempty"`
	Price            *int         `json:"price,omitempty"`
	Status           *BatchStatus `json:"status,omitempty"`
	AvailableTickets *int         `json:"available_tickets,omitempty"`
	TotalTickets     *int         `json:"total_tickets,omitempty"`
	IsVisible        *bool        `json:"is_visible,omitempty"`
	StartDate        *string      `json:"start_date,omitempty"`
	EndDate          *string      `json:"end_date,omitempty"`
	ClearEndDate     bool         `json:"clear_end_date,omitempty"`
}

// IsEmpty reports whether the update would not change any column
func (u BatchFieldUpdate) IsEmpty() bool {
	return u.Title == nil && u.Price == nil && u.Status == nil &&
		u.AvailableTickets == nil && u.TotalTickets == nil &&
		u.IsVisible == nil && u.StartDate == nil && u.EndDate == nil &&
		!u.ClearEndDate
}

// ApplyTo returns a copy of b with the update applied
func (u BatchFieldUpdate) ApplyTo(b *Batch) *Batch {
	next := *b
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Price != nil {
		next.Price = *u.Price
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.AvailableTickets != nil {
		next.AvailableTickets = *u.AvailableTickets
	}
	if u.TotalTickets != nil {
		next.TotalTickets = *u.TotalTickets
	}
	if u.IsVisible != nil {
		v := *u.IsVisible
		next.IsVisible = &v
	}
	if u.StartDate != nil {
		next.StartDate = *u.StartDate
	}
	if u.ClearEndDate {
		next.EndDate = nil
	} else if u.EndDate != nil {
		end := *u.EndDate
		next.EndDate = &end
	}
	return &next
}
