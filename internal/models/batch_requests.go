package models

import (
	"errors"
	"fmt"
	"strings"
)

// BatchCreateRequest represents a request to create a new batch
type BatchCreateRequest struct {
	EventID      string  `json:"event_id"`
	Title        string  `json:"title"`
	Price        int     `json:"price"`
	TotalTickets int     `json:"total_tickets"`
	IsVisible    *bool   `json:"is_visible"`
	StartDate    string  `json:"start_date"`
	EndDate      *string `json:"end_date"`
}

// BatchUpdateRequest represents an administrative edit of a batch.
// Nil fields are left untouched.
type BatchUpdateRequest struct {
	Title        *string `json:"title"`
	Price        *int    `json:"price"`
	TotalTickets *int    `json:"total_tickets"`
	IsVisible    *bool   `json:"is_visible"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	ClearEndDate bool    `json:"clear_end_date"`
}

// Validate validates batch creation data
func (req *BatchCreateRequest) Validate() error {
	if strings.TrimSpace(req.EventID) == "" {
		return errors.New("event id is required")
	}

	if err := validateBatchTitle(req.Title); err != nil {
		return err
	}

	if err := validateBatchPrice(req.Price); err != nil {
		return err
	}

	if err := validateBatchCapacity(req.TotalTickets); err != nil {
		return err
	}

	return validateBatchWindow(req.StartDate, req.EndDate)
}

// Validate validates batch update data against the current batch
func (req *BatchUpdateRequest) Validate(current *Batch) error {
	if req.Title != nil {
		if err := validateBatchTitle(*req.Title); err != nil {
			return err
		}
	}

	if req.Price != nil {
		if err := validateBatchPrice(*req.Price); err != nil {
			return err
		}
	}

	if req.TotalTickets != nil {
		if err := validateBatchCapacity(*req.TotalTickets); err != nil {
			return err
		}
		// Capacity may shrink only down to what has already been sold
		if sold := current.SoldTickets(); *req.TotalTickets < sold {
			return fmt.Errorf("cannot reduce capacity below sold tickets (%d)", sold)
		}
	}

	start := current.StartDate
	if req.StartDate != nil {
		start = *req.StartDate
	}
	end := current.EndDate
	if req.ClearEndDate {
		end = nil
	} else if req.EndDate != nil {
		end = req.EndDate
	}
	if req.StartDate != nil || req.EndDate != nil {
		return validateBatchWindow(start, end)
	}

	return nil
}

// FieldUpdate converts the request into a partial column update. The
// available count moves with the capacity so sold tickets are preserved.
func (req *BatchUpdateRequest) FieldUpdate(current *Batch) BatchFieldUpdate {
	update := BatchFieldUpdate{
		Title:        req.Title,
		Price:        req.Price,
		IsVisible:    req.IsVisible,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		ClearEndDate: req.ClearEndDate,
	}
	if req.TotalTickets != nil {
		total := *req.TotalTickets
		available := current.AvailableTickets + (total - current.TotalTickets)
		if available < 0 {
			available = 0
		}
		update.TotalTickets = &total
		update.AvailableTickets = &available
	}
	return update
}

func validateBatchTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("batch title is required")
	}

	if len(title) > 100 {
		return errors.New("batch title must be less than 100 characters")
	}

	return nil
}

func validateBatchPrice(price int) error {
	if price < 0 {
		return errors.New("batch price cannot be negative")
	}
	return nil
}

func validateBatchCapacity(total int) error {
	if total <= 0 {
		return errors.New("batch capacity must be greater than 0")
	}

	if total > 100000 {
		return errors.New("batch capacity cannot exceed 100,000")
	}

	return nil
}

func validateBatchWindow(startDate string, endDate *string) error {
	start, ok := ParseBatchTimestamp(startDate)
	if !ok {
		return errors.New("sale start date is required and must be a valid timestamp")
	}

	if endDate == nil {
		return nil
	}

	end, ok := ParseBatchTimestamp(*endDate)
	if !ok {
		return errors.New("sale end date must be a valid timestamp")
	}

	if !end.After(start) {
		return errors.New("sale start date must be before sale end date")
	}

	return nil
}
