package models

import "errors"

// Common errors used throughout the application
var (
	ErrNilBatch             = errors.New("batch is nil")
	ErrBatchNotFound        = errors.New("batch not found")
	ErrEmptyUpdate          = errors.New("update has no fields")
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	ErrInvalidInput         = errors.New("invalid input")
	ErrBatchNotPurchasable  = errors.New("batch is not on sale")
	ErrInsufficientTickets  = errors.New("insufficient tickets available")
)
