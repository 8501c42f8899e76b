package models

import (
	"encoding/json"
	"time"
)

// AuditLog represents an administrative action log entry
type AuditLog struct {
	ID          int             `json:"id" db:"id"`
	AdminUserID string          `json:"admin_user_id" db:"admin_user_id"`
	Action      string          `json:"action" db:"action"`
	TargetType  string          `json:"target_type" db:"target_type"`
	TargetID    string          `json:"target_id" db:"target_id"`
	Details     json.RawMessage `json:"details" db:"details"`
	IPAddress   string          `json:"ip_address" db:"ip_address"`
	UserAgent   string          `json:"user_agent" db:"user_agent"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuditLogCreateRequest represents a request to create an audit log entry
type AuditLogCreateRequest struct {
	AdminUserID string          `json:"admin_user_id"`
	Action      string          `json:"action"`
	TargetType  string          `json:"target_type"`
	TargetID    string          `json:"target_id"`
	Details     json.RawMessage `json:"details"`
	IPAddress   string          `json:"ip_address"`
	UserAgent   string          `json:"user_agent"`
}

// Batch maintenance audit actions
const (
	AuditActionBatchStatusFix         = "batch_status_fix"
	AuditActionBatchStatusFixAll      = "batch_status_fix_all"
	AuditActionBatchAvailabilityReset = "batch_availability_reset"
	AuditActionBatchCreate            = "batch_create"
	AuditActionBatchUpdate            = "batch_update"

	// AuditActionBatchAvailabilityResetFailed follows a reset entry whose
	// write did not apply
	AuditActionBatchAvailabilityResetFailed = "batch_availability_reset_failed"
)

// Common target types
const (
	AuditTargetBatch = "batch"
	AuditTargetEvent = "event"
)
