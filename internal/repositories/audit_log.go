package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticket-batch-platform/internal/models"
)

// AuditLogRepository handles audit log data operations
type AuditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create creates a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, req *models.AuditLogCreateRequest) (*models.AuditLog, error) {
	query := `
		INSERT INTO admin_audit_log (admin_user_id, action, target_type, target_id, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, admin_user_id, action, target_type, target_id, details, ip_address, user_agent, created_at`

	var details []byte
	if len(req.Details) > 0 {
		details = req.Details
	}

	auditLog := &models.AuditLog{}
	var storedDetails []byte
	err := r.db.QueryRowContext(ctx,
		query,
		req.AdminUserID,
		req.Action,
		req.TargetType,
		req.TargetID,
		details,
		req.IPAddress,
		req.UserAgent,
		time.Now(),
	).Scan(
		&auditLog.ID,
		&auditLog.AdminUserID,
		&auditLog.Action,
		&auditLog.TargetType,
		&auditLog.TargetID,
		&storedDetails,
		&auditLog.IPAddress,
		&auditLog.UserAgent,
		&auditLog.CreatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}
	auditLog.Details = storedDetails

	return auditLog, nil
}

// GetByTarget retrieves audit logs for a specific target, newest first
func (r *AuditLogRepository) GetByTarget(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := "SELECT COUNT(*) FROM admin_audit_log WHERE target_type = $1 AND target_id = $2"
	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, targetType, targetID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get audit log count: %w", err)
	}

	query := `
		SELECT id, admin_user_id, action, target_type, target_id,
		       details, ip_address, user_agent, created_at
		FROM admin_audit_log
		WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, targetType, targetID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var auditLogs []*models.AuditLog
	for rows.Next() {
		auditLog := &models.AuditLog{}
		var details []byte

		err := rows.Scan(
			&auditLog.ID,
			&auditLog.AdminUserID,
			&auditLog.Action,
			&auditLog.TargetType,
			&auditLog.TargetID,
			&details,
			&auditLog.IPAddress,
			&auditLog.UserAgent,
			&auditLog.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		auditLog.Details = details

		auditLogs = append(auditLogs, auditLog)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return auditLogs, totalCount, nil
}
