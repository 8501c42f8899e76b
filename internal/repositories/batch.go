package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ticket-batch-platform/internal/models"
)

// BatchRepository handles batch data operations
type BatchRepository struct {
	db *sql.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, event_id, title, price, is_visible, available_tickets, total_tickets,
		       start_date, end_date, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanBatch reads a batch row. Timestamps scan into their text form so the
// status engine sees them the way they were stored.
func scanBatch(row rowScanner) (*models.Batch, error) {
	batch := &models.Batch{}
	var (
		visible sql.NullBool
		start   sql.NullString
		end     sql.NullString
		status  string
	)

	err := row.Scan(
		&batch.ID,
		&batch.EventID,
		&batch.Title,
		&batch.Price,
		&visible,
		&batch.AvailableTickets,
		&batch.TotalTickets,
		&start,
		&end,
		&status,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if visible.Valid {
		v := visible.Bool
		batch.IsVisible = &v
	}
	batch.StartDate = start.String
	if end.Valid {
		e := end.String
		batch.EndDate = &e
	}
	batch.Status = models.BatchStatus(status)
	return batch, nil
}

// GetBatch retrieves a batch by ID
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM batches
		WHERE id = $1`

	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", id, models.ErrBatchNotFound)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// ListBatches retrieves all batches of an event in sale order
func (r *BatchRepository) ListBatches(ctx context.Context, eventID string) ([]*models.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM batches
		WHERE event_id = $1
		ORDER BY start_date ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	return batches, nil
}

// CreateBatch inserts a new batch
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *models.Batch) error {
	query := `
		INSERT INTO batches (id, event_id, title, price, is_visible, available_tickets, total_tickets,
		                     start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		batch.ID,
		batch.EventID,
		batch.Title,
		batch.Price,
		batch.IsVisible,
		batch.AvailableTickets,
		batch.TotalTickets,
		batch.StartDate,
		batch.EndDate,
		string(batch.Status),
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// UpdateBatchFields writes only the columns set in fields
func (r *BatchRepository) UpdateBatchFields(ctx context.Context, id string, fields models.BatchFieldUpdate) error {
	if fields.IsEmpty() {
		return models.ErrEmptyUpdate
	}

	var setClauses []string
	var args []interface{}
	argIndex := 1

	set := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if fields.Title != nil {
		set("title", *fields.Title)
	}
	if fields.Price != nil {
		set("price", *fields.Price)
	}
	if fields.Status != nil {
		set("status", string(*fields.Status))
	}
	if fields.AvailableTickets != nil {
		set("available_tickets", *fields.AvailableTickets)
	}
	if fields.TotalTickets != nil {
		set("total_tickets", *fields.TotalTickets)
	}
	if fields.IsVisible != nil {
		set("is_visible", *fields.IsVisible)
	}
	if fields.StartDate != nil {
		set("start_date", *fields.StartDate)
	}
	if fields.ClearEndDate {
		setClauses = append(setClauses, "end_date = NULL")
	} else if fields.EndDate != nil {
		set("end_date", *fields.EndDate)
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE batches SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argIndex)
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("batch %s: %w", id, models.ErrBatchNotFound)
	}
	return nil
}

// DecrementAvailable takes quantity tickets from the batch in one
// conditional statement, so concurrent purchases cannot drive the count
// below zero
func (r *BatchRepository) DecrementAvailable(ctx context.Context, id string, quantity int) (int, error) {
	query := `
		UPDATE batches
		SET available_tickets = available_tickets - $2, updated_at = NOW()
		WHERE id = $1 AND available_tickets >= $2
		RETURNING available_tickets`

	var remaining int
	err := r.db.QueryRowContext(ctx, query, id, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to decrement available tickets: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check batch: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("batch %s: %w", id, models.ErrBatchNotFound)
	}
	return 0, models.ErrInsufficientTickets
}
