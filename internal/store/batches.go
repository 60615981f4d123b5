package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

const batchColumns = `id, name, description, payload, owner_id, total_jobs, pending_count,
running_count, success_count, failed_count, canceled_count, created_at, started_at, completed_at, updated_at`

func scanBatch(row interface{ Scan(...any) error }) (*model.Batch, error) {
	var (
		b           model.Batch
		description sql.NullString
		payload     []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.Name, &description, &payload, &b.OwnerID, &b.TotalJobs,
		&b.PendingCount, &b.RunningCount, &b.SuccessCount, &b.FailedCount, &b.CanceledCount,
		&b.CreatedAt, &startedAt, &completedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &b.Payload); err != nil {
		return nil, fmt.Errorf("decode batch payload: %w", err)
	}
	b.Description = strPtr(description)
	b.StartedAt = timePtr(startedAt)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

// InsertBatch persists a new batch row with its initial counters.
func (s *Store) InsertBatch(ctx context.Context, q DBTX, b *model.Batch) error {
	payload, err := marshalJSON(b.Payload)
	if err != nil {
		return fmt.Errorf("encode batch payload: %w", err)
	}
	if payload == nil {
		payload = []byte("{}")
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO job_batches (id, name, description, payload, owner_id, total_jobs, pending_count,
	running_count, success_count, failed_count, canceled_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.Name, toNullString(b.Description), payload, b.OwnerID, b.TotalJobs,
		b.PendingCount, b.RunningCount, b.SuccessCount, b.FailedCount, b.CanceledCount,
		b.CreatedAt, b.UpdatedAt)
	return err
}

func (s *Store) GetBatch(ctx context.Context, q DBTX, id uuid.UUID) (*model.Batch, error) {
	row := q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM job_batches WHERE id = $1`, id)
	return scanBatch(row)
}

// GetBatchForUpdate locks the batch row. Every counter transition
// must go through a locked read so concurrent completions on the same
// batch never lose updates.
func (s *Store) GetBatchForUpdate(ctx context.Context, q DBTX, id uuid.UUID) (*model.Batch, error) {
	row := q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM job_batches WHERE id = $1 FOR UPDATE`, id)
	return scanBatch(row)
}

// UpdateBatchState writes the aggregate counters and lifecycle
// timestamps back to the row.
func (s *Store) UpdateBatchState(ctx context.Context, q DBTX, b *model.Batch) error {
	_, err := q.ExecContext(ctx, `
UPDATE job_batches SET total_jobs = $2, pending_count = $3, running_count = $4, success_count = $5,
	failed_count = $6, canceled_count = $7, started_at = $8, completed_at = $9, updated_at = $10
WHERE id = $1`,
		b.ID, b.TotalJobs, b.PendingCount, b.RunningCount, b.SuccessCount, b.FailedCount,
		b.CanceledCount, toNullTime(b.StartedAt), toNullTime(b.CompletedAt), b.UpdatedAt)
	return err
}

// ListBatches returns batches newest first, optionally scoped to an owner.
func (s *Store) ListBatches(ctx context.Context, q DBTX, ownerID *uuid.UUID) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM job_batches ORDER BY created_at DESC`
	var args []any
	if ownerID != nil {
		query = `SELECT ` + batchColumns + ` FROM job_batches WHERE owner_id = $1 ORDER BY created_at DESC`
		args = append(args, *ownerID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func (s *Store) CountBatches(ctx context.Context, q DBTX, ownerID *uuid.UUID) (int, error) {
	query := `SELECT count(*) FROM job_batches`
	var args []any
	if ownerID != nil {
		query += ` WHERE owner_id = $1`
		args = append(args, *ownerID)
	}
	var total int
	err := q.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

func (s *Store) DeleteBatch(ctx context.Context, q DBTX, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM job_batches WHERE id = $1`, id)
	return err
}

// ListExpiredBatchIDs returns batches that completed before the
// cutoff, for retention cleanup.
func (s *Store) ListExpiredBatchIDs(ctx context.Context, q DBTX, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id FROM job_batches WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
