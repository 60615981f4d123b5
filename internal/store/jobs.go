package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

const jobColumns = `id, name, payload, command, working_dir, env, status, queue, priority,
owner_id, batch_id, created_at, scheduled_at, started_at, completed_at, updated_at, result, error`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var (
		j           model.Job
		payload     []byte
		command     []byte
		workingDir  sql.NullString
		env         []byte
		status      string
		batchID     uuid.NullUUID
		scheduledAt sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
		result      []byte
		errMsg      sql.NullString
	)
	err := row.Scan(&j.ID, &j.Name, &payload, &command, &workingDir, &env, &status, &j.Queue,
		&j.Priority, &j.OwnerID, &batchID, &j.CreatedAt, &scheduledAt, &startedAt,
		&completedAt, &j.UpdatedAt, &result, &errMsg)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if err := unmarshalJSON(command, &j.Command); err != nil {
		return nil, fmt.Errorf("decode job command: %w", err)
	}
	if err := unmarshalJSON(env, &j.Env); err != nil {
		return nil, fmt.Errorf("decode job env: %w", err)
	}
	if len(result) > 0 {
		j.Result = &model.JobResult{}
		if err := unmarshalJSON(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}

	j.Status = model.JobStatus(status)
	if workingDir.Valid {
		j.WorkingDir = workingDir.String
	}
	if batchID.Valid {
		id := batchID.UUID
		j.BatchID = &id
	}
	j.ScheduledAt = timePtr(scheduledAt)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.Error = strPtr(errMsg)
	return &j, nil
}

// InsertJob persists a new job row.
func (s *Store) InsertJob(ctx context.Context, q DBTX, j *model.Job) error {
	payload, err := marshalJSON(j.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	if payload == nil {
		payload = []byte("{}")
	}
	command, err := marshalJSON(j.Command)
	if err != nil {
		return fmt.Errorf("encode job command: %w", err)
	}
	env, err := marshalJSON(j.Env)
	if err != nil {
		return fmt.Errorf("encode job env: %w", err)
	}

	var batchID uuid.NullUUID
	if j.BatchID != nil {
		batchID = uuid.NullUUID{UUID: *j.BatchID, Valid: true}
	}

	_, err = q.ExecContext(ctx, `
INSERT INTO jobs (id, name, payload, command, working_dir, env, status, queue, priority,
	owner_id, batch_id, created_at, scheduled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, j.Name, payload, command, j.WorkingDir, env, string(j.Status), j.Queue,
		j.Priority, j.OwnerID, batchID, j.CreatedAt, toNullTime(j.ScheduledAt), j.UpdatedAt)
	return err
}

func (s *Store) GetJob(ctx context.Context, q DBTX, id uuid.UUID) (*model.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobForUpdate locks the job row for the duration of the enclosing
// transaction. The lifecycle engine uses this so status changes and
// batch counter updates apply as one atomic read-modify-write.
func (s *Store) GetJobForUpdate(ctx context.Context, q DBTX, id uuid.UUID) (*model.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	return scanJob(row)
}

// UpdateJobState writes the mutable lifecycle fields back to the row.
func (s *Store) UpdateJobState(ctx context.Context, q DBTX, j *model.Job) error {
	var result []byte
	if j.Result != nil {
		var err error
		result, err = marshalJSON(j.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}
	_, err := q.ExecContext(ctx, `
UPDATE jobs SET status = $2, started_at = $3, completed_at = $4, updated_at = $5, result = $6, error = $7
WHERE id = $1`,
		j.ID, string(j.Status), toNullTime(j.StartedAt), toNullTime(j.CompletedAt),
		j.UpdatedAt, result, toNullString(j.Error))
	return err
}

// JobFilter narrows ListJobs and CountJobs. Nil fields are ignored.
type JobFilter struct {
	OwnerID *uuid.UUID
	Status  *model.JobStatus
	BatchID *uuid.UUID
	Limit   int
	Offset  int
}

func (f JobFilter) where() (string, []any) {
	clause := ""
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += fmt.Sprintf(cond, len(args))
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", *f.OwnerID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.BatchID != nil {
		add("batch_id = $%d", *f.BatchID)
	}
	return clause, args
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, q DBTX, f JobFilter) ([]model.Job, error) {
	clause, args := f.where()
	query := `SELECT ` + jobColumns + ` FROM jobs` + clause + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) CountJobs(ctx context.Context, q DBTX, f JobFilter) (int, error) {
	clause, args := f.where()
	var total int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM jobs`+clause, args...).Scan(&total)
	return total, err
}

// CountJobsByStatus returns per-status job counts, optionally scoped
// to one owner.
func (s *Store) CountJobsByStatus(ctx context.Context, q DBTX, ownerID *uuid.UUID) (map[model.JobStatus]int, error) {
	query := `SELECT status, count(*) FROM jobs GROUP BY status`
	var args []any
	if ownerID != nil {
		query = `SELECT status, count(*) FROM jobs WHERE owner_id = $1 GROUP BY status`
		args = append(args, *ownerID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountActiveJobs counts pending and running jobs owned by the user.
// Active jobs are what the quota guard charges against the limit.
func (s *Store) CountActiveJobs(ctx context.Context, q DBTX, ownerID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
SELECT count(*) FROM jobs WHERE owner_id = $1 AND status IN ($2, $3)`,
		ownerID, string(model.StatusPending), string(model.StatusRunning)).Scan(&n)
	return n, err
}

// ListBatchJobsForUpdate locks and returns the batch's jobs currently
// in a cancelable (pending or running) status.
func (s *Store) ListBatchJobsForUpdate(ctx context.Context, q DBTX, batchID uuid.UUID) ([]model.Job, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE batch_id = $1 AND status IN ($2, $3)
ORDER BY created_at FOR UPDATE`,
		batchID, string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) DeleteJob(ctx context.Context, q DBTX, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteJobsByBatch(ctx context.Context, q DBTX, batchID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE batch_id = $1`, batchID)
	return err
}

// DeleteTerminalJobsBefore removes batchless jobs that reached a
// terminal status before the cutoff. Batch members are reclaimed with
// their batch so the aggregate counters stay truthful.
func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, q DBTX, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
DELETE FROM jobs WHERE batch_id IS NULL AND completed_at < $1 AND status IN ($2, $3, $4)`,
		cutoff, string(model.StatusSuccess), string(model.StatusFailed), string(model.StatusCanceled))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
