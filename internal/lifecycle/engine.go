// Package lifecycle owns the job and batch state machine. Every
// mutation of job status and batch counters flows through this
// package's transition transaction, which is the single
// synchronization point for lifecycle consistency.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/config"
	"jobrunner/internal/dispatch"
	"jobrunner/internal/metrics"
	"jobrunner/internal/model"
	"jobrunner/internal/quota"
	"jobrunner/internal/store"
)

// JobSpec describes a job submission. Priority defaults to 5 when nil.
type JobSpec struct {
	Name        string
	Payload     map[string]any
	Queue       string
	Priority    *int
	Command     []string
	WorkingDir  string
	Env         map[string]string
	ScheduledAt *time.Time
	BatchID     *uuid.UUID
}

// BatchSpec describes a batch submission.
type BatchSpec struct {
	Name        string
	Description *string
	Payload     map[string]any
	Jobs        []JobSpec
}

// Engine coordinates admission, transitions, and deletion for jobs
// and batches.
type Engine struct {
	store  *store.Store
	guard  *quota.Guard
	queue  dispatch.Queue
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(st *store.Store, guard *quota.Guard, queue dispatch.Queue, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		guard:  guard,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) buildJob(owner *model.User, spec JobSpec) (*model.Job, error) {
	if len(spec.Command) == 0 {
		return nil, apperr.Validationf("job requires a non-empty command")
	}
	priority := 5
	if spec.Priority != nil {
		priority = *spec.Priority
	}
	if priority < 0 || priority > 10 {
		return nil, apperr.Validationf("priority must be between 0 and 10")
	}

	workingDir, err := ResolveWorkingDir(spec.WorkingDir, e.cfg.Jobs.DefaultWorkingDir, e.cfg.Jobs.AllowedWorkdirs)
	if err != nil {
		return nil, err
	}

	queueName := spec.Queue
	if queueName == "" {
		queueName = e.cfg.Jobs.DefaultQueue
	}
	payload := spec.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	now := e.now()
	return &model.Job{
		ID:          uuid.New(),
		Name:        spec.Name,
		Payload:     payload,
		Command:     spec.Command,
		WorkingDir:  workingDir,
		Env:         spec.Env,
		Status:      model.StatusPending,
		Queue:       queueName,
		Priority:    priority,
		OwnerID:     owner.ID,
		BatchID:     spec.BatchID,
		CreatedAt:   now,
		ScheduledAt: spec.ScheduledAt,
		UpdatedAt:   now,
	}, nil
}

// Enqueue admits, persists, and dispatches a single job. The quota
// check, batch counter update, and insert commit as one transaction;
// dispatch happens only after commit. A dispatch failure leaves the
// job behind in failed state and surfaces as a DispatchError.
func (e *Engine) Enqueue(ctx context.Context, owner *model.User, spec JobSpec) (*model.Job, error) {
	job, err := e.buildJob(owner, spec)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.LockUser(ctx, tx, owner.ID); err != nil {
			return err
		}
		if err := e.guard.Admit(ctx, tx, owner, 1); err != nil {
			return err
		}
		if job.BatchID != nil {
			batch, err := e.getOwnedBatchForUpdate(ctx, tx, *job.BatchID, owner)
			if err != nil {
				return err
			}
			batch.TotalJobs++
			batch.PendingCount++
			batch.UpdatedAt = e.now()
			if err := e.store.UpdateBatchState(ctx, tx, batch); err != nil {
				return err
			}
		}
		return e.store.InsertJob(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordEnqueued(1)

	if err := e.dispatchJob(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// EnqueueBatch admits and persists a batch and all of its jobs in
// one transaction, then dispatches each job sequentially. On the
// first dispatch failure the failing job and the batch counters are
// updated and the error is returned; earlier jobs stay dispatched.
func (e *Engine) EnqueueBatch(ctx context.Context, owner *model.User, spec BatchSpec) (*model.Batch, []model.Job, error) {
	if len(spec.Jobs) == 0 {
		return nil, nil, apperr.Validationf("batch requires at least one job")
	}

	now := e.now()
	payload := spec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	batch := &model.Batch{
		ID:           uuid.New(),
		Name:         spec.Name,
		Description:  spec.Description,
		Payload:      payload,
		OwnerID:      owner.ID,
		TotalJobs:    len(spec.Jobs),
		PendingCount: len(spec.Jobs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	jobs := make([]model.Job, 0, len(spec.Jobs))
	for _, jobSpec := range spec.Jobs {
		jobSpec.BatchID = &batch.ID
		job, err := e.buildJob(owner, jobSpec)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, *job)
	}

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.LockUser(ctx, tx, owner.ID); err != nil {
			return err
		}
		if err := e.guard.Admit(ctx, tx, owner, len(jobs)); err != nil {
			return err
		}
		if err := e.store.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
		for i := range jobs {
			if err := e.store.InsertJob(ctx, tx, &jobs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordEnqueued(len(jobs))

	for i := range jobs {
		if err := e.dispatchJob(ctx, &jobs[i]); err != nil {
			if refreshed, gerr := e.store.GetBatch(ctx, e.store.DB, batch.ID); gerr == nil {
				batch = refreshed
			}
			return batch, jobs, err
		}
	}
	return batch, jobs, nil
}

// dispatchJob hands the persisted job to the queue. On failure it
// finalizes the job as failed with an empty result skeleton and wraps
// the cause in a DispatchError.
func (e *Engine) dispatchJob(ctx context.Context, job *model.Job) error {
	err := e.queue.Send(ctx, dispatch.TaskExecuteJob, job.ID, job.Queue)
	if err == nil {
		return nil
	}

	e.logger.Error("job dispatch failed", "job_id", job.ID, "queue", job.Queue, "error", err)
	msg := err.Error()
	ferr := e.applyTransition(ctx, job.ID, func(j *model.Job, b *model.Batch, now time.Time) error {
		prev := j.Status
		j.Status = model.StatusFailed
		t := now
		j.CompletedAt = &t
		j.UpdatedAt = now
		j.Error = &msg
		if j.Result == nil {
			j.Result = emptyResult(j)
		}
		if b != nil {
			applyBatchTransition(b, prev, model.StatusFailed, now)
		}
		*job = *j
		return nil
	})
	if ferr != nil && !errors.Is(ferr, apperr.ErrNotFound) {
		e.logger.Error("failed to mark job after dispatch error", "job_id", job.ID, "error", ferr)
	}
	return &apperr.DispatchError{JobID: job.ID.String(), Err: err}
}

// applyTransition is the single choke point that mutates a job row
// and its batch counters together. The batch row is always locked
// before the job row so transitions, batch-wide operations, and
// deletions take locks in the same order.
func (e *Engine) applyTransition(ctx context.Context, jobID uuid.UUID, mutate func(j *model.Job, b *model.Batch, now time.Time) error) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		peek, err := e.store.GetJob(ctx, tx, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}

		var batch *model.Batch
		if peek.BatchID != nil {
			batch, err = e.store.GetBatchForUpdate(ctx, tx, *peek.BatchID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		job, err := e.store.GetJobForUpdate(ctx, tx, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}

		prev := job.Status
		now := e.now()
		if err := mutate(job, batch, now); err != nil {
			return err
		}

		if err := e.store.UpdateJobState(ctx, tx, job); err != nil {
			return err
		}
		if batch != nil {
			if err := e.store.UpdateBatchState(ctx, tx, batch); err != nil {
				return err
			}
		}
		if job.Status != prev {
			metrics.RecordTransition(prev, job.Status)
		}
		return nil
	})
}

// MarkRunning transitions a dispatched job to running, stamping
// started_at once. A job deleted between dispatch and execution is
// treated as benign.
func (e *Engine) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	err := e.applyTransition(ctx, jobID, func(j *model.Job, b *model.Batch, now time.Time) error {
		prev := j.Status
		j.Status = model.StatusRunning
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
		j.UpdatedAt = now
		if b != nil {
			applyBatchTransition(b, prev, model.StatusRunning, now)
		}
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// FetchJob reads a job without ownership checks; the executor uses it
// after MarkRunning to load the execution contract.
func (e *Engine) FetchJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	job, err := e.store.GetJob(ctx, e.store.DB, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return job, err
}

// Finalize records an execution outcome: terminal status, result
// payload, and error message, plus the batch counter transition.
func (e *Engine) Finalize(ctx context.Context, jobID uuid.UUID, status model.JobStatus, result *model.JobResult, errMsg *string) error {
	if !status.IsTerminal() {
		return apperr.Validationf("finalize requires a terminal status")
	}
	return e.applyTransition(ctx, jobID, func(j *model.Job, b *model.Batch, now time.Time) error {
		prev := j.Status
		j.Status = status
		t := now
		j.CompletedAt = &t
		j.UpdatedAt = now
		j.Result = result
		j.Error = errMsg
		if b != nil {
			applyBatchTransition(b, prev, status, now)
		}
		return nil
	})
}

// Cancel finalizes a pending or running job as canceled. It returns
// false when the job is missing, not visible to the requester, or
// already terminal. Canceling a running job only updates the stored
// status; the underlying process, if any, is not signaled.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID, requester *model.User) (bool, error) {
	canceled := false
	err := e.applyTransition(ctx, jobID, func(j *model.Job, b *model.Batch, now time.Time) error {
		if !ownsJob(j, requester) {
			return apperr.ErrNotFound
		}
		if !j.Status.IsCancelable() {
			return nil
		}
		finalizeJob(j, b, model.StatusCanceled, nil, nil, now)
		canceled = true
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return canceled, err
}

// ForceComplete overwrites a job's status with the supplied terminal
// status, regardless of its current state, merging optional
// stdout/stderr into the result. Returns ErrNotFound when the job is
// missing or not visible to the requester.
func (e *Engine) ForceComplete(ctx context.Context, jobID uuid.UUID, requester *model.User, status model.JobStatus, stdout, stderr *string) (*model.Job, error) {
	if !status.IsTerminal() {
		return nil, apperr.Validationf("force-complete status must be terminal")
	}
	var out *model.Job
	err := e.applyTransition(ctx, jobID, func(j *model.Job, b *model.Batch, now time.Time) error {
		if !ownsJob(j, requester) {
			return apperr.ErrNotFound
		}
		finalizeJob(j, b, status, stdout, stderr, now)
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelBatch finalizes every pending or running job in the batch as
// canceled and returns the number affected. Returns ErrNotFound when
// the batch is missing or not visible to the requester.
func (e *Engine) CancelBatch(ctx context.Context, batchID uuid.UUID, requester *model.User) (int, error) {
	return e.finalizeBatchJobs(ctx, batchID, requester, model.StatusCanceled, nil, nil)
}

// ForceCompleteBatch applies a forced terminal status to every
// pending or running job in the batch and returns the number
// affected. Zero is a valid result.
func (e *Engine) ForceCompleteBatch(ctx context.Context, batchID uuid.UUID, requester *model.User, status model.JobStatus, stdout, stderr *string) (int, error) {
	if !status.IsTerminal() {
		return 0, apperr.Validationf("force-complete status must be terminal")
	}
	return e.finalizeBatchJobs(ctx, batchID, requester, status, stdout, stderr)
}

func (e *Engine) finalizeBatchJobs(ctx context.Context, batchID uuid.UUID, requester *model.User, status model.JobStatus, stdout, stderr *string) (int, error) {
	affected := 0
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		batch, err := e.getOwnedBatchForUpdate(ctx, tx, batchID, requester)
		if err != nil {
			return err
		}
		jobs, err := e.store.ListBatchJobsForUpdate(ctx, tx, batchID)
		if err != nil {
			return err
		}

		now := e.now()
		for i := range jobs {
			job := &jobs[i]
			prev := job.Status
			finalizeJob(job, batch, status, stdout, stderr, now)
			if err := e.store.UpdateJobState(ctx, tx, job); err != nil {
				return err
			}
			metrics.RecordTransition(prev, status)
			affected++
		}
		if affected > 0 {
			if err := e.store.UpdateBatchState(ctx, tx, batch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// DeleteJob removes a terminal job row, adjusting its batch counters.
// Non-terminal jobs must be canceled first.
func (e *Engine) DeleteJob(ctx context.Context, jobID uuid.UUID, requester *model.User) (bool, error) {
	deleted := false
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		peek, err := e.store.GetJob(ctx, tx, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}

		var batch *model.Batch
		if peek.BatchID != nil {
			batch, err = e.store.GetBatchForUpdate(ctx, tx, *peek.BatchID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		job, err := e.store.GetJobForUpdate(ctx, tx, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !ownsJob(job, requester) {
			return apperr.ErrNotFound
		}
		if job.Status.IsCancelable() {
			return apperr.Validationf("cancel the job before deleting it")
		}

		if batch != nil {
			removeJobFromBatch(batch, job.Status, e.now())
			if err := e.store.UpdateBatchState(ctx, tx, batch); err != nil {
				return err
			}
		}
		if err := e.store.DeleteJob(ctx, tx, jobID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// DeleteBatch removes the batch and all of its jobs. Rejected while
// any job is still pending or running.
func (e *Engine) DeleteBatch(ctx context.Context, batchID uuid.UUID, requester *model.User) (bool, error) {
	deleted := false
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		batch, err := e.getOwnedBatchForUpdate(ctx, tx, batchID, requester)
		if err != nil {
			return err
		}
		if batch.PendingCount > 0 || batch.RunningCount > 0 {
			return apperr.Validationf("stop the batch before deleting it")
		}
		if err := e.store.DeleteJobsByBatch(ctx, tx, batchID); err != nil {
			return err
		}
		if err := e.store.DeleteBatch(ctx, tx, batchID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// getOwnedBatchForUpdate locks the batch and enforces visibility:
// owner or admin. Missing and not-owned are both ErrNotFound so the
// API never leaks ownership information.
func (e *Engine) getOwnedBatchForUpdate(ctx context.Context, tx *sql.Tx, batchID uuid.UUID, requester *model.User) (*model.Batch, error) {
	batch, err := e.store.GetBatchForUpdate(ctx, tx, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != requester.ID && requester.Role != model.RoleAdmin {
		return nil, apperr.ErrNotFound
	}
	return batch, nil
}

func ownsJob(j *model.Job, requester *model.User) bool {
	return j.OwnerID == requester.ID || requester.Role == model.RoleAdmin
}
