package lifecycle

import (
	"fmt"
	"time"

	"jobrunner/internal/model"
)

// counterFor maps a job status to its batch counter. The switch is
// exhaustive over the status set so an unrecognized value fails loudly
// instead of silently skipping a counter.
func counterFor(b *model.Batch, s model.JobStatus) *int {
	switch s {
	case model.StatusPending:
		return &b.PendingCount
	case model.StatusRunning:
		return &b.RunningCount
	case model.StatusSuccess:
		return &b.SuccessCount
	case model.StatusFailed:
		return &b.FailedCount
	case model.StatusCanceled:
		return &b.CanceledCount
	}
	panic(fmt.Sprintf("unknown job status %q", s))
}

// applyBatchTransition moves one job's worth of count from oldStatus
// to newStatus and maintains the batch lifecycle timestamps:
// started_at is stamped on the first running observation, completed_at
// once nothing is pending or running and the terminal counts cover
// total_jobs. Callers must hold the batch row lock.
func applyBatchTransition(b *model.Batch, oldStatus, newStatus model.JobStatus, now time.Time) {
	if oldStatus != newStatus {
		dec := counterFor(b, oldStatus)
		if *dec > 0 {
			*dec--
		}
		*counterFor(b, newStatus)++
	}

	if newStatus == model.StatusRunning && b.StartedAt == nil {
		t := now
		b.StartedAt = &t
	}

	if b.PendingCount == 0 && b.RunningCount == 0 {
		finished := b.SuccessCount + b.FailedCount + b.CanceledCount
		if finished >= b.TotalJobs && b.CompletedAt == nil {
			t := now
			b.CompletedAt = &t
		}
	}
	b.UpdatedAt = now
}

// finalizeJob moves the job to a terminal status, stamping
// completed_at (and started_at when the job never ran), and merges
// any stdout/stderr override into the result payload. Used by cancel
// and force-complete; executor outcomes carry a full result instead.
func finalizeJob(j *model.Job, b *model.Batch, newStatus model.JobStatus, stdout, stderr *string, now time.Time) {
	prev := j.Status
	j.Status = newStatus
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	t := now
	j.CompletedAt = &t
	j.UpdatedAt = now

	res := j.Result
	if res == nil {
		res = emptyResult(j)
	}
	if stdout != nil {
		res.Stdout = *stdout
	}
	if stderr != nil {
		res.Stderr = *stderr
	}
	j.Result = res

	if b != nil {
		applyBatchTransition(b, prev, newStatus, now)
	}
}

// removeJobFromBatch adjusts counters when a job row is deleted. When
// the last job leaves, all counters reset and the batch is stamped
// complete.
func removeJobFromBatch(b *model.Batch, status model.JobStatus, now time.Time) {
	dec := counterFor(b, status)
	if *dec > 0 {
		*dec--
	}
	if b.TotalJobs > 0 {
		b.TotalJobs--
	}

	if b.TotalJobs == 0 {
		b.PendingCount = 0
		b.RunningCount = 0
		b.SuccessCount = 0
		b.FailedCount = 0
		b.CanceledCount = 0
		t := now
		b.CompletedAt = &t
	} else if b.PendingCount == 0 && b.RunningCount == 0 {
		finished := b.SuccessCount + b.FailedCount + b.CanceledCount
		if finished >= b.TotalJobs {
			t := now
			b.CompletedAt = &t
		}
	}
	b.UpdatedAt = now
}

// emptyResult builds the result skeleton recorded for jobs that never
// produced output (dispatch failures, cancellations, forced
// completions).
func emptyResult(j *model.Job) *model.JobResult {
	command := j.Command
	if command == nil {
		command = []string{}
	}
	return &model.JobResult{
		ReturnCode: nil,
		Stdout:     "",
		Stderr:     "",
		Command:    command,
		WorkingDir: j.WorkingDir,
	}
}
