package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

func counterSum(b *model.Batch) int {
	return b.PendingCount + b.RunningCount + b.SuccessCount + b.FailedCount + b.CanceledCount
}

func newTestBatch(pending int) *model.Batch {
	now := time.Now().UTC()
	return &model.Batch{
		ID:           uuid.New(),
		Name:         "nightly",
		OwnerID:      uuid.New(),
		TotalJobs:    pending,
		PendingCount: pending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestApplyBatchTransition_ConservesCounters(t *testing.T) {
	b := newTestBatch(3)
	now := time.Now().UTC()

	applyBatchTransition(b, model.StatusPending, model.StatusRunning, now)
	if b.PendingCount != 2 || b.RunningCount != 1 {
		t.Fatalf("expected pending=2 running=1, got pending=%d running=%d", b.PendingCount, b.RunningCount)
	}
	if counterSum(b) != b.TotalJobs {
		t.Fatalf("counter sum %d != total %d", counterSum(b), b.TotalJobs)
	}

	applyBatchTransition(b, model.StatusRunning, model.StatusSuccess, now)
	if b.RunningCount != 0 || b.SuccessCount != 1 {
		t.Fatalf("expected running=0 success=1, got running=%d success=%d", b.RunningCount, b.SuccessCount)
	}
	if counterSum(b) != b.TotalJobs {
		t.Fatalf("counter sum %d != total %d", counterSum(b), b.TotalJobs)
	}
}

func TestApplyBatchTransition_SameStatusIsNoop(t *testing.T) {
	b := newTestBatch(2)
	now := time.Now().UTC()

	applyBatchTransition(b, model.StatusPending, model.StatusPending, now)
	if b.PendingCount != 2 {
		t.Fatalf("expected pending=2, got %d", b.PendingCount)
	}
	if counterSum(b) != b.TotalJobs {
		t.Fatalf("counter sum %d != total %d", counterSum(b), b.TotalJobs)
	}
}

func TestApplyBatchTransition_StartedAtStampedOnce(t *testing.T) {
	b := newTestBatch(2)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	applyBatchTransition(b, model.StatusPending, model.StatusRunning, first)
	if b.StartedAt == nil || !b.StartedAt.Equal(first) {
		t.Fatalf("expected started_at %v, got %v", first, b.StartedAt)
	}

	applyBatchTransition(b, model.StatusPending, model.StatusRunning, second)
	if !b.StartedAt.Equal(first) {
		t.Fatalf("started_at changed on second running transition: %v", b.StartedAt)
	}
}

func TestApplyBatchTransition_CompletedAtWhenAllTerminal(t *testing.T) {
	b := newTestBatch(2)
	now := time.Now().UTC()

	applyBatchTransition(b, model.StatusPending, model.StatusSuccess, now)
	if b.CompletedAt != nil {
		t.Fatalf("batch completed with a job still pending")
	}

	applyBatchTransition(b, model.StatusPending, model.StatusFailed, now)
	if b.CompletedAt == nil {
		t.Fatalf("expected completed_at once all jobs are terminal")
	}
}

func TestApplyBatchTransition_ParallelCompletionsConserveSum(t *testing.T) {
	const n = 64
	b := newTestBatch(n)
	now := time.Now().UTC()
	terminal := []model.JobStatus{model.StatusSuccess, model.StatusFailed, model.StatusCanceled}

	// Each transition holds the batch lock for its read-modify-write,
	// the same discipline the transition transaction enforces with a
	// row lock. The sum must hold after every release.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(final model.JobStatus) {
			defer wg.Done()

			mu.Lock()
			applyBatchTransition(b, model.StatusPending, model.StatusRunning, now)
			if counterSum(b) != b.TotalJobs {
				t.Errorf("counter sum %d != total %d after running transition", counterSum(b), b.TotalJobs)
			}
			mu.Unlock()

			mu.Lock()
			applyBatchTransition(b, model.StatusRunning, final, now)
			if counterSum(b) != b.TotalJobs {
				t.Errorf("counter sum %d != total %d after %s transition", counterSum(b), b.TotalJobs, final)
			}
			mu.Unlock()
		}(terminal[i%len(terminal)])
	}
	wg.Wait()

	if b.PendingCount != 0 || b.RunningCount != 0 {
		t.Fatalf("expected no active jobs, got pending=%d running=%d", b.PendingCount, b.RunningCount)
	}
	if counterSum(b) != b.TotalJobs {
		t.Fatalf("counter sum %d != total %d", counterSum(b), b.TotalJobs)
	}
	if b.CompletedAt == nil {
		t.Fatalf("expected completed_at once every job finished")
	}
}

func TestApplyBatchTransition_DecrementFloorsAtZero(t *testing.T) {
	b := newTestBatch(0)
	b.TotalJobs = 1
	now := time.Now().UTC()

	// Pending count already zero; a stale transition must not drive it
	// negative.
	applyBatchTransition(b, model.StatusPending, model.StatusCanceled, now)
	if b.PendingCount != 0 {
		t.Fatalf("pending count went negative: %d", b.PendingCount)
	}
	if b.CanceledCount != 1 {
		t.Fatalf("expected canceled=1, got %d", b.CanceledCount)
	}
}

func TestCounterFor_PanicsOnUnknownStatus(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown status")
		}
	}()
	counterFor(&model.Batch{}, model.JobStatus("sleeping"))
}

func TestFinalizeJob_StampsAndMergesOverrides(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &model.Job{
		ID:      uuid.New(),
		Command: []string{"echo", "hi"},
		Status:  model.StatusPending,
	}
	stdout := "forced output"

	finalizeJob(j, nil, model.StatusCanceled, &stdout, nil, now)

	if j.Status != model.StatusCanceled {
		t.Fatalf("expected canceled, got %s", j.Status)
	}
	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Fatalf("expected started_at and completed_at to be stamped")
	}
	if j.Result == nil || j.Result.Stdout != stdout {
		t.Fatalf("expected stdout override merged into result")
	}
	if j.Result.ReturnCode != nil {
		t.Fatalf("expected nil return code for a job that never ran")
	}
}

func TestFinalizeJob_KeepsExistingResultFields(t *testing.T) {
	now := time.Now().UTC()
	code := 0
	j := &model.Job{
		ID:      uuid.New(),
		Command: []string{"true"},
		Status:  model.StatusRunning,
		Result: &model.JobResult{
			ReturnCode: &code,
			Stdout:     "original",
			Command:    []string{"true"},
		},
	}
	stderr := "operator note"

	finalizeJob(j, nil, model.StatusFailed, nil, &stderr, now)

	if j.Result.Stdout != "original" {
		t.Fatalf("stdout was clobbered: %q", j.Result.Stdout)
	}
	if j.Result.Stderr != stderr {
		t.Fatalf("expected stderr override, got %q", j.Result.Stderr)
	}
	if j.Result.ReturnCode == nil || *j.Result.ReturnCode != 0 {
		t.Fatalf("return code was clobbered")
	}
}

func TestRemoveJobFromBatch_AdjustsTotals(t *testing.T) {
	b := newTestBatch(3)
	now := time.Now().UTC()
	applyBatchTransition(b, model.StatusPending, model.StatusSuccess, now)

	removeJobFromBatch(b, model.StatusSuccess, now)
	if b.TotalJobs != 2 || b.SuccessCount != 0 {
		t.Fatalf("expected total=2 success=0, got total=%d success=%d", b.TotalJobs, b.SuccessCount)
	}
	if counterSum(b) != b.TotalJobs {
		t.Fatalf("counter sum %d != total %d", counterSum(b), b.TotalJobs)
	}
}

func TestRemoveJobFromBatch_LastJobResetsAndCompletes(t *testing.T) {
	b := newTestBatch(1)
	now := time.Now().UTC()
	applyBatchTransition(b, model.StatusPending, model.StatusCanceled, now)

	removeJobFromBatch(b, model.StatusCanceled, now)
	if b.TotalJobs != 0 {
		t.Fatalf("expected total=0, got %d", b.TotalJobs)
	}
	if counterSum(b) != 0 {
		t.Fatalf("expected all counters reset, sum=%d", counterSum(b))
	}
	if b.CompletedAt == nil {
		t.Fatalf("expected empty batch stamped complete")
	}
}
