package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/config"
	"jobrunner/internal/model"
)

// fakeLifecycle serves one job and records the finalize outcome.
type fakeLifecycle struct {
	job *model.Job

	markedRunning bool
	finalStatus   model.JobStatus
	finalResult   *model.JobResult
	finalErrMsg   *string
	finalized     bool
}

func (f *fakeLifecycle) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	f.markedRunning = true
	return nil
}

func (f *fakeLifecycle) FetchJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	if f.job == nil {
		return nil, apperr.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeLifecycle) Finalize(ctx context.Context, jobID uuid.UUID, status model.JobStatus, result *model.JobResult, errMsg *string) error {
	f.finalized = true
	f.finalStatus = status
	f.finalResult = result
	f.finalErrMsg = errMsg
	return nil
}

func newTestExecutor(lc Lifecycle, timeoutSeconds int) *Executor {
	cfg := config.Default()
	if timeoutSeconds > 0 {
		cfg.Jobs.CommandTimeoutSeconds = timeoutSeconds
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(lc, cfg, logger)
}

func testJob(command []string, workdir string) *model.Job {
	return &model.Job{
		ID:         uuid.New(),
		Name:       "test",
		Command:    command,
		WorkingDir: workdir,
		Status:     model.StatusPending,
		Queue:      "default",
	}
}

func TestRun_Success(t *testing.T) {
	lc := &fakeLifecycle{job: testJob([]string{"/bin/sh", "-c", "echo hello"}, t.TempDir())}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lc.markedRunning {
		t.Fatalf("job was never marked running")
	}
	if lc.finalStatus != model.StatusSuccess {
		t.Fatalf("expected success, got %s", lc.finalStatus)
	}
	if lc.finalResult.ReturnCode == nil || *lc.finalResult.ReturnCode != 0 {
		t.Fatalf("expected return code 0, got %v", lc.finalResult.ReturnCode)
	}
	if strings.TrimSpace(lc.finalResult.Stdout) != "hello" {
		t.Fatalf("unexpected stdout %q", lc.finalResult.Stdout)
	}
	if lc.finalErrMsg != nil {
		t.Fatalf("unexpected error message %q", *lc.finalErrMsg)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	lc := &fakeLifecycle{job: testJob([]string{"/bin/sh", "-c", "echo oops >&2; exit 3"}, t.TempDir())}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	if lc.finalResult.ReturnCode == nil || *lc.finalResult.ReturnCode != 3 {
		t.Fatalf("expected return code 3, got %v", lc.finalResult.ReturnCode)
	}
	if lc.finalErrMsg == nil || *lc.finalErrMsg != "Command exited with 3" {
		t.Fatalf("unexpected error message %v", lc.finalErrMsg)
	}
	if strings.TrimSpace(lc.finalResult.Stderr) != "oops" {
		t.Fatalf("unexpected stderr %q", lc.finalResult.Stderr)
	}
}

func TestRun_MissingCommand(t *testing.T) {
	lc := &fakeLifecycle{job: testJob(nil, t.TempDir())}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	if lc.finalErrMsg == nil || *lc.finalErrMsg != "Job metadata missing command" {
		t.Fatalf("unexpected error message %v", lc.finalErrMsg)
	}
}

func TestRun_MissingWorkingDir(t *testing.T) {
	gone := filepath.Join(t.TempDir(), "gone")
	lc := &fakeLifecycle{job: testJob([]string{"/bin/sh", "-c", "true"}, gone)}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	want := fmt.Sprintf("Working directory unavailable: %s", gone)
	if lc.finalErrMsg == nil || *lc.finalErrMsg != want {
		t.Fatalf("expected %q, got %v", want, lc.finalErrMsg)
	}
	if lc.finalResult.ReturnCode != nil {
		t.Fatalf("expected nil return code when the command never ran")
	}
}

func TestRun_Timeout(t *testing.T) {
	lc := &fakeLifecycle{job: testJob([]string{"/bin/sh", "-c", "sleep 5"}, t.TempDir())}
	e := newTestExecutor(lc, 1)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	if lc.finalErrMsg == nil || *lc.finalErrMsg != "Command timed out after 1s" {
		t.Fatalf("unexpected error message %v", lc.finalErrMsg)
	}
}

func TestRun_WorkerShutdown(t *testing.T) {
	lc := &fakeLifecycle{job: testJob([]string{"/bin/sh", "-c", "sleep 5"}, t.TempDir())}
	e := newTestExecutor(lc, 60)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	if err := e.Run(ctx, lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	if lc.finalErrMsg == nil || *lc.finalErrMsg != "Execution interrupted by worker shutdown" {
		t.Fatalf("unexpected error message %v", lc.finalErrMsg)
	}
}

func TestRun_ExecutableNotFound(t *testing.T) {
	lc := &fakeLifecycle{job: testJob([]string{"definitely-not-an-installed-binary"}, t.TempDir())}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalStatus != model.StatusFailed {
		t.Fatalf("expected failed, got %s", lc.finalStatus)
	}
	if lc.finalErrMsg == nil || !strings.HasPrefix(*lc.finalErrMsg, "Executable not found:") {
		t.Fatalf("unexpected error message %v", lc.finalErrMsg)
	}
}

func TestRun_JobDeletedAfterDispatch(t *testing.T) {
	lc := &fakeLifecycle{}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected missing job to be benign, got %v", err)
	}
	if lc.finalized {
		t.Fatalf("nothing should be finalized for a missing job")
	}
}

func TestRun_EnvOverlay(t *testing.T) {
	job := testJob([]string{"/bin/sh", "-c", `printf "%s" "$GREETING"`}, t.TempDir())
	job.Env = map[string]string{"GREETING": "bonjour"}
	lc := &fakeLifecycle{job: job}
	e := newTestExecutor(lc, 0)

	if err := e.Run(context.Background(), lc.job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.finalResult.Stdout != "bonjour" {
		t.Fatalf("expected env override in stdout, got %q", lc.finalResult.Stdout)
	}
}

func TestOverlayEnv_JobValuesWin(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root"}
	env := overlayEnv(base, map[string]string{"HOME": "/srv/jobs"})

	// Later entries take precedence for the spawned process.
	last := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "HOME=") {
			last = kv
		}
	}
	if last != "HOME=/srv/jobs" {
		t.Fatalf("expected override to win, got %q", last)
	}
}

func TestSanitize_ReplacesInvalidUTF8(t *testing.T) {
	out := sanitize(string([]byte{0xff, 'o', 'k'}))
	if !strings.HasSuffix(out, "ok") || strings.Contains(out, "\xff") {
		t.Fatalf("invalid bytes not replaced: %q", out)
	}
}
