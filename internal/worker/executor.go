// Package worker consumes dispatched jobs and executes their
// commands. The executor never writes the store directly; every
// outcome is reported through the lifecycle transition operation.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/config"
	"jobrunner/internal/metrics"
	"jobrunner/internal/model"
)

// waitDelay bounds how long we wait for the child to be reaped after
// a kill before giving up on its I/O.
const waitDelay = 10 * time.Second

// finalizeTimeout bounds the detached finalize write when the worker
// is shutting down and the request context is already canceled.
const finalizeTimeout = 10 * time.Second

// Lifecycle is the handle the executor receives for reporting state.
// Satisfied by *lifecycle.Engine.
type Lifecycle interface {
	MarkRunning(ctx context.Context, jobID uuid.UUID) error
	FetchJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error)
	Finalize(ctx context.Context, jobID uuid.UUID, status model.JobStatus, result *model.JobResult, errMsg *string) error
}

// Executor runs one dispatched job at a time: working directory
// validation, environment overlay, timeout-bounded process execution,
// and result capture.
type Executor struct {
	lifecycle Lifecycle
	cfg       *config.Config
	logger    *slog.Logger
}

func NewExecutor(lc Lifecycle, cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{lifecycle: lc, cfg: cfg, logger: logger}
}

// Run executes the job with the given id to a terminal outcome.
// Execution failures are recorded on the job and never returned;
// the only errors surfaced are store-level ones.
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) error {
	if err := e.lifecycle.MarkRunning(ctx, jobID); err != nil {
		return err
	}

	job, err := e.lifecycle.FetchJob(ctx, jobID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Deleted after dispatch; nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	if len(job.Command) == 0 {
		return e.fail(ctx, job, "Job metadata missing command")
	}

	workingDir := job.WorkingDir
	if workingDir == "" {
		workingDir = e.cfg.Jobs.DefaultWorkingDir
	}
	if info, err := os.Stat(workingDir); err != nil || !info.IsDir() {
		return e.fail(ctx, job, fmt.Sprintf("Working directory unavailable: %s", workingDir))
	}

	timeout := time.Duration(e.cfg.Jobs.CommandTimeoutSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, job.Command[0], job.Command[1:]...)
	cmd.Dir = workingDir
	cmd.Env = overlayEnv(os.Environ(), job.Env)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// On timeout the context kills the process; WaitDelay bounds the
	// reap so no zombie is left behind.
	cmd.WaitDelay = waitDelay

	e.logger.Info("executing job", "job_id", job.ID, "command", job.Command[0], "working_dir", workingDir)
	runErr := cmd.Run()

	result := &model.JobResult{
		Stdout:     sanitize(stdout.String()),
		Stderr:     sanitize(stderr.String()),
		Command:    job.Command,
		WorkingDir: workingDir,
	}

	if ctx.Err() != nil {
		// Worker shutdown killed the process, not the job's own
		// timeout. Finalize on a detached context so the outcome is
		// still recorded and not mistaken for a command failure.
		fctx, fcancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer fcancel()
		job.Result = result
		return e.fail(fctx, job, "Execution interrupted by worker shutdown")
	}

	if cctx.Err() == context.DeadlineExceeded {
		job.Result = result
		return e.fail(ctx, job, fmt.Sprintf("Command timed out after %ds", e.cfg.Jobs.CommandTimeoutSeconds))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			if errors.Is(runErr, exec.ErrNotFound) {
				job.Result = result
				return e.fail(ctx, job, fmt.Sprintf("Executable not found: %v", runErr))
			}
			job.Result = result
			return e.fail(ctx, job, runErr.Error())
		}
	}

	code := cmd.ProcessState.ExitCode()
	result.ReturnCode = &code
	if code == 0 {
		metrics.RecordExecution(model.StatusSuccess)
		return e.lifecycle.Finalize(ctx, job.ID, model.StatusSuccess, result, nil)
	}
	errMsg := fmt.Sprintf("Command exited with %d", code)
	metrics.RecordExecution(model.StatusFailed)
	return e.lifecycle.Finalize(ctx, job.ID, model.StatusFailed, result, &errMsg)
}

// fail finalizes the job as failed, preserving any captured output.
func (e *Executor) fail(ctx context.Context, job *model.Job, msg string) error {
	e.logger.Warn("job failed", "job_id", job.ID, "error", msg)
	result := job.Result
	if result == nil {
		result = &model.JobResult{
			Command:    job.Command,
			WorkingDir: job.WorkingDir,
		}
	}
	metrics.RecordExecution(model.StatusFailed)
	return e.lifecycle.Finalize(ctx, job.ID, model.StatusFailed, result, &msg)
}

// overlayEnv layers the job's environment over the ambient one; job
// values win on key collision since later entries take precedence.
func overlayEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	env = append(env, base...)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// sanitize replaces invalid byte sequences so results always store
// as valid text.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "�")
}
