package worker

import (
	"context"
	"log/slog"
	"time"

	"jobrunner/internal/config"
	"jobrunner/internal/dispatch"
)

// Runner polls the task queue and hands each dequeued job to the
// executor, bounding concurrency with a semaphore.
type Runner struct {
	queue    *dispatch.RedisQueue
	executor *Executor
	cfg      *config.Config
	logger   *slog.Logger
}

func NewRunner(queue *dispatch.RedisQueue, executor *Executor, cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		queue:    queue,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start launches the consume loop in the current goroutine. Callers
// typically run this in its own goroutine and keep the process alive.
func (r *Runner) Start(ctx context.Context) {
	pollTimeout := time.Duration(r.cfg.Worker.PollTimeoutMs) * time.Millisecond
	sem := make(chan struct{}, r.cfg.Worker.MaxConcurrentJobs)

	r.logger.Info("worker started",
		"queues", r.cfg.Jobs.Queues,
		"max_concurrent_jobs", r.cfg.Worker.MaxConcurrentJobs)

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := r.queue.Receive(ctx, r.cfg.Jobs.Queues, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue receive failed", "error", err)
			time.Sleep(pollTimeout)
			continue
		}
		if task == nil {
			continue
		}
		if task.Task != dispatch.TaskExecuteJob {
			r.logger.Warn("dropping unknown task", "task", task.Task, "job_id", task.JobID)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(task *dispatch.Task) {
			defer func() { <-sem }()
			if err := r.executor.Run(ctx, task.JobID); err != nil {
				r.logger.Error("job execution errored", "job_id", task.JobID, "error", err)
			}
		}(task)
	}
}
