// Package retention deletes old terminal jobs and completed batches
// on a cron schedule so the database does not grow without bound.
package retention

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"jobrunner/internal/config"
	"jobrunner/internal/metrics"
	"jobrunner/internal/store"
)

// Sweeper owns the cron scheduler running periodic cleanup.
type Sweeper struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
	cron   *cron.Cron
}

func NewSweeper(st *store.Store, cfg *config.Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, logger: logger}
}

// Start registers the cleanup job and starts the scheduler. No-op
// when retention is disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Retention.Enabled {
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Retention.Schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep deletes batchless terminal jobs older than the TTL, then
// completed batches older than the TTL together with their jobs.
// Batch members are only ever reclaimed with their batch so the
// aggregate counters stay truthful until the batch itself expires.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Retention.TTLDays)

	jobsDeleted, err := s.store.DeleteTerminalJobsBefore(ctx, s.store.DB, cutoff)
	if err != nil {
		return err
	}

	var batchesDeleted int64
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		ids, err := s.store.ListExpiredBatchIDs(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.store.DeleteJobsByBatch(ctx, tx, id); err != nil {
				return err
			}
			if err := s.store.DeleteBatch(ctx, tx, id); err != nil {
				return err
			}
			batchesDeleted++
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordRetention(jobsDeleted, batchesDeleted)
	if jobsDeleted > 0 || batchesDeleted > 0 {
		s.logger.Info("retention sweep completed",
			"jobs_deleted", jobsDeleted, "batches_deleted", batchesDeleted, "cutoff", cutoff)
	}
	return nil
}
