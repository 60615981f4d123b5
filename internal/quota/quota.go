// Package quota computes and enforces per-user concurrency limits.
package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// Guard resolves a user's effective concurrency limit and checks it
// against the user's active-job count before new work is admitted.
type Guard struct {
	store        *store.Store
	defaultLimit int
}

func New(st *store.Store, defaultLimit int) *Guard {
	return &Guard{store: st, defaultLimit: defaultLimit}
}

// EffectiveLimit returns the user's override when present, else the
// admin-set global default, else the compiled-in default.
func (g *Guard) EffectiveLimit(ctx context.Context, q store.DBTX, user *model.User) (int, error) {
	if user.MaxConcurrentJobs != nil {
		return *user.MaxConcurrentJobs, nil
	}
	return g.GlobalLimit(ctx, q)
}

// GlobalLimit returns the admin-set default or the compiled-in one.
func (g *Guard) GlobalLimit(ctx context.Context, q store.DBTX) (int, error) {
	limit, err := g.store.GetGlobalLimit(ctx, q)
	if err != nil {
		return 0, err
	}
	if limit == nil {
		return g.defaultLimit, nil
	}
	return *limit, nil
}

// ActiveCount counts the user's jobs in a non-terminal status.
func (g *Guard) ActiveCount(ctx context.Context, q store.DBTX, userID uuid.UUID) (int, error) {
	return g.store.CountActiveJobs(ctx, q, userID)
}

// Admit fails with QuotaExceededError when admitting planned more
// jobs would exceed the user's effective limit. The caller must hold
// the user's row lock in the same transaction as the subsequent
// inserts; Admit on its own is only half of the atomic admission unit.
func (g *Guard) Admit(ctx context.Context, q store.DBTX, user *model.User, planned int) error {
	limit, err := g.EffectiveLimit(ctx, q, user)
	if err != nil {
		return err
	}
	active, err := g.ActiveCount(ctx, q, user.ID)
	if err != nil {
		return err
	}
	if active+planned > limit {
		return &apperr.QuotaExceededError{Active: active, Limit: limit, Planned: planned}
	}
	return nil
}

// SetGlobalLimit stores a new admin-set default quota.
func (g *Guard) SetGlobalLimit(ctx context.Context, q store.DBTX, limit int, now time.Time) error {
	if limit <= 0 {
		return apperr.Validationf("limit must be greater than zero")
	}
	return g.store.SetGlobalLimit(ctx, q, limit, now)
}
