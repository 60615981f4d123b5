package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GlobalLimitKey is the system_settings key holding the process-wide
// default concurrency quota when an administrator overrides it.
const GlobalLimitKey = "max_jobs_per_user"

type limitValue struct {
	Limit int `json:"limit"`
}

// GetGlobalLimit returns the admin-set default quota, or nil when the
// setting is absent (callers fall back to the compiled-in default).
func (s *Store) GetGlobalLimit(ctx context.Context, q DBTX) (*int, error) {
	var raw []byte
	err := q.QueryRowContext(ctx,
		`SELECT value FROM system_settings WHERE key = $1`, GlobalLimitKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v limitValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s setting: %w", GlobalLimitKey, err)
	}
	return &v.Limit, nil
}

// SetGlobalLimit upserts the admin-set default quota.
func (s *Store) SetGlobalLimit(ctx context.Context, q DBTX, limit int, now time.Time) error {
	raw, err := json.Marshal(limitValue{Limit: limit})
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		GlobalLimitKey, raw, now)
	return err
}
