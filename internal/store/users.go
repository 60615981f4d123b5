package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

const userColumns = `id, email, hashed_password, is_active, role, max_concurrent_jobs, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u       model.User
		role    string
		maxJobs sql.NullInt32
	)
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &role, &maxJobs, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	u.MaxConcurrentJobs = intPtr(maxJobs)
	return &u, nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, q DBTX, u *model.User) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO users (id, email, hashed_password, is_active, role, max_concurrent_jobs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.HashedPassword, u.IsActive, string(u.Role), toNullInt32(u.MaxConcurrentJobs), u.CreatedAt)
	return err
}

// GetUserByID returns sql.ErrNoRows when the user does not exist.
func (s *Store) GetUserByID(ctx context.Context, q DBTX, id uuid.UUID) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, q DBTX, email string) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context, q DBTX) ([]model.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ListUsersWithQuotaOverride returns users carrying a per-user
// concurrency override, ordered by email.
func (s *Store) ListUsersWithQuotaOverride(ctx context.Context, q DBTX) ([]model.User, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+userColumns+` FROM users WHERE max_concurrent_jobs IS NOT NULL ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive flips the activation flag. Deactivation is the only
// form of user removal; rows are never deleted.
func (s *Store) SetUserActive(ctx context.Context, q DBTX, id uuid.UUID, active bool) error {
	_, err := q.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	return err
}

// SetUserMaxJobs sets or clears (nil) the per-user concurrency override.
func (s *Store) SetUserMaxJobs(ctx context.Context, q DBTX, id uuid.UUID, limit *int) error {
	res, err := q.ExecContext(ctx, `UPDATE users SET max_concurrent_jobs = $2 WHERE id = $1`,
		id, toNullInt32(limit))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LockUser takes a row lock on the user. The admission path locks the
// owner before counting active jobs so that concurrent submissions
// from the same user serialize on the quota check.
func (s *Store) LockUser(ctx context.Context, q DBTX, id uuid.UUID) error {
	var locked uuid.UUID
	return q.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}
