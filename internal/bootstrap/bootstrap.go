// Package bootstrap seeds the initial admin account from
// configuration. It is idempotent and safe to run on every startup.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// Run creates the initial admin user when auth.initialAdmin is fully
// configured. An existing user with the same email is never modified.
func Run(ctx context.Context, cfg *config.Config, st *store.Store) error {
	if cfg == nil || st == nil {
		return nil
	}

	admin := cfg.Auth.InitialAdmin
	email := strings.TrimSpace(strings.ToLower(admin.Email))
	if email == "" || admin.Password == "" {
		return nil
	}

	_, err := st.GetUserByEmail(ctx, st.DB, email)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		// User already exists; do not modify existing credentials or
		// flags via bootstrap to avoid surprising changes.
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	err = st.CreateUser(ctx, st.DB, &model.User{
		ID:             uuid.New(),
		Email:          email,
		HashedPassword: string(hash),
		IsActive:       true,
		Role:           model.RoleAdmin,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Another process created this user concurrently; treat as success.
			return nil
		}
		return err
	}
	return nil
}
