package http

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
	"jobrunner/internal/quota"
	"jobrunner/internal/store"
)

type CreateUserRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	Role              string `json:"role,omitempty"`
	MaxConcurrentJobs *int   `json:"max_concurrent_jobs,omitempty"`
}

type UserResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	User    *UserItem `json:"user,omitempty"`
}

type ListUsersResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Users   []UserItem `json:"users"`
}

// adminCreateUserHandler creates a new account. Emails are unique;
// a duplicate answers 409.
func adminCreateUserHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "a valid email is required",
		})
	}
	if len(req.Password) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "password must be at least 8 characters",
		})
	}
	role := model.UserRole(req.Role)
	if req.Role == "" {
		role = model.RoleOperator
	}
	if !model.ValidRole(role) {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "unknown role: " + req.Role,
		})
	}
	if req.MaxConcurrentJobs != nil && *req.MaxConcurrentJobs <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "max_concurrent_jobs must be greater than zero",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(UserResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	user := &model.User{
		ID:                uuid.New(),
		Email:             req.Email,
		HashedPassword:    string(hash),
		IsActive:          true,
		Role:              role,
		MaxConcurrentJobs: req.MaxConcurrentJobs,
		CreatedAt:         time.Now().UTC(),
	}
	if err := st.CreateUser(c.Context(), st.DB, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return c.Status(fiber.StatusConflict).JSON(UserResponse{
				Success: false,
				Code:    "CONFLICT",
				Error:   "a user with this email already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(UserResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	item := userToItem(user)
	return c.Status(fiber.StatusCreated).JSON(UserResponse{
		Success: true,
		User:    &item,
	})
}

// adminListUsersHandler lists every account.
func adminListUsersHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	users, err := st.ListUsers(c.Context(), st.DB)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListUsersResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	items := make([]UserItem, 0, len(users))
	for i := range users {
		items = append(items, userToItem(&users[i]))
	}
	return c.JSON(ListUsersResponse{
		Success: true,
		Users:   items,
	})
}

// adminDeactivateUserHandler disables an account. Users are never
// deleted so their jobs keep a valid owner.
func adminDeactivateUserHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	admin, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(UserResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	userID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid user id",
		})
	}
	if userID == admin.ID {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "cannot deactivate your own account",
		})
	}

	if err := st.SetUserActive(c.Context(), st.DB, userID, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(UserResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "user not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(UserResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	return c.JSON(UserResponse{Success: true})
}

type LimitOverrideItem struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
}

type LimitsResponse struct {
	Success      bool                `json:"success"`
	Code         string              `json:"code,omitempty"`
	Error        string              `json:"error,omitempty"`
	GlobalLimit  int                 `json:"global_limit"`
	DefaultLimit int                 `json:"default_limit"`
	Overrides    []LimitOverrideItem `json:"overrides"`
}

type SetLimitRequest struct {
	Limit *int `json:"limit"`
}

// adminLimitsHandler reports the effective global limit, the compiled
// default, and every per-user override.
func adminLimitsHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	st := c.Locals("store").(*store.Store)
	guard := c.Locals("quota").(*quota.Guard)

	global, err := guard.GlobalLimit(c.Context(), st.DB)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(LimitsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	users, err := st.ListUsersWithQuotaOverride(c.Context(), st.DB)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(LimitsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	overrides := make([]LimitOverrideItem, 0, len(users))
	for _, u := range users {
		if u.MaxConcurrentJobs == nil {
			continue
		}
		overrides = append(overrides, LimitOverrideItem{
			UserID:            u.ID.String(),
			Email:             u.Email,
			MaxConcurrentJobs: *u.MaxConcurrentJobs,
		})
	}
	return c.JSON(LimitsResponse{
		Success:      true,
		GlobalLimit:  global,
		DefaultLimit: cfg.Jobs.DefaultMaxJobsPerUser,
		Overrides:    overrides,
	})
}

// adminSetGlobalLimitHandler upserts the service-wide per-user limit.
func adminSetGlobalLimitHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	guard := c.Locals("quota").(*quota.Guard)

	var req SetLimitRequest
	if err := c.BodyParser(&req); err != nil || req.Limit == nil {
		return c.Status(fiber.StatusBadRequest).JSON(LimitsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "limit is required",
		})
	}

	if err := guard.SetGlobalLimit(c.Context(), st.DB, *req.Limit, time.Now().UTC()); err != nil {
		return failFromError(c, err)
	}
	return adminLimitsHandler(c)
}

// adminSetUserLimitHandler sets or clears a per-user concurrency
// override. A null limit clears the override.
func adminSetUserLimitHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	userID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid user id",
		})
	}

	var req SetLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}
	if req.Limit != nil && *req.Limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(UserResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "limit must be greater than zero",
		})
	}

	if err := st.SetUserMaxJobs(c.Context(), st.DB, userID, req.Limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(UserResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "user not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(UserResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	user, err := st.GetUserByID(c.Context(), st.DB, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(UserResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	item := userToItem(user)
	return c.JSON(UserResponse{
		Success: true,
		User:    &item,
	})
}
