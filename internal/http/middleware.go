package http

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

// authMiddleware validates the Authorization: Bearer <token> header,
// resolves the user, and attaches it to the context as "user".
// Inactive users are rejected even when their token is still valid.
func authMiddleware(cfg *config.Config, st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "Missing Authorization Bearer token",
			})
		}

		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		userID, err := parseToken(cfg, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "Invalid or expired token",
			})
		}

		user, err := st.GetUserByID(c.Context(), st.DB, userID)
		if err != nil {
			if err == sql.ErrNoRows {
				return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
					Success: false,
					Code:    "UNAUTHENTICATED",
					Error:   "Unknown user",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("user lookup failed: %v", err),
			})
		}
		if !user.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Success: false,
				Code:    "FORBIDDEN",
				Error:   "Account is deactivated",
			})
		}

		c.Locals("user", user)
		return c.Next()
	}
}

// rateLimitMiddleware enforces a per-minute fixed-window rate limit
// per user using Redis.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.RateLimit.DefaultPerMinute <= 0 {
			return c.Next()
		}

		user, ok := currentUser(c)
		if !ok {
			// Auth should have failed already if there's no user here.
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "User context is not available for this request",
			})
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("jobrunner:rl:%s:%s", user.ID.String(), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(cfg.RateLimit.DefaultPerMinute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}

// adminOnlyMiddleware ensures the current user has the admin role.
func adminOnlyMiddleware(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	if user.Role != model.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "Admin privileges required",
		})
	}

	return c.Next()
}

// writerOnlyMiddleware rejects viewer accounts on mutating endpoints.
func writerOnlyMiddleware(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	if user.Role == model.RoleViewer {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "Viewer accounts cannot modify jobs",
		})
	}

	return c.Next()
}

func currentUser(c *fiber.Ctx) (*model.User, bool) {
	user, ok := c.Locals("user").(*model.User)
	return user, ok
}
