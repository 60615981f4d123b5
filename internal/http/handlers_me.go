package http

import (
	"github.com/gofiber/fiber/v2"

	"jobrunner/internal/quota"
	"jobrunner/internal/store"
)

type MeResponse struct {
	Success        bool      `json:"success"`
	Code           string    `json:"code,omitempty"`
	Error          string    `json:"error,omitempty"`
	User           *UserItem `json:"user,omitempty"`
	EffectiveLimit int       `json:"effective_limit,omitempty"`
	ActiveJobs     int       `json:"active_jobs,omitempty"`
}

// meHandler returns the authenticated user together with their
// effective concurrency limit and current active job count.
func meHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	guard := c.Locals("quota").(*quota.Guard)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(MeResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	limit, err := guard.EffectiveLimit(c.Context(), st.DB, user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(MeResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	active, err := guard.ActiveCount(c.Context(), st.DB, user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(MeResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	item := userToItem(user)
	return c.JSON(MeResponse{
		Success:        true,
		User:           &item,
		EffectiveLimit: limit,
		ActiveJobs:     active,
	})
}
