package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"jobrunner/internal/apperr"
)

// failFromError maps domain errors onto HTTP statuses. Anything
// outside the known taxonomy is a 500.
func failFromError(c *fiber.Ctx, err error) error {
	var vErr *apperr.ValidationError
	var qErr *apperr.QuotaExceededError
	var dErr *apperr.DispatchError

	switch {
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   vErr.Reason,
		})
	case errors.As(err, &qErr):
		return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
			Success: false,
			Code:    "QUOTA_EXCEEDED",
			Error:   qErr.Error(),
		})
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "not found",
		})
	case errors.As(err, &dErr):
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Success: false,
			Code:    "DISPATCH_FAILED",
			Error:   dErr.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
}
