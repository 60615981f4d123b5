package http

import (
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"jobrunner/internal/config"
	"jobrunner/internal/store"
)

type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Success     bool      `json:"success"`
	Code        string    `json:"code,omitempty"`
	Error       string    `json:"error,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// tokenHandler exchanges email + password for a bearer token. The
// response is identical for unknown emails and wrong passwords.
func tokenHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	st := c.Locals("store").(*store.Store)

	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(TokenResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(TokenResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "email and password are required",
		})
	}

	user, err := st.GetUserByEmail(c.Context(), st.DB, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.Status(fiber.StatusUnauthorized).JSON(TokenResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "invalid credentials",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(TokenResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(TokenResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "invalid credentials",
		})
	}
	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(TokenResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "Account is deactivated",
		})
	}

	signed, expiresAt, err := issueToken(cfg, user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(TokenResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	return c.JSON(TokenResponse{
		Success:     true,
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}
