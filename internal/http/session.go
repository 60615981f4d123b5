package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
)

// tokenClaims are the JWT claims carried by bearer tokens.
type tokenClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// issueToken signs a bearer token for the user. The expiry comes from
// auth.tokenTTLMinutes.
func issueToken(cfg *config.Config, u *model.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute)

	claims := tokenClaims{
		UserID: u.ID.String(),
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// parseToken validates a bearer token and returns the user ID it was
// issued for.
func parseToken(cfg *config.Config, raw string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return []byte(cfg.Auth.JWTSecret), nil
	})
	if err != nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, fiber.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return userID, nil
}
