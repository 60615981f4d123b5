package http

import (
	"testing"

	"github.com/google/uuid"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
)

func testAuthConfig(secret string) *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	return cfg
}

func TestToken_Roundtrip(t *testing.T) {
	cfg := testAuthConfig("test-secret")
	user := &model.User{ID: uuid.New(), Email: "op@example.com", Role: model.RoleOperator}

	signed, expiresAt, err := issueToken(cfg, user)
	if err != nil {
		t.Fatalf("issueToken error: %v", err)
	}
	if expiresAt.IsZero() {
		t.Fatalf("expected a non-zero expiry")
	}

	got, err := parseToken(cfg, signed)
	if err != nil {
		t.Fatalf("parseToken error: %v", err)
	}
	if got != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	cfg := testAuthConfig("secret-a")
	user := &model.User{ID: uuid.New(), Role: model.RoleViewer}

	signed, _, err := issueToken(cfg, user)
	if err != nil {
		t.Fatalf("issueToken error: %v", err)
	}

	if _, err := parseToken(testAuthConfig("secret-b"), signed); err == nil {
		t.Fatalf("expected token signed with a different secret to fail")
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := parseToken(testAuthConfig("secret"), "not-a-jwt"); err == nil {
		t.Fatalf("expected garbage token to fail")
	}
}
