package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"jobrunner/internal/config"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	app := fiber.New()
	cfg := testAuthConfig("secret")
	st := &store.Store{}

	app.Get("/protected", authMiddleware(cfg, st), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware_MalformedToken(t *testing.T) {
	app := fiber.New()
	cfg := testAuthConfig("secret")
	st := &store.Store{}

	app.Get("/protected", authMiddleware(cfg, st), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminOnlyMiddleware(t *testing.T) {
	cases := []struct {
		role model.UserRole
		want int
	}{
		{model.RoleAdmin, http.StatusOK},
		{model.RoleOperator, http.StatusForbidden},
		{model.RoleViewer, http.StatusForbidden},
	}

	for _, tc := range cases {
		app := fiber.New()
		app.Get("/admin", func(c *fiber.Ctx) error {
			c.Locals("user", &model.User{ID: uuid.New(), Role: tc.role, IsActive: true})
			return adminOnlyMiddleware(c)
		}, func(c *fiber.Ctx) error {
			return c.SendString("ok")
		})

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("role %s: expected %d, got %d", tc.role, tc.want, resp.StatusCode)
		}
	}
}

func TestWriterOnlyMiddleware_ViewerForbidden(t *testing.T) {
	app := fiber.New()
	app.Post("/jobs", func(c *fiber.Ctx) error {
		c.Locals("user", &model.User{ID: uuid.New(), Role: model.RoleViewer, IsActive: true})
		return writerOnlyMiddleware(c)
	}, func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRateLimitMiddleware_DisabledWithoutLimit(t *testing.T) {
	app := fiber.New()
	cfg := config.Default() // no per-minute limit configured

	app.Get("/limited", func(c *fiber.Ctx) error {
		c.Locals("user", &model.User{ID: uuid.New(), Role: model.RoleOperator, IsActive: true})
		return rateLimitMiddleware(cfg, nil)(c)
	}, func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
