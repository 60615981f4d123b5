package http

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

func adminUser() *model.User {
	return &model.User{ID: uuid.New(), Email: "root@example.com", Role: model.RoleAdmin, IsActive: true}
}

func TestAdminSetGlobalLimit_MissingLimit(t *testing.T) {
	app, _ := newHandlerApp(adminUser())
	app.Post("/admin/limits/global", adminSetGlobalLimitHandler)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/admin/limits/global", `{}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAdminSetGlobalLimit_NonPositive(t *testing.T) {
	app, _ := newHandlerApp(adminUser())
	app.Post("/admin/limits/global", adminSetGlobalLimitHandler)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/admin/limits/global", `{"limit":0}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAdminSetUserLimit_InvalidID(t *testing.T) {
	app, _ := newHandlerApp(adminUser())
	app.Post("/admin/limits/users/:id", adminSetUserLimitHandler)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/admin/limits/users/not-a-uuid", `{"limit":5}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
