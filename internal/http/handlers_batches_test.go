package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestBatchSubmit_Unauthenticated(t *testing.T) {
	app, _ := newHandlerApp(nil)
	app.Post("/api/v1/batches", batchSubmitHandler)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/batches", `{"name":"b","jobs":[]}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBatchSubmit_NoJobs(t *testing.T) {
	app, _ := newHandlerApp(operatorUser())
	app.Post("/api/v1/batches", batchSubmitHandler)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/batches", `{"name":"empty","jobs":[]}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBatchSubmit_UnknownQueueInMember(t *testing.T) {
	app, _ := newHandlerApp(operatorUser())
	app.Post("/api/v1/batches", batchSubmitHandler)

	body := `{"name":"b","jobs":[{"command":["true"],"queue":"nope"}]}`
	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/batches", body), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBatchDetail_InvalidID(t *testing.T) {
	app, _ := newHandlerApp(operatorUser())
	app.Get("/api/v1/batches/:id", batchDetailHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/not-a-uuid", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBatchForceComplete_NonTerminalStatus(t *testing.T) {
	app, _ := newHandlerApp(operatorUser())
	app.Post("/api/v1/batches/:id/force-complete", batchForceCompleteHandler)

	target := "/api/v1/batches/" + uuid.New().String() + "/force-complete"
	resp, err := app.Test(jsonRequest(http.MethodPost, target, `{"status":"pending"}`), -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
