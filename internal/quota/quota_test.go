package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/model"
)

func TestEffectiveLimit_UserOverrideWins(t *testing.T) {
	override := 7
	user := &model.User{ID: uuid.New(), MaxConcurrentJobs: &override}
	g := New(nil, 100)

	// The override short-circuits before any settings lookup.
	limit, err := g.EffectiveLimit(context.Background(), nil, user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != 7 {
		t.Fatalf("expected 7, got %d", limit)
	}
}

func TestSetGlobalLimit_RejectsNonPositive(t *testing.T) {
	g := New(nil, 100)

	for _, limit := range []int{0, -5} {
		err := g.SetGlobalLimit(context.Background(), nil, limit, time.Now())
		var vErr *apperr.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("limit %d: expected ValidationError, got %v", limit, err)
		}
	}
}
