package lifecycle

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"jobrunner/internal/apperr"
)

func TestResolveWorkingDir_DefaultWhenEmpty(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolveWorkingDir("", dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveWorkingDir_InsideAllowedRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project")

	got, err := ResolveWorkingDir(sub, ".", []string{root})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got, "project") {
		t.Fatalf("expected resolved path ending in project, got %q", got)
	}
}

func TestResolveWorkingDir_OutsideAllowedRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	_, err := ResolveWorkingDir(other, ".", []string{root})
	if err == nil {
		t.Fatalf("expected error for path outside allowed roots")
	}
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if vErr.Reason != "working directory outside allowed paths" {
		t.Fatalf("unexpected reason: %q", vErr.Reason)
	}
}

func TestResolveWorkingDir_ParentTraversalRejected(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveWorkingDir(filepath.Join(root, "..", "escape"), ".", []string{root})
	if err == nil {
		t.Fatalf("expected traversal outside the root to be rejected")
	}
}

func TestResolveWorkingDir_NonexistentDescendantAccepted(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "not", "created", "yet")

	// Admission does not require the directory to exist; the executor
	// re-checks before spawning.
	got, err := ResolveWorkingDir(missing, ".", []string{root})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(got, filepath.Join("not", "created", "yet")) {
		t.Fatalf("unexpected resolved path %q", got)
	}
}
