package lifecycle

import (
	"os"
	"path/filepath"
	"strings"

	"jobrunner/internal/apperr"
)

// ResolveWorkingDir normalizes a requested working directory (or the
// configured default when empty) to an absolute, symlink-resolved
// path. When allowed is non-empty the result must be a descendant of
// at least one allowed root; this is the security boundary keeping
// jobs inside operator-sanctioned filesystem scope.
//
// The directory does not have to exist yet at admission time; the
// executor re-checks existence before spawning.
func ResolveWorkingDir(requested, defaultDir string, allowed []string) (string, error) {
	candidate := requested
	if candidate == "" {
		candidate = defaultDir
	}
	resolved, err := normalizePath(candidate)
	if err != nil {
		return "", apperr.Validationf("invalid working directory %q: %v", candidate, err)
	}

	if len(allowed) == 0 {
		return resolved, nil
	}
	for _, root := range allowed {
		base, err := normalizePath(root)
		if err != nil {
			continue
		}
		if isWithin(resolved, base) {
			return resolved, nil
		}
	}
	return "", apperr.Validationf("working directory outside allowed paths")
}

// normalizePath makes the path absolute and resolves symlinks. When
// the path does not exist yet, symlink resolution is applied to the
// closest existing ancestor so allow-list checks still see through
// links.
func normalizePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	// Walk up to an existing ancestor, resolve it, and re-attach the
	// missing suffix.
	dir, rest := abs, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
		if prefix, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(prefix, rest), nil
		}
	}
}

func isWithin(candidate, base string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
