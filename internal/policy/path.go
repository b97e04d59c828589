package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContainedIn verifies that target resolves to a location inside root and
// returns the resolved absolute path. Relative targets are anchored at root.
// The check defends against `..` traversal, `~` expansion tricks, and
// symlinks placed inside root that point outside it: the deepest existing
// ancestor of the target is resolved through EvalSymlinks before the prefix
// comparison, so a not-yet-existing file cannot dodge the check either.
func ContainedIn(target, root string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("empty path")
	}

	expanded, err := expandHome(target)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(root, expanded)
	}
	abs := filepath.Clean(expanded)

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving allowed root: %w", err)
	}

	resolved, err := resolveExistingPrefix(abs)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("comparing against allowed root: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path resolves outside the allowed directory")
	}
	return resolved, nil
}

// expandHome rewrites a leading ~ to the current user's home directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// resolveExistingPrefix canonicalizes the deepest existing ancestor of path
// through EvalSymlinks and rejoins the non-existing remainder. This catches
// symlinked directories on the way to a file that does not exist yet.
func resolveExistingPrefix(path string) (string, error) {
	var remainder []string
	current := path

	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving %s: %w", current, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Hit the filesystem root without finding anything that exists.
			return path, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
