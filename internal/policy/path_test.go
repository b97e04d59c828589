package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContainedIn(t *testing.T) {
	root := t.TempDir()

	t.Run("direct child allowed", func(t *testing.T) {
		if _, err := ContainedIn(filepath.Join(root, "file.txt"), root); err != nil {
			t.Errorf("expected containment, got %v", err)
		}
	})

	t.Run("nested child allowed even when directories do not exist yet", func(t *testing.T) {
		if _, err := ContainedIn(filepath.Join(root, "sub", "deep", "file.txt"), root); err != nil {
			t.Errorf("expected containment, got %v", err)
		}
	})

	t.Run("relative path anchored at root", func(t *testing.T) {
		resolved, err := ContainedIn("sub/file.txt", root)
		if err != nil {
			t.Fatalf("expected containment, got %v", err)
		}
		if !strings.HasPrefix(resolved, resolveOrDie(t, root)) {
			t.Errorf("resolved path %q not under root", resolved)
		}
	})

	t.Run("sibling directory denied", func(t *testing.T) {
		sibling := root + "-sibling"
		if err := os.MkdirAll(sibling, 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if _, err := ContainedIn(filepath.Join(sibling, "file.txt"), root); err == nil {
			t.Error("expected deny for sibling directory with shared name prefix")
		}
	})

	t.Run("dotdot traversal denied", func(t *testing.T) {
		if _, err := ContainedIn(filepath.Join(root, "..", "escape.txt"), root); err == nil {
			t.Error("expected deny for .. traversal")
		}
		if _, err := ContainedIn("sub/../../escape.txt", root); err == nil {
			t.Error("expected deny for relative .. traversal")
		}
	})

	t.Run("empty path denied", func(t *testing.T) {
		if _, err := ContainedIn("  ", root); err == nil {
			t.Error("expected error for empty path")
		}
	})

	t.Run("symlink inside root escaping outside denied", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(root, "sneaky")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("symlinks not supported: %v", err)
		}
		if _, err := ContainedIn(filepath.Join(link, "file.txt"), root); err == nil {
			t.Error("expected deny for symlink escaping the root")
		}
	})

	t.Run("symlink staying inside root allowed", func(t *testing.T) {
		realDir := filepath.Join(root, "real")
		if err := os.MkdirAll(realDir, 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		link := filepath.Join(root, "alias")
		if err := os.Symlink(realDir, link); err != nil {
			t.Skipf("symlinks not supported: %v", err)
		}
		if _, err := ContainedIn(filepath.Join(link, "file.txt"), root); err != nil {
			t.Errorf("expected containment for internal symlink, got %v", err)
		}
	})

	t.Run("home expansion is applied before the check", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skipf("no home directory: %v", err)
		}
		resolved, err := ContainedIn("~/anything.txt", home)
		if err != nil {
			t.Fatalf("expected containment under home, got %v", err)
		}
		if !strings.Contains(resolved, "anything.txt") {
			t.Errorf("unexpected resolved path %q", resolved)
		}
		if _, err := ContainedIn("~/anything.txt", root); err == nil {
			t.Error("expected deny for home path against unrelated root")
		}
	})
}

func resolveOrDie(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("EvalSymlinks failed: %v", err)
	}
	return resolved
}

func TestPolicyFileWriteRootResolution(t *testing.T) {
	root := t.TempDir()
	p, err := New(Config{FileWrite: root})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.FileWriteRoot() != filepath.Clean(root) {
		t.Errorf("expected root %q, got %q", root, p.FileWriteRoot())
	}

	g := NewGate(p)
	if res := g.Check("write_file", map[string]any{"path": filepath.Join(root, "sub", "f.txt")}, Context{}); !res.Allowed {
		t.Errorf("expected allow inside root, got %q", res.Reason)
	}
	if res := g.Check("write_file", map[string]any{"path": "/etc/passwd"}, Context{}); res.Allowed {
		t.Error("expected deny outside root")
	}
	if res := g.Check("write_file", map[string]any{"content": "no path"}, Context{}); res.Allowed {
		t.Error("expected deny when no path argument present")
	}
}
