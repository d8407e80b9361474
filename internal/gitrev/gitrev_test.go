package gitrev

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	steps := [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"commit", "--allow-empty", "-m", "initial"},
	}
	for _, args := range steps {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return dir
}

func TestResolve(t *testing.T) {
	dir := initRepo(t)

	rev, err := Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rev) != shortLen {
		t.Errorf("revision length: got %d (%q), want %d", len(rev), rev, shortLen)
	}

	// Deterministic for a fixed revision.
	again, err := Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again != rev {
		t.Errorf("resolve is not deterministic: %q then %q", rev, again)
	}
}

func TestResolveChangesWithRevision(t *testing.T) {
	dir := initRepo(t)

	first, err := Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	cmd := exec.Command("git", "commit", "--allow-empty", "-m", "second")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}

	second, err := Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first == second {
		t.Errorf("distinct revisions resolved to the same identifier %q", first)
	}
}

func TestResolveOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := Resolve(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotARepository) {
		t.Errorf("got %v, want ErrNotARepository", err)
	}
}
