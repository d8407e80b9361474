// Package gitrev derives the immutable version identifier for a build from
// the git checkout the tool runs in.
package gitrev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotARepository is returned when the working directory is not inside a
// git checkout.
var ErrNotARepository = errors.New("not inside a git repository")

// shortLen is the abbreviated revision length used as the image tag.
const shortLen = 7

// Resolve returns the abbreviated revision of HEAD in dir. The result is
// deterministic for a fixed revision and involves no network access.
func Resolve(ctx context.Context, dir string) (string, error) {
	out, err := execGit(ctx, dir, "rev-parse", fmt.Sprintf("--short=%d", shortLen), "HEAD")
	if err != nil {
		return "", err
	}
	rev := strings.TrimSpace(out)
	if rev == "" {
		return "", fmt.Errorf("git returned an empty revision")
	}
	return rev, nil
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not a git repository") {
			return "", ErrNotARepository
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}
