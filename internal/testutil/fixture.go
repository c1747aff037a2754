// Package testutil provides test fixtures shared across packages.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Upstream is a throwaway git repository used as the remote of a source
// cache under test.
type Upstream struct {
	// Dir is the working tree of the upstream repository
	Dir string
}

// RequireGit skips the test when no git binary is on PATH.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// NewUpstream creates an upstream repository on branch main with a single
// commit containing files.
func NewUpstream(t *testing.T, files map[string]string) *Upstream {
	t.Helper()
	RequireGit(t)

	u := &Upstream{Dir: filepath.Join(t.TempDir(), "upstream")}
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		t.Fatalf("Failed to create upstream dir: %v", err)
	}

	u.Git(t, "init", "--quiet", "--initial-branch=main")
	u.Git(t, "config", "user.email", "fixture@example.com")
	u.Git(t, "config", "user.name", "Fixture")
	u.Git(t, "config", "commit.gpgsign", "false")
	u.Git(t, "config", "uploadpack.allowFilter", "true")
	u.Git(t, "config", "uploadpack.allowAnySHA1InWant", "true")
	u.Commit(t, "initial", files)

	return u
}

// URL returns a file:// URL for cloning the upstream
func (u *Upstream) URL() string {
	return "file://" + filepath.ToSlash(u.Dir)
}

// Commit writes files, commits them and returns the new commit id.
func (u *Upstream) Commit(t *testing.T, message string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(u.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	u.Git(t, "add", "--all")
	u.Git(t, "commit", "--quiet", "--allow-empty", "-m", message)
	return u.Head(t)
}

// Head returns the commit id of HEAD
func (u *Upstream) Head(t *testing.T) string {
	t.Helper()
	return strings.TrimSpace(u.Git(t, "rev-parse", "HEAD"))
}

// Git runs a git command in the upstream and returns its stdout.
func (u *Upstream) Git(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = u.Dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, stderr)
	}
	return string(out)
}
