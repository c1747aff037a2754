package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs a git subcommand in dir and returns its stdout.
// Implementations return a *CommandError when the process exits non-zero.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// CommandError describes a failed git invocation
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s (exit %d): %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the git binary found on PATH
type ExecRunner struct {
	// Binary overrides the git executable; defaults to "git".
	Binary string
}

// Run implements CommandRunner
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &CommandError{
			Args:     args,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}
