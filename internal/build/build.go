// Package build runs the external compile and assemble steps for a ref.
package build

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"buildgate/internal/errors"
)

// Target identifies what a build step works on.
type Target struct {
	// SourceDir holds the exported source tree for the ref.
	SourceDir string
	// OutputDir is where the step writes its results.
	OutputDir string
	// BuildDir receives unprocessed build output, if the step produces any.
	BuildDir string
	RefName  string
	// FilePath is the requested artifact, relative to the output root.
	FilePath string
}

// Compiler turns an exported source tree into compiled output.
type Compiler interface {
	Compile(ctx context.Context, target Target) error
}

// Assembler produces the requested artifact from compiled output.
type Assembler interface {
	Assemble(ctx context.Context, target Target) error
}

// CommandStep runs an argv template. The tokens {source}, {output},
// {build}, {ref} and {file} are substituted before execution, and the
// command runs with SourceDir as its working directory.
type CommandStep struct {
	Name   string
	Argv   []string
	Env    []string
	Logger *slog.Logger
}

// NewCommandStep creates a CommandStep
func NewCommandStep(name string, argv []string, logger *slog.Logger) *CommandStep {
	return &CommandStep{
		Name:   name,
		Argv:   append([]string(nil), argv...),
		Logger: logger,
	}
}

// Compile implements Compiler
func (s *CommandStep) Compile(ctx context.Context, target Target) error {
	return s.Run(ctx, target)
}

// Assemble implements Assembler
func (s *CommandStep) Assemble(ctx context.Context, target Target) error {
	return s.Run(ctx, target)
}

// Run executes the step. Non-zero exits become BuildFailure errors
// carrying the tail of stderr.
func (s *CommandStep) Run(ctx context.Context, target Target) error {
	if len(s.Argv) == 0 {
		return errors.Newf(errors.BuildFailure, "%s: no command configured", s.Name)
	}

	if err := os.MkdirAll(target.OutputDir, 0755); err != nil {
		return errors.New(errors.BuildFailure, s.Name+": failed to create output directory", err)
	}

	argv := Expand(s.Argv, target)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = target.SourceDir
	cmd.Env = append(os.Environ(), s.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger().Info("Running build step",
		"step", s.Name,
		"ref", target.RefName,
		"file", target.FilePath,
		"argv", strings.Join(argv, " "),
	)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return errors.New(errors.BuildFailure, fmt.Sprintf("%s failed for %s", s.Name, target.RefName), err).
			WithDetails(map[string]interface{}{
				"step":     s.Name,
				"exitCode": exitCode,
				"stderr":   tail(stderr.String(), 2048),
			})
	}

	s.logger().Debug("Build step finished",
		"step", s.Name,
		"ref", target.RefName,
		"stdoutBytes", stdout.Len(),
	)
	return nil
}

func (s *CommandStep) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Expand substitutes target fields into an argv template
func Expand(argv []string, target Target) []string {
	r := strings.NewReplacer(
		"{source}", target.SourceDir,
		"{output}", target.OutputDir,
		"{build}", target.BuildDir,
		"{ref}", target.RefName,
		"{file}", target.FilePath,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// PlaceholderAssembler wraps an Assembler. When the wrapped assembler fails
// it writes placeholder content at the requested path so that later
// requests are served something, and still reports the failure.
type PlaceholderAssembler struct {
	Next   Assembler
	Logger *slog.Logger
}

// Assemble implements Assembler
func (p *PlaceholderAssembler) Assemble(ctx context.Context, target Target) error {
	err := p.Next.Assemble(ctx, target)
	if err == nil {
		return nil
	}

	dest := filepath.Join(target.OutputDir, filepath.FromSlash(target.FilePath))
	if werr := writePlaceholder(dest, target, err); werr != nil {
		p.Logger.Warn("Failed to write placeholder",
			"path", dest,
			"error", werr.Error(),
		)
	} else {
		p.Logger.Info("Wrote placeholder after build failure",
			"ref", target.RefName,
			"file", target.FilePath,
		)
	}
	return err
}

func writePlaceholder(dest string, target Target, cause error) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	body := PlaceholderContent(target, cause)
	return os.WriteFile(dest, []byte(body), 0644)
}

// PlaceholderContent is the body served in place of an artifact that failed
// to build. Script files get a comment plus a console error.
func PlaceholderContent(target Target, cause error) string {
	msg := fmt.Sprintf("Build of %s at %s failed", target.FilePath, target.RefName)
	if code := errors.CodeOf(cause); code != errors.InternalError {
		msg += " (" + string(code) + ")"
	}

	switch strings.ToLower(filepath.Ext(target.FilePath)) {
	case ".js", ".mjs", ".ts":
		return fmt.Sprintf("/* %s */\nconsole.error(%q);\n", msg, msg)
	case ".css":
		return fmt.Sprintf("/* %s */\n", msg)
	default:
		return msg + "\n"
	}
}
