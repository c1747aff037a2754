// Package git owns the gateway's local partial clone of the upstream
// repository: it resolves refs to commits and exports files and trees.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"buildgate/internal/errors"
	"buildgate/internal/paths"
)

// Options configures a SourceCache
type Options struct {
	// URL of the upstream repository.
	URL string
	// Token, when set, is embedded in https clone URLs.
	Token string
	// Dir is the local clone directory.
	Dir string
	// RequiredPaths restricts the sparse checkout and tree exports.
	RequiredPaths []string
	// DefaultBranchCandidates are tried in order when origin/HEAD is unset.
	DefaultBranchCandidates []string
	// Runner defaults to ExecRunner.
	Runner CommandRunner
	Logger *slog.Logger
}

// SourceCache maintains one sparse, blobless clone of the upstream
// repository. Read-only git commands run concurrently; commands that mutate
// the clone (clone, sparse-checkout, fetch, checkout) hold mu.
type SourceCache struct {
	cloneURL      string
	displayURL    string
	token         string
	dir           string
	requiredPaths []string
	candidates    []string
	runner        CommandRunner
	logger        *slog.Logger

	mu   sync.Mutex
	rate RateLimitState
}

// NewSourceCache creates a SourceCache. The clone itself is created lazily.
func NewSourceCache(opts Options) (*SourceCache, error) {
	if opts.Logger == nil {
		return nil, errors.New(errors.InternalError, "Logger is required for SourceCache", nil)
	}
	if opts.URL == "" || opts.Dir == "" {
		return nil, errors.New(errors.InvalidRequest, "repository URL and clone directory are required", nil)
	}
	if len(opts.RequiredPaths) == 0 {
		return nil, errors.New(errors.InvalidRequest, "at least one required path is needed", nil)
	}
	for _, p := range opts.RequiredPaths {
		if _, err := paths.CleanArtifactPath(p); err != nil || strings.HasPrefix(p, "-") {
			return nil, errors.Newf(errors.InvalidRequest, "invalid required path %q", p)
		}
	}

	cloneURL, err := embedToken(opts.URL, opts.Token)
	if err != nil {
		return nil, errors.New(errors.InvalidRequest, "invalid repository URL", err)
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.New(errors.InvalidRequest, "invalid clone directory", err)
	}

	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	candidates := opts.DefaultBranchCandidates
	if len(candidates) == 0 {
		candidates = []string{"main", "master"}
	}

	return &SourceCache{
		cloneURL:      cloneURL,
		displayURL:    opts.URL,
		token:         opts.Token,
		dir:           dir,
		requiredPaths: append([]string(nil), opts.RequiredPaths...),
		candidates:    candidates,
		runner:        runner,
		logger:        opts.Logger,
		rate:          newRateLimitState(),
	}, nil
}

// Dir returns the absolute clone directory
func (s *SourceCache) Dir() string {
	return s.dir
}

// RequiredPaths returns the configured export paths
func (s *SourceCache) RequiredPaths() []string {
	return append([]string(nil), s.requiredPaths...)
}

// EnsureRepo creates the clone if it is missing or lacks its .git directory.
// Remnants of a broken clone are removed first.
func (s *SourceCache) EnsureRepo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepoLocked(ctx)
}

func (s *SourceCache) ensureRepoLocked(ctx context.Context) error {
	if info, err := os.Stat(filepath.Join(s.dir, ".git")); err == nil && info.IsDir() {
		return nil
	}

	s.logger.Info("Creating source cache clone",
		"url", s.displayURL,
		"dir", s.dir,
	)

	if err := os.RemoveAll(s.dir); err != nil {
		return errors.New(errors.InternalError, "failed to remove incomplete clone", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.dir), 0755); err != nil {
		return errors.New(errors.InternalError, "failed to create clone parent directory", err)
	}

	if _, err := s.gitIn(ctx, filepath.Dir(s.dir),
		"clone", "--filter=blob:none", "--no-checkout", s.cloneURL, s.dir); err != nil {
		return err
	}
	if _, err := s.git(ctx, "sparse-checkout", "init", "--cone"); err != nil {
		return err
	}
	setArgs := append([]string{"sparse-checkout", "set"}, coneDirs(s.requiredPaths)...)
	if _, err := s.git(ctx, setArgs...); err != nil {
		return err
	}

	s.logger.Info("Source cache clone ready", "dir", s.dir)
	return nil
}

// git runs a git command inside the clone
func (s *SourceCache) git(ctx context.Context, args ...string) ([]byte, error) {
	return s.gitIn(ctx, s.dir, args...)
}

// gitIn runs a git command in dir, converting failures to GitFailure
// errors with the token scrubbed from every message.
func (s *SourceCache) gitIn(ctx context.Context, dir string, args ...string) ([]byte, error) {
	s.logger.Debug("Executing git command", "args", s.redact(strings.Join(args, " ")))

	out, err := s.runner.Run(ctx, dir, args...)
	if err != nil {
		details := map[string]interface{}{
			"args": s.redact(strings.Join(args, " ")),
		}
		if cmdErr, ok := err.(*CommandError); ok {
			details["stderr"] = s.redact(strings.TrimSpace(cmdErr.Stderr))
			details["exitCode"] = cmdErr.ExitCode
		}
		return out, errors.New(
			errors.GitFailure,
			"git "+args[0]+" failed",
			fmt.Errorf("%s", s.redact(err.Error())),
		).WithDetails(details)
	}
	return out, nil
}

func (s *SourceCache) redact(msg string) string {
	if s.token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, s.token, "***")
}

// embedToken places token in the userinfo of an http(s) URL. scp-style
// remotes and local paths are returned unchanged.
func embedToken(raw, token string) (string, error) {
	if token == "" || !strings.Contains(raw, "://") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return raw, nil
	}
	u.User = url.User(token)
	return u.String(), nil
}

// coneDirs keeps the directory entries of paths. Cone mode always
// materializes root-level files, and rejects file patterns.
func coneDirs(required []string) []string {
	dirs := make([]string, 0, len(required))
	for _, p := range required {
		if path.Ext(p) == "" {
			dirs = append(dirs, strings.TrimSuffix(p, "/"))
		}
	}
	return dirs
}
