package git

import (
	"context"
	"strings"

	"buildgate/internal/errors"
)

const remoteHeadRef = "refs/remotes/origin/HEAD"

// SyncDefaultBranch fetches with prune and tags, works out the upstream
// default branch and resets the local branch of that name to it. It
// returns the branch name. Failures are logged and returned; callers treat
// them as non-fatal.
func (s *SourceCache) SyncDefaultBranch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, err := s.syncLocked(ctx)
	if err != nil {
		s.logger.Warn("Default branch sync failed", "error", err.Error())
		return "", err
	}

	s.logger.Info("Default branch synced", "branch", branch)
	return branch, nil
}

func (s *SourceCache) syncLocked(ctx context.Context) (string, error) {
	if err := s.ensureRepoLocked(ctx); err != nil {
		return "", err
	}

	if _, err := s.git(ctx, "fetch", "--prune", "--tags", "origin"); err != nil {
		return "", err
	}

	branch, err := s.defaultBranch(ctx)
	if err != nil {
		return "", err
	}

	if _, err := s.git(ctx, "checkout", "--force", "-B", branch, "refs/remotes/origin/"+branch); err != nil {
		return "", err
	}
	return branch, nil
}

// defaultBranch reads origin/HEAD, falling back to the first configured
// candidate that exists on the remote.
func (s *SourceCache) defaultBranch(ctx context.Context) (string, error) {
	if out, err := s.git(ctx, "symbolic-ref", "--quiet", remoteHeadRef); err == nil {
		target := strings.TrimSpace(string(out))
		if branch := strings.TrimPrefix(target, "refs/remotes/origin/"); branch != "" && branch != target {
			return branch, nil
		}
	}

	for _, c := range s.candidates {
		if _, err := s.git(ctx, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+c); err == nil {
			return c, nil
		}
	}

	return "", errors.Newf(errors.NotFound, "no default branch found among %v", s.candidates)
}
