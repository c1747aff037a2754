package git

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"

	"buildgate/internal/errors"
	"buildgate/internal/paths"
)

var commitHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// IsCommitHash reports whether ref looks like an abbreviated or full commit id
func IsCommitHash(ref string) bool {
	return commitHashPattern.MatchString(ref)
}

// candidates lists the rev-parse inputs tried for ref, in order
func candidates(ref string) []string {
	return []string{
		ref,
		"origin/" + ref,
		"refs/remotes/origin/" + ref,
		"refs/tags/" + ref,
	}
}

// missingRemoteRef lists the fetch errors that mean the remote has no such
// ref, as opposed to a transport or repository failure.
var missingRemoteRef = []string{
	"couldn't find remote ref",
	"not our ref",
	"unadvertised object",
	"invalid refspec",
}

// ResolveRef returns the full commit id for ref, or "" when ref cannot be
// resolved even after fetching it. Not-found is a value, never an error.
// Errors report git failures, cancellation included, that a later attempt
// may not repeat.
//
// Refs that resolve locally never trigger a fetch. Otherwise one fetch
// sequence runs (named branch, then tag, then a generic fetch, stopping at
// the first that succeeds) and the candidates are tried once more.
func (s *SourceCache) ResolveRef(ctx context.Context, ref string) (string, error) {
	if err := paths.ValidateRef(ref); err != nil {
		s.logger.Warn("Rejected malformed ref", "ref", ref, "error", err.Error())
		return "", nil
	}

	if err := s.EnsureRepo(ctx); err != nil {
		return "", err
	}

	commit, err := s.verifyCandidates(ctx, ref)
	if err != nil || commit != "" {
		return commit, err
	}

	fetched, fetchErr := s.fetchRef(ctx, ref)
	if ctx.Err() != nil {
		return "", interrupted(ref, ctx.Err())
	}
	if fetched != "" {
		s.logger.Debug("Fetched ref", "ref", ref, "as", fetched)
	}

	commit, err = s.verifyCandidates(ctx, ref)
	if err != nil || commit != "" {
		return commit, err
	}

	if fetchErr != nil {
		s.logger.Warn("Could not fetch ref", "ref", ref, "error", fetchErr.Error())
		return "", fetchErr
	}

	s.logger.Warn("Could not resolve ref", "ref", ref)
	return "", nil
}

// verifyCandidates returns the first candidate that names a commit. Only
// exit status 1 from rev-parse counts as "no match".
func (s *SourceCache) verifyCandidates(ctx context.Context, ref string) (string, error) {
	for _, c := range candidates(ref) {
		out, err := s.git(ctx, "rev-parse", "--verify", "--quiet", c+"^{commit}")
		if err != nil {
			if noMatch(ctx, err) {
				continue
			}
			return "", s.resolveFailure(ctx, ref, err)
		}
		if commit := strings.TrimSpace(string(out)); commit != "" {
			return commit, nil
		}
	}

	if IsCommitHash(ref) {
		return s.firstCommitWithPrefix(ctx, ref)
	}
	return "", nil
}

// firstCommitWithPrefix accepts an ambiguous short hash by taking the first
// commit git lists for the prefix.
func (s *SourceCache) firstCommitWithPrefix(ctx context.Context, prefix string) (string, error) {
	out, err := s.git(ctx, "rev-parse", "--disambiguate="+strings.ToLower(prefix))
	if err != nil {
		if noMatch(ctx, err) {
			return "", nil
		}
		return "", s.resolveFailure(ctx, prefix, err)
	}
	for _, id := range strings.Fields(string(out)) {
		kind, err := s.git(ctx, "cat-file", "-t", id)
		if err != nil {
			return "", s.resolveFailure(ctx, prefix, err)
		}
		if strings.TrimSpace(string(kind)) == "commit" {
			return id, nil
		}
	}
	return "", nil
}

// fetchRef runs the fetch sequence for ref and returns which form
// succeeded ("branch", "tag", "generic"), or "" if none did. The error is
// the last failure that was not a missing remote ref.
func (s *SourceCache) fetchRef(ctx context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := []struct {
		kind string
		args []string
	}{
		{"branch", []string{"fetch", "origin", "+refs/heads/" + ref + ":refs/remotes/origin/" + ref}},
		{"tag", []string{"fetch", "origin", "+refs/tags/" + ref + ":refs/tags/" + ref}},
		{"generic", []string{"fetch", "origin", ref}},
	}

	var failure error
	for _, a := range attempts {
		_, err := s.git(ctx, a.args...)
		if err == nil {
			return a.kind, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Debug("Fetch attempt failed", "ref", ref, "kind", a.kind, "error", err.Error())
		if !isMissingRemoteRef(err) {
			failure = err
		}
	}
	return "", failure
}

func (s *SourceCache) resolveFailure(ctx context.Context, ref string, err error) error {
	if ctx.Err() != nil {
		return interrupted(ref, ctx.Err())
	}
	return err
}

func interrupted(ref string, cause error) error {
	return errors.New(errors.GitFailure, "resolution of "+ref+" interrupted", cause)
}

// noMatch reports whether err is rev-parse's exit status 1 with the
// context still live.
func noMatch(ctx context.Context, err error) bool {
	return ctx.Err() == nil && gitExitCode(err) == 1
}

func isMissingRemoteRef(err error) bool {
	stderr := strings.ToLower(gitStderr(err))
	for _, m := range missingRemoteRef {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

// gitExitCode returns the exit status recorded on a GitFailure, or -1
func gitExitCode(err error) int {
	if d := gitDetails(err); d != nil {
		if code, ok := d["exitCode"].(int); ok {
			return code
		}
	}
	return -1
}

func gitStderr(err error) string {
	if d := gitDetails(err); d != nil {
		if stderr, ok := d["stderr"].(string); ok {
			return stderr
		}
	}
	return ""
}

func gitDetails(err error) map[string]interface{} {
	var gwErr *errors.GatewayError
	if !stderrors.As(err, &gwErr) {
		return nil
	}
	d, _ := gwErr.Details.(map[string]interface{})
	return d
}
