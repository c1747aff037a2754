package git

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"buildgate/internal/errors"
	"buildgate/internal/slogutil"
)

// scriptedRunner answers git commands from a handler and records every call
type scriptedRunner struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(args []string) ([]byte, error)
}

func (r *scriptedRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()
	return r.handler(args)
}

func (r *scriptedRunner) callsOf(sub string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, c := range r.calls {
		if len(c) > 0 && c[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

// failed answers like git does for refs and objects that do not exist
func failed(args []string) ([]byte, error) {
	switch args[0] {
	case "rev-parse":
		return nil, &CommandError{Args: args, ExitCode: 1, Err: stderrors.New("exit status 1")}
	case "fetch":
		return nil, &CommandError{Args: args, Stderr: "fatal: couldn't find remote ref " + args[len(args)-1], ExitCode: 128}
	}
	return nil, &CommandError{Args: args, Stderr: "fatal: not found", ExitCode: 128}
}

// setupScriptedCache returns a cache whose clone directory already looks
// initialised, so no clone is attempted.
func setupScriptedCache(t *testing.T, handler func(args []string) ([]byte, error)) (*SourceCache, *scriptedRunner) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "repo")
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create fake clone: %v", err)
	}

	runner := &scriptedRunner{handler: handler}
	cache, err := NewSourceCache(Options{
		URL:           "https://example.com/org/repo.git",
		Token:         "s3cret",
		Dir:           dir,
		RequiredPaths: []string{"src", "include"},
		Runner:        runner,
		Logger:        slogutil.NewDiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSourceCache() error = %v", err)
	}
	return cache, runner
}

func TestNewSourceCache_Validation(t *testing.T) {
	logger := slogutil.NewDiscardLogger()

	tests := []struct {
		name string
		opts Options
	}{
		{"no logger", Options{URL: "u", Dir: "d", RequiredPaths: []string{"src"}}},
		{"no url", Options{Dir: "d", RequiredPaths: []string{"src"}, Logger: logger}},
		{"no dir", Options{URL: "u", RequiredPaths: []string{"src"}, Logger: logger}},
		{"no required paths", Options{URL: "u", Dir: "d", Logger: logger}},
		{"escaping path", Options{URL: "u", Dir: "d", RequiredPaths: []string{"../etc"}, Logger: logger}},
		{"option-like path", Options{URL: "u", Dir: "d", RequiredPaths: []string{"--output"}, Logger: logger}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSourceCache(tt.opts); err == nil {
				t.Error("NewSourceCache() expected error")
			}
		})
	}
}

func TestIsCommitHash(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"abc1234", true},
		{"ABCDEF0123456789abcdef0123456789abcdef01", true},
		{"abc123", false},
		{"main", false},
		{"v1.0.0", false},
		{"abc1234g", false},
		{strings.Repeat("a", 41), false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			if got := IsCommitHash(tt.ref); got != tt.want {
				t.Errorf("IsCommitHash(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveRef_LocalHitDoesNotFetch(t *testing.T) {
	const commit = "0123456789abcdef0123456789abcdef01234567"
	cache, runner := setupScriptedCache(t, func(args []string) ([]byte, error) {
		if args[0] == "rev-parse" && args[len(args)-1] == commit+"^{commit}" {
			return []byte(commit + "\n"), nil
		}
		return failed(args)
	})

	got, err := cache.ResolveRef(context.Background(), commit)
	if err != nil {
		t.Fatalf("ResolveRef() error = %v", err)
	}
	if got != commit {
		t.Errorf("ResolveRef() = %q, want %q", got, commit)
	}
	if fetches := runner.callsOf("fetch"); len(fetches) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(fetches))
	}
}

func TestResolveRef_UnknownHashRunsOneFetchSequence(t *testing.T) {
	cache, runner := setupScriptedCache(t, failed)

	got, err := cache.ResolveRef(context.Background(), "abc1234")
	if err != nil {
		t.Fatalf("ResolveRef() error = %v", err)
	}
	if got != "" {
		t.Errorf("ResolveRef() = %q, want empty", got)
	}

	fetches := runner.callsOf("fetch")
	want := []string{
		"+refs/heads/abc1234:refs/remotes/origin/abc1234",
		"+refs/tags/abc1234:refs/tags/abc1234",
		"abc1234",
	}
	if len(fetches) != len(want) {
		t.Fatalf("fetch calls = %d, want %d: %v", len(fetches), len(want), fetches)
	}
	for i, w := range want {
		if last := fetches[i][len(fetches[i])-1]; last != w {
			t.Errorf("fetch %d refspec = %q, want %q", i, last, w)
		}
	}
}

func TestResolveRef_BranchFetchStopsSequence(t *testing.T) {
	const commit = "1111111111111111111111111111111111111111"
	var fetched bool
	var mu sync.Mutex

	cache, runner := setupScriptedCache(t, func(args []string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		switch args[0] {
		case "fetch":
			if strings.HasPrefix(args[len(args)-1], "+refs/heads/") {
				fetched = true
				return nil, nil
			}
		case "rev-parse":
			if fetched && args[len(args)-1] == "origin/feature^{commit}" {
				return []byte(commit), nil
			}
		}
		return failed(args)
	})

	got, err := cache.ResolveRef(context.Background(), "feature")
	if err != nil {
		t.Fatalf("ResolveRef() error = %v", err)
	}
	if got != commit {
		t.Errorf("ResolveRef() = %q, want %q", got, commit)
	}
	if fetches := runner.callsOf("fetch"); len(fetches) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(fetches))
	}
}

func TestResolveRef_CancelledContextIsError(t *testing.T) {
	cache, runner := setupScriptedCache(t, func(args []string) ([]byte, error) {
		return nil, &CommandError{Args: args, ExitCode: -1, Err: context.Canceled}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := cache.ResolveRef(ctx, "main")
	if err == nil {
		t.Fatalf("ResolveRef() = %q, nil; want error", got)
	}
	if !errors.HasCode(err, errors.GitFailure) {
		t.Errorf("CodeOf() = %v, want %v", errors.CodeOf(err), errors.GitFailure)
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("ResolveRef() error = %v, want context.Canceled in chain", err)
	}
	if fetches := runner.callsOf("fetch"); len(fetches) != 0 {
		t.Errorf("fetch calls = %d, want 0", len(fetches))
	}
}

func TestResolveRef_GitFailuresAreErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(args []string) ([]byte, error)
		wantFetch int
	}{
		{
			name: "broken clone",
			handler: func(args []string) ([]byte, error) {
				return nil, &CommandError{Args: args, Stderr: "fatal: not a git repository", ExitCode: 128}
			},
			wantFetch: 0,
		},
		{
			name: "unreachable remote",
			handler: func(args []string) ([]byte, error) {
				if args[0] == "fetch" {
					return nil, &CommandError{
						Args:     args,
						Stderr:   "fatal: unable to access 'https://example.com/org/repo.git/': Could not resolve host: example.com",
						ExitCode: 128,
					}
				}
				return failed(args)
			},
			wantFetch: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, runner := setupScriptedCache(t, tt.handler)

			got, err := cache.ResolveRef(context.Background(), "feature")
			if !errors.HasCode(err, errors.GitFailure) {
				t.Fatalf("ResolveRef() = %q, %v; want %v", got, err, errors.GitFailure)
			}
			if fetches := runner.callsOf("fetch"); len(fetches) != tt.wantFetch {
				t.Errorf("fetch calls = %d, want %d", len(fetches), tt.wantFetch)
			}
		})
	}
}

func TestResolveRef_MalformedRef(t *testing.T) {
	cache, runner := setupScriptedCache(t, failed)

	for _, ref := range []string{"", "--upload-pack=evil", "a b", ".."} {
		got, err := cache.ResolveRef(context.Background(), ref)
		if err != nil || got != "" {
			t.Errorf("ResolveRef(%q) = %q, %v; want empty, nil", ref, got, err)
		}
	}
	if len(runner.calls) != 0 {
		t.Errorf("git calls = %d, want 0", len(runner.calls))
	}
}

func TestGitFailure_RedactsToken(t *testing.T) {
	cache, _ := setupScriptedCache(t, func(args []string) ([]byte, error) {
		return nil, &CommandError{
			Args:     args,
			Stderr:   "fatal: could not read from https://s3cret@example.com/org/repo.git",
			ExitCode: 128,
		}
	})

	_, err := cache.git(context.Background(), "fetch", "origin")
	if err == nil {
		t.Fatal("git() expected error")
	}
	if !errors.HasCode(err, errors.GitFailure) {
		t.Errorf("CodeOf() = %v, want %v", errors.CodeOf(err), errors.GitFailure)
	}

	gwErr := err.(*errors.GatewayError)
	details := gwErr.Details.(map[string]interface{})
	if strings.Contains(err.Error(), "s3cret") || strings.Contains(details["stderr"].(string), "s3cret") {
		t.Errorf("token leaked: %v %v", err, details)
	}
}

func TestExportTree_NoExportablePaths(t *testing.T) {
	const commit = "2222222222222222222222222222222222222222"
	cache, runner := setupScriptedCache(t, func(args []string) ([]byte, error) {
		if args[0] == "rev-parse" {
			return []byte(commit), nil
		}
		return failed(args)
	})

	out := filepath.Join(t.TempDir(), "source")
	_, err := cache.ExportTree(context.Background(), "main", out)
	if !errors.HasCode(err, errors.NoExportablePaths) {
		t.Fatalf("ExportTree() error = %v, want %v", err, errors.NoExportablePaths)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("output dir exists after failed export")
	}
	if archives := runner.callsOf("archive"); len(archives) != 0 {
		t.Errorf("archive calls = %d, want 0", len(archives))
	}
}

func TestEmbedToken(t *testing.T) {
	tests := []struct {
		raw   string
		token string
		want  string
	}{
		{"https://example.com/r.git", "", "https://example.com/r.git"},
		{"https://example.com/r.git", "tok", "https://tok@example.com/r.git"},
		{"git@example.com:r.git", "tok", "git@example.com:r.git"},
		{"/srv/git/r.git", "tok", "/srv/git/r.git"},
		{"file:///tmp/r", "tok", "file:///tmp/r"},
	}

	for _, tt := range tests {
		got, err := embedToken(tt.raw, tt.token)
		if err != nil {
			t.Errorf("embedToken(%q) error = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("embedToken(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestConeDirs(t *testing.T) {
	got := coneDirs([]string{"src", "include/", "Makefile", "build.sh"})
	want := []string{"src", "include", "Makefile"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("coneDirs() = %v, want %v", got, want)
	}
}

func TestRateLimit(t *testing.T) {
	cache, _ := setupScriptedCache(t, failed)

	if got := cache.RateLimit().Remaining; got != -1 {
		t.Errorf("initial Remaining = %d, want -1", got)
	}

	cache.UpdateRateLimit(42, 1700000000)
	snap := cache.RateLimit()
	if snap.Remaining != 42 || snap.ResetEpoch != 1700000000 {
		t.Errorf("RateLimit() = %+v, want remaining 42 reset 1700000000", snap)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}
