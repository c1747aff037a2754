package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() {
		Version, Commit = origVersion, origCommit
	}()

	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{"unknown commit", "1.0.0", "unknown", "1.0.0"},
		{"short commit ignored", "1.0.0", "abc", "1.0.0"},
		{"seven chars ignored", "2.0.0", "1234567", "2.0.0"},
		{"long commit abbreviated", "2.0.0", "abc1234567890", "2.0.0 (abc1234)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version = tt.version
			Commit = tt.commit

			if got := Info(); got != tt.want {
				t.Errorf("Info() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFull(t *testing.T) {
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	defer func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	}()

	Version = "1.2.3"
	Commit = "abcdef123456"
	BuildDate = "2026-01-15"

	got := Full()
	for _, part := range []string{"buildgate version 1.2.3", "Commit: abcdef123456", "Built: 2026-01-15"} {
		if !strings.Contains(got, part) {
			t.Errorf("Full() = %q, want to contain %q", got, part)
		}
	}
}
