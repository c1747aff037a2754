// Package version holds the gateway's build version.
package version

// Overridden at build time:
// go build -ldflags "-X buildgate/internal/version.Version=1.0.0 -X buildgate/internal/version.Commit=abc123"
var (
	// Version is the semantic version of buildgate
	Version = "0.3.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// Info returns a formatted version string
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "buildgate version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
