// Package paths maps refs and artifact paths onto the on-disk output layout.
//
// Every ref owns one directory under the output root:
//
//	<root>/<escaped ref>/source      exported source tree
//	<root>/<escaped ref>/compiled    compile step output
//	<root>/<escaped ref>/build       plain build output
//	<root>/<escaped ref>/assembled   assembled (bundled) output
//
// All of it is cache and may be deleted at any time.
package paths

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	SourceDirName    = "source"
	CompiledDirName  = "compiled"
	BuildDirName     = "build"
	AssembledDirName = "assembled"

	maxRefLength = 255
)

// Layout resolves output locations under Root
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at root
func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

// RefDir returns the directory owned by ref
func (l *Layout) RefDir(ref string) (string, error) {
	name, err := RefDirName(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, name), nil
}

// SourceDir returns the exported source tree for ref
func (l *Layout) SourceDir(ref string) (string, error) {
	return l.sub(ref, SourceDirName)
}

// CompiledDir returns the compile output directory for ref
func (l *Layout) CompiledDir(ref string) (string, error) {
	return l.sub(ref, CompiledDirName)
}

// BuildDir returns the plain build output directory for ref
func (l *Layout) BuildDir(ref string) (string, error) {
	return l.sub(ref, BuildDirName)
}

// AssembledDir returns the assembled output directory for ref
func (l *Layout) AssembledDir(ref string) (string, error) {
	return l.sub(ref, AssembledDirName)
}

// Artifact joins a cleaned artifact path onto one of the ref's output directories
func (l *Layout) Artifact(ref, kind, artifact string) (string, error) {
	dir, err := l.sub(ref, kind)
	if err != nil {
		return "", err
	}
	clean, err := CleanArtifactPath(artifact)
	if err != nil {
		return "", err
	}
	return JoinRepoPath(dir, clean), nil
}

func (l *Layout) sub(ref, kind string) (string, error) {
	dir, err := l.RefDir(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, kind), nil
}

// RefDirName converts a ref into a single, reversible directory name.
// "feature/x" becomes "feature%2Fx".
func RefDirName(ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	return url.PathEscape(ref), nil
}

// ValidateRef rejects refs that cannot name a directory or could be read
// as a command-line option.
func ValidateRef(ref string) error {
	switch {
	case ref == "":
		return fmt.Errorf("empty ref")
	case len(ref) > maxRefLength:
		return fmt.Errorf("ref longer than %d characters", maxRefLength)
	case strings.HasPrefix(ref, "-"):
		return fmt.Errorf("ref %q must not start with '-'", ref)
	case ref == "." || strings.Contains(ref, ".."):
		return fmt.Errorf("ref %q must not contain '..'", ref)
	}
	for _, r := range ref {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("ref %q contains whitespace or control characters", ref)
		}
	}
	return nil
}

// CleanArtifactPath normalizes a requested artifact path to a relative,
// slash-separated path that cannot escape its base directory.
func CleanArtifactPath(p string) (string, error) {
	p = NormalizePath(p)
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", fmt.Errorf("empty artifact path")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("artifact path %q escapes its directory", p)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", fmt.Errorf("empty artifact path")
	}
	return clean, nil
}

// IsWithin reports whether target is base or lies beneath it
func IsWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// NormalizePath normalizes a path by converting backslashes to forward slashes
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// JoinRepoPath joins a directory with a slash-separated relative path
func JoinRepoPath(root string, canonicalPath string) string {
	parts := strings.Split(NormalizePath(canonicalPath), "/")
	return filepath.Join(append([]string{root}, parts...)...)
}
