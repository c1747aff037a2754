package git

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"buildgate/internal/errors"
	"buildgate/internal/paths"
)

// FileResult is the outcome of ExportFile. Found is false when the ref or
// the path does not exist.
type FileResult struct {
	Ref     string
	Commit  string
	Path    string
	Found   bool
	Content []byte
}

// ExportResult describes a tree written by ExportTree
type ExportResult struct {
	Ref    string   `json:"ref"`
	Commit string   `json:"commit"`
	Paths  []string `json:"paths"`
}

// ExportFile reads path at ref. Missing refs and paths are reported through
// FileResult.Found rather than as errors.
func (s *SourceCache) ExportFile(ctx context.Context, ref, path string) (*FileResult, error) {
	clean, err := paths.CleanArtifactPath(path)
	if err != nil {
		return &FileResult{Ref: ref, Path: path}, nil
	}
	result := &FileResult{Ref: ref, Path: clean}

	commit, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if commit == "" {
		return result, nil
	}
	result.Commit = commit

	if !s.existsAt(ctx, commit, clean) {
		return result, nil
	}

	content, err := s.git(ctx, "show", commit+":"+clean)
	if err != nil {
		return nil, err
	}

	result.Found = true
	result.Content = content
	return result, nil
}

// ExportTree writes the required paths that exist at ref into outputDir.
// It fails with NoExportablePaths, writing nothing, when none exist.
func (s *SourceCache) ExportTree(ctx context.Context, ref, outputDir string) (*ExportResult, error) {
	commit, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if commit == "" {
		return nil, errors.Newf(errors.NotFound, "ref %q not found", ref)
	}

	var present []string
	for _, p := range s.requiredPaths {
		if s.existsAt(ctx, commit, strings.TrimSuffix(p, "/")) {
			present = append(present, strings.TrimSuffix(p, "/"))
		}
	}
	if len(present) == 0 {
		return nil, errors.Newf(errors.NoExportablePaths, "none of the required paths exist at %s", ref).
			WithDetails(map[string]interface{}{
				"commit":        commit,
				"requiredPaths": s.requiredPaths,
			})
	}

	tmp, err := os.CreateTemp("", "buildgate-export-*.tar.gz")
	if err != nil {
		return nil, errors.New(errors.InternalError, "failed to create temporary archive", err)
	}
	tarball := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tarball) }()

	args := append([]string{"archive", "--format=tar.gz", "-o", tarball, commit}, present...)
	if _, err := s.git(ctx, args...); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.New(errors.InternalError, "failed to create output directory", err)
	}
	if err := extractTarGz(tarball, outputDir); err != nil {
		return nil, errors.New(errors.InternalError, "failed to extract source archive", err)
	}

	s.logger.Info("Exported source tree",
		"ref", ref,
		"commit", commit,
		"paths", present,
		"outputDir", outputDir,
	)

	return &ExportResult{Ref: ref, Commit: commit, Paths: present}, nil
}

// existsAt reports whether path names a blob or tree at commit
func (s *SourceCache) existsAt(ctx context.Context, commit, path string) bool {
	_, err := s.git(ctx, "cat-file", "-e", commit+":"+path)
	return err == nil
}

// extractTarGz unpacks a gzip-compressed tar archive into dest, refusing
// entries that would land outside dest.
func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if !paths.IsWithin(root, target) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)&0777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			link := filepath.Join(filepath.Dir(target), filepath.FromSlash(hdr.Linkname))
			if filepath.IsAbs(hdr.Linkname) || !paths.IsWithin(root, link) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// pax global headers (the commit id) and other entry types
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
