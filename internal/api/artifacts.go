package api

import (
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"buildgate/internal/dispatch"
)

// handleArtifact handles GET /artifacts/{ref}/{path...}
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	req := dispatch.Request{
		Ref:  r.PathValue("ref"),
		Path: r.PathValue("path"),
		Raw:  rawRequested(r.URL.Query()),
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	if resp.Commit != "" {
		w.Header().Set("X-Buildgate-Commit", resp.Commit)
	}
	if resp.Strategy != "" {
		w.Header().Set("X-Buildgate-Strategy", resp.Strategy)
	}

	if resp.Status != http.StatusOK {
		if resp.Status == http.StatusCreated || resp.Status == http.StatusAccepted {
			w.Header().Set("Retry-After", "5")
		}
		WriteJSON(w, resp, resp.Status)
		return
	}

	s.serveFile(w, r, resp.FilePath)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		// Removed between dispatch and open, e.g. by external cleanup.
		s.logger.Warn("Artifact vanished before it could be served",
			"path", path,
			"error", err.Error(),
		)
		WriteJSON(w, dispatch.Response{Status: http.StatusNotFound, Message: "artifact not found"}, http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		InternalError(w, "internal server error")
		return
	}

	w.Header().Set("Content-Type", contentType(path))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// contentType sniffs the file and falls back to the extension when the
// content alone only says it is text or bytes.
func contentType(path string) string {
	detected := "application/octet-stream"
	if m, err := mimetype.DetectFile(path); err == nil && m != nil {
		detected = m.String()
	}

	base, _, _ := strings.Cut(detected, ";")
	if base != "text/plain" && base != "application/octet-stream" {
		return detected
	}

	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return detected
}

// rawRequested accepts a bare ?raw or a value strconv.ParseBool reads as true
func rawRequested(q url.Values) bool {
	if !q.Has("raw") {
		return false
	}
	v := q.Get("raw")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
