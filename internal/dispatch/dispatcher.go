// Package dispatch turns artifact requests into responses by trying cached
// outputs first and building on demand.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"buildgate/internal/backends/git"
	"buildgate/internal/build"
	"buildgate/internal/errors"
	"buildgate/internal/jobs"
	"buildgate/internal/paths"
	"buildgate/internal/refcache"
	"buildgate/internal/storage"
)

// DefaultBuildWait bounds how long a request waits for its build.
const DefaultBuildWait = 120 * time.Second

// Source resolves refs and exports their source trees
type Source interface {
	ResolveRef(ctx context.Context, ref string) (string, error)
	ExportTree(ctx context.Context, ref, outputDir string) (*git.ExportResult, error)
}

// BuildRecorder receives one record per executed build step
type BuildRecorder interface {
	RecordBuild(ctx context.Context, rec storage.BuildRecord) error
}

// Request asks for one artifact of one ref. Raw skips the plain build
// output so that only assembled or compiled files are served.
type Request struct {
	Ref  string
	Path string
	Raw  bool
}

// Response is the outcome of Dispatch. FilePath is set only for 200.
type Response struct {
	Status   int    `json:"status"`
	FilePath string `json:"-"`
	Message  string `json:"message,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// Options configures a Dispatcher
type Options struct {
	Source    Source
	Cache     *refcache.Cache[string]
	Queue     *jobs.Queue
	Layout    *paths.Layout
	Compiler  build.Compiler
	Assembler build.Assembler
	// Recorder is optional.
	Recorder  BuildRecorder
	BuildWait time.Duration
	Logger    *slog.Logger
}

// Dispatcher runs the strategy chain for artifact requests.
type Dispatcher struct {
	source    Source
	cache     *refcache.Cache[string]
	queue     *jobs.Queue
	layout    *paths.Layout
	compiler  build.Compiler
	assembler build.Assembler
	recorder  BuildRecorder
	buildWait time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type strategy struct {
	name string
	run  func(ctx context.Context, req Request, artifact string) (*Response, error)
}

// New creates a Dispatcher
func New(opts Options) (*Dispatcher, error) {
	if opts.Source == nil || opts.Cache == nil || opts.Queue == nil || opts.Layout == nil {
		return nil, errors.New(errors.InternalError, "dispatcher requires source, cache, queue and layout", nil)
	}
	if opts.Compiler == nil || opts.Assembler == nil {
		return nil, errors.New(errors.InternalError, "dispatcher requires a compiler and an assembler", nil)
	}
	if opts.Logger == nil {
		return nil, errors.New(errors.InternalError, "Logger is required for Dispatcher", nil)
	}
	if opts.BuildWait <= 0 {
		opts.BuildWait = DefaultBuildWait
	}

	return &Dispatcher{
		source:    opts.Source,
		cache:     opts.Cache,
		queue:     opts.Queue,
		layout:    opts.Layout,
		compiler:  opts.Compiler,
		assembler: opts.Assembler,
		recorder:  opts.Recorder,
		buildWait: opts.BuildWait,
		logger:    opts.Logger,
		pipelines: make(map[string]*pipeline),
	}, nil
}

// Dispatch runs the strategies in order and returns the first satisfied
// response. A strategy error ends the chain: QueueFull becomes 202 and
// anything else a generic 500.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	artifact, ok := cleanRequestPath(req.Path)
	if !ok || paths.ValidateRef(req.Ref) != nil {
		return notFound("artifact not found")
	}

	strategies := []strategy{
		{"assembled", d.serveAssembled},
		{"build-output", d.serveBuildOutputUnlessRaw},
		{"build", d.build},
		{"compiled", d.serveCompiled},
		{"build-output-fallback", d.serveBuildOutput},
	}

	for _, s := range strategies {
		resp, err := s.run(ctx, req, artifact)
		if err != nil {
			return d.failure(req, s.name, err)
		}
		if resp != nil {
			resp.Strategy = s.name
			d.logger.Debug("Request satisfied",
				"ref", req.Ref,
				"path", artifact,
				"strategy", s.name,
				"status", resp.Status,
			)
			return resp
		}
	}

	return notFound("artifact not found")
}

func (d *Dispatcher) failure(req Request, strategyName string, err error) *Response {
	if errors.HasCode(err, errors.QueueFull) {
		d.logger.Warn("Build deferred, queue full",
			"ref", req.Ref,
			"path", req.Path,
		)
		return &Response{
			Status:   http.StatusAccepted,
			Message:  "The build queue is full. Please retry shortly.",
			Strategy: strategyName,
		}
	}

	d.logger.Error("Request failed",
		"ref", req.Ref,
		"path", req.Path,
		"strategy", strategyName,
		"error", err.Error(),
	)
	return &Response{
		Status:   http.StatusInternalServerError,
		Message:  "internal server error",
		Strategy: strategyName,
	}
}

func (d *Dispatcher) serveAssembled(_ context.Context, req Request, artifact string) (*Response, error) {
	return d.serveFrom(req.Ref, paths.AssembledDirName, artifact)
}

func (d *Dispatcher) serveBuildOutputUnlessRaw(ctx context.Context, req Request, artifact string) (*Response, error) {
	if req.Raw {
		return nil, nil
	}
	return d.serveBuildOutput(ctx, req, artifact)
}

func (d *Dispatcher) serveBuildOutput(_ context.Context, req Request, artifact string) (*Response, error) {
	return d.serveFrom(req.Ref, paths.BuildDirName, artifact)
}

func (d *Dispatcher) serveCompiled(_ context.Context, req Request, artifact string) (*Response, error) {
	return d.serveFrom(req.Ref, paths.CompiledDirName, artifact)
}

// serveFrom satisfies the request when the artifact is a regular file in
// the given output directory.
func (d *Dispatcher) serveFrom(ref, kind, artifact string) (*Response, error) {
	file, err := d.layout.Artifact(ref, kind, artifact)
	if err != nil {
		return nil, nil
	}
	if !isFile(file) {
		return nil, nil
	}
	return &Response{Status: http.StatusOK, FilePath: file}, nil
}

// resolve maps ref to a commit through the resolution cache. Callers share
// the resolution, so it runs detached from any one request's cancellation.
func (d *Dispatcher) resolve(ctx context.Context, ref string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	return d.cache.GetOrResolve(ref, func() (string, error) {
		return d.source.ResolveRef(ctx, ref)
	})
}

// cleanRequestPath rejects absolute and escaping paths
func cleanRequestPath(p string) (string, bool) {
	p = paths.NormalizePath(p)
	if path.IsAbs(p) || filepath.IsAbs(p) || (len(p) > 1 && p[1] == ':') {
		return "", false
	}
	clean, err := paths.CleanArtifactPath(p)
	if err != nil {
		return "", false
	}
	return clean, true
}

func notFound(msg string) *Response {
	return &Response{Status: http.StatusNotFound, Message: msg}
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// buildKey identifies one artifact of one ref in the compile lane
func buildKey(ref, artifact string) string {
	return ref + "+" + strings.TrimPrefix(artifact, "/")
}
