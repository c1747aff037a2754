// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"buildgate/internal/auth"
	"buildgate/internal/backends/git"
	"buildgate/internal/dispatch"
	"buildgate/internal/errors"
	"buildgate/internal/jobs"
	"buildgate/internal/scheduler"
	"buildgate/internal/storage"
)

// ArtifactDispatcher answers artifact requests
type ArtifactDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) *dispatch.Response
}

// RepoSyncer refreshes the default branch of the local clone
type RepoSyncer interface {
	SyncDefaultBranch(ctx context.Context) (string, error)
	RateLimit() git.RateLimitSnapshot
}

// Purger drops cached ref resolutions
type Purger interface {
	Purge()
}

// BuildHistory lists recorded build steps
type BuildHistory interface {
	RecentBuilds(ctx context.Context, limit int) ([]storage.BuildRecord, error)
}

// Options holds the collaborators of a Server. History and Scheduler are optional.
type Options struct {
	Addr       string
	Dispatcher ArtifactDispatcher
	Queue      *jobs.Queue
	Source     RepoSyncer
	Cache      Purger
	History    BuildHistory
	Scheduler  *scheduler.Scheduler
	Guard      *auth.Guard
	// BuildWait is how long an artifact request may block on a build.
	BuildWait time.Duration
	Logger    *slog.Logger
}

// Server represents the HTTP API server
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	addr      string
	logger    *slog.Logger
	startedAt time.Time

	dispatcher ArtifactDispatcher
	queue      *jobs.Queue
	source     RepoSyncer
	cache      Purger
	history    BuildHistory
	scheduler  *scheduler.Scheduler
	guard      *auth.Guard
}

// NewServer creates a new HTTP server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Dispatcher == nil || opts.Queue == nil || opts.Source == nil || opts.Cache == nil {
		return nil, errors.New(errors.InternalError, "server requires dispatcher, queue, source and cache", nil)
	}
	if opts.Logger == nil {
		return nil, errors.New(errors.InternalError, "Logger is required for Server", nil)
	}
	if opts.Guard == nil {
		opts.Guard = auth.NewGuard("", auth.DefaultGuardConfig(), opts.Logger)
	}
	if opts.BuildWait <= 0 {
		opts.BuildWait = dispatch.DefaultBuildWait
	}

	s := &Server{
		addr:       opts.Addr,
		logger:     opts.Logger,
		router:     http.NewServeMux(),
		startedAt:  time.Now(),
		dispatcher: opts.Dispatcher,
		queue:      opts.Queue,
		source:     opts.Source,
		cache:      opts.Cache,
		history:    opts.History,
		scheduler:  opts.Scheduler,
		guard:      opts.Guard,
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Artifact requests may wait for a build before writing anything.
		WriteTimeout: opts.BuildWait + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Last applied runs first
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = GzipMiddleware()(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
