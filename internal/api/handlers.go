package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"buildgate/internal/auth"
	"buildgate/internal/backends/git"
	"buildgate/internal/errors"
	"buildgate/internal/jobs"
	"buildgate/internal/scheduler"
	"buildgate/internal/storage"
	"buildgate/internal/version"
)

// syncTimeout bounds an admin-triggered sync
const syncTimeout = 5 * time.Minute

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Queue     jobs.QueueStats        `json:"queue"`
	RateLimit git.RateLimitSnapshot  `json:"rateLimit"`
	Tasks     []scheduler.TaskStatus `json:"tasks,omitempty"`
}

// ReadyResponse reports whether the gateway has no outstanding work
type ReadyResponse struct {
	Idle bool `json:"idle"`
}

// JobsResponse lists admitted jobs by lane
type JobsResponse struct {
	Lanes map[string][]jobs.JobInfo `json:"lanes"`
}

// BuildsResponse lists recent build steps
type BuildsResponse struct {
	Builds []storage.BuildRecord `json:"builds"`
}

// SyncResponse reports the outcome of an admin sync
type SyncResponse struct {
	Branch string `json:"branch"`
	Purged bool   `json:"purged"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Info(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Queue:     s.queue.Stats(),
		RateLimit: s.source.RateLimit(),
	}
	if s.scheduler != nil {
		resp.Tasks = s.scheduler.Status()
	}

	WriteJSON(w, resp, http.StatusOK)
}

// handleReady handles GET /ready. External cleanup only prunes while idle.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, ReadyResponse{Idle: s.queue.Idle()}, http.StatusOK)
}

// handleListJobs handles GET /jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	lanes := make(map[string][]jobs.JobInfo)
	for _, name := range s.queue.Lanes() {
		lanes[name] = s.queue.Jobs(name)
	}
	WriteJSON(w, JobsResponse{Lanes: lanes}, http.StatusOK)
}

// handleListBuilds handles GET /builds?limit=N
func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		WriteGatewayError(w, errors.New(errors.Unavailable, "build history is disabled", nil))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	builds, err := s.history.RecentBuilds(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list builds", "error", err.Error())
		InternalError(w, "internal server error")
		return
	}
	if builds == nil {
		builds = []storage.BuildRecord{}
	}
	WriteJSON(w, BuildsResponse{Builds: builds}, http.StatusOK)
}

// handleSync handles POST /admin/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Check(r, clientIP(r)); err != nil {
		status := http.StatusUnauthorized
		if err == auth.ErrRateLimited {
			status = http.StatusTooManyRequests
		}
		WriteError(w, errors.New(errors.Unauthorized, err.Error(), nil), status)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), syncTimeout)
	defer cancel()

	branch, err := s.source.SyncDefaultBranch(ctx)
	if err != nil {
		s.logger.Error("Admin sync failed", "error", err.Error())
		WriteGatewayError(w, err)
		return
	}
	s.cache.Purge()

	s.logger.Info("Admin sync completed", "branch", branch)
	WriteJSON(w, SyncResponse{Branch: branch, Purged: true}, http.StatusOK)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
