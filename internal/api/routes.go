package api

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Artifacts
	s.router.HandleFunc("GET /artifacts/{ref}/{path...}", s.handleArtifact)

	// Health and readiness checks
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)

	// Introspection
	s.router.HandleFunc("GET /jobs", s.handleListJobs)
	s.router.HandleFunc("GET /builds", s.handleListBuilds)

	// Administration
	s.router.HandleFunc("POST /admin/sync", s.handleSync)
}
