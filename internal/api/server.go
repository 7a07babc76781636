package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/hub"
	"taskflow/internal/tracker"
	"taskflow/pkg/interfaces"
)

// StatsProvider reports live realtime fan-out statistics for /health
type StatsProvider interface {
	Stats() hub.Stats
}

// Config tunes the REST surface
type Config struct {
	RequestsPerMinute int
	// EnableTokenEndpoint exposes POST /api/auth/token
	EnableTokenEndpoint bool
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	tracker  *tracker.Tracker
	verifier interfaces.TokenVerifier
	issuer   *auth.Verifier
	stats    StatsProvider
	limiter  *RateLimiter
	config   Config
	logger   *zap.Logger
	router   *mux.Router
}

// NewServer builds the router. issuer may be nil when the token endpoint is disabled.
func NewServer(t *tracker.Tracker, verifier interfaces.TokenVerifier, issuer *auth.Verifier, stats StatsProvider, config Config, logger *zap.Logger) *Server {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 100
	}
	s := &Server{
		tracker:  t,
		verifier: verifier,
		issuer:   issuer,
		stats:    stats,
		limiter:  NewRateLimiter(config.RequestsPerMinute, time.Minute),
		config:   config,
		logger:   logger.Named("api"),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// Every /api route except the token endpoint is authenticated with the same
// verifier the realtime gateway uses
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware, corsMiddleware)
	// preflight requests are answered by corsMiddleware
	s.router.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	s.router.Methods(http.MethodGet).Path("/health").HandlerFunc(s.healthCheck)
	s.router.Path("/metrics").Handler(promhttp.Handler())

	if s.config.EnableTokenEndpoint && s.issuer != nil {
		s.router.Methods(http.MethodPost).Path("/api/auth/token").HandlerFunc(s.issueToken)
	}

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(s.authMiddleware, s.rateLimitMiddleware)

	authed.Methods(http.MethodPost).Path("/orgs").HandlerFunc(s.createOrganization)
	authed.Methods(http.MethodGet).Path("/notifications").HandlerFunc(s.listNotifications)
	authed.Methods(http.MethodPost).Path("/notifications/{notificationId}/read").HandlerFunc(s.markNotificationRead)

	org := authed.PathPrefix("/orgs/{orgId}").Subrouter()
	org.Use(s.orgMiddleware)

	org.Methods(http.MethodGet).Path("/members").HandlerFunc(s.listMembers)
	org.Methods(http.MethodPost).Path("/members").HandlerFunc(s.addMember)
	org.Methods(http.MethodGet).Path("/activity").HandlerFunc(s.listActivity)
	org.Methods(http.MethodGet).Path("/projects").HandlerFunc(s.listProjects)
	org.Methods(http.MethodPost).Path("/projects").HandlerFunc(s.createProject)
	org.Methods(http.MethodGet).Path("/projects/{projectId}").HandlerFunc(s.getProject)

	tasks := "/projects/{projectId}/tasks"
	org.Methods(http.MethodGet).Path(tasks).HandlerFunc(s.listTasks)
	org.Methods(http.MethodPost).Path(tasks).HandlerFunc(s.createTask)
	org.Methods(http.MethodGet).Path(tasks + "/{taskId}").HandlerFunc(s.getTask)
	org.Methods(http.MethodPatch).Path(tasks + "/{taskId}").HandlerFunc(s.updateTask)
	org.Methods(http.MethodDelete).Path(tasks + "/{taskId}").HandlerFunc(s.deleteTask)
	org.Methods(http.MethodGet).Path(tasks + "/{taskId}/comments").HandlerFunc(s.listComments)
	org.Methods(http.MethodPost).Path(tasks + "/{taskId}/comments").HandlerFunc(s.createComment)
}

// Handle mounts an extra handler (the realtime gateway) behind the shared
// logging and CORS middleware
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Path(path).Handler(h)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Limiter exposes the rate limiter so the application can schedule Cleanup
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Broadcaster hub.Stats `json:"broadcaster"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if s.stats != nil {
		resp.Broadcaster = s.stats.Stats()
	}

	code := http.StatusOK
	if err := s.tracker.Store().HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	sendJSON(w, code, resp)
}
