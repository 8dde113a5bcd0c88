package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duetrack/duetrack/pkg/audit"
	"github.com/duetrack/duetrack/pkg/events"
	"github.com/duetrack/duetrack/pkg/httputil"
	"github.com/duetrack/duetrack/pkg/observability"
	"github.com/duetrack/duetrack/pkg/plans"
)

// Server assembles the HTTP API.
type Server struct {
	router  *mux.Router
	service BillingService
}

// ServerOption wires an optional surface into the server.
type ServerOption func(*serverDeps)

type serverDeps struct {
	catalog       plans.Catalog
	stats         StatsService
	auditStore    audit.Store
	eventManager  *events.Manager
	health        *observability.HealthChecker
	metrics       *observability.Metrics
	allowedOrigin []string
}

// WithPlanCatalog exposes read-only plan routes.
func WithPlanCatalog(catalog plans.Catalog) ServerOption {
	return func(d *serverDeps) { d.catalog = catalog }
}

// WithStats exposes revenue statistics routes.
func WithStats(service StatsService) ServerOption {
	return func(d *serverDeps) { d.stats = service }
}

// WithAuditStore exposes audit search routes.
func WithAuditStore(store audit.Store) ServerOption {
	return func(d *serverDeps) { d.auditStore = store }
}

// WithEventManager exposes event subscription management routes.
func WithEventManager(manager *events.Manager) ServerOption {
	return func(d *serverDeps) { d.eventManager = manager }
}

// WithHealthChecker exposes /health/live and /health/ready on the API
// router in addition to the dedicated health port.
func WithHealthChecker(checker *observability.HealthChecker) ServerOption {
	return func(d *serverDeps) { d.health = checker }
}

// WithHTTPMetrics instruments all routes with Prometheus HTTP metrics.
func WithHTTPMetrics(metrics *observability.Metrics) ServerOption {
	return func(d *serverDeps) { d.metrics = metrics }
}

// WithCORS allows cross-origin requests from the given origins.
func WithCORS(origins []string) ServerOption {
	return func(d *serverDeps) { d.allowedOrigin = origins }
}

// NewServer creates the API server and sets up all routes.
func NewServer(service BillingService, opts ...ServerOption) *Server {
	deps := &serverDeps{}
	for _, opt := range opts {
		opt(deps)
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: service,
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps *serverDeps) {
	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	}
	if deps.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(deps.metrics))
	}
	if len(deps.allowedOrigin) > 0 {
		middlewares = append(middlewares, httputil.CORSMiddleware(deps.allowedOrigin))
	}
	for _, mw := range middlewares {
		s.router.Use(mw)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	NewBillingHandlers(s.service).RegisterRoutes(v1)
	NewAssignmentHandlers(s.service).RegisterRoutes(v1)
	if deps.catalog != nil {
		NewPlanHandlers(deps.catalog).RegisterRoutes(v1)
	}
	if deps.stats != nil {
		NewStatsHandlers(deps.stats).RegisterRoutes(v1)
	}
	if deps.auditStore != nil {
		audit.NewHandlers(deps.auditStore).RegisterRoutes(v1)
	}
	if deps.eventManager != nil {
		events.NewHandlers(deps.eventManager).RegisterRoutes(v1)
	}

	if deps.health != nil {
		s.router.HandleFunc("/health/live", deps.health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", deps.health.Readiness).Methods("GET")
	}
}

// Router returns the assembled router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
