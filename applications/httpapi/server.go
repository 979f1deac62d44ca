// Package httpapi exposes the ingestion core over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/authz"
	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/infrastructure/middleware"
	"github.com/xbcsmith/xzepr/internal/app/auth"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/internal/app/storage"
)

const serviceName = "xzepr"

// Server hosts the HTTP API.
type Server struct {
	server  *http.Server
	log     *logging.Logger
	handler http.Handler
}

// Options collects the collaborators the API needs.
type Options struct {
	Addr       string
	Ingest     *ingest.Service
	Tokens     *auth.Manager
	Users      storage.UserStore
	Authorizer *authz.Authorizer
	Metrics    *metrics.Metrics
	Auditor    audit.Recorder
	Logger     *logging.Logger

	RateLimit      middleware.RateLimitConfig
	RateLimitStore middleware.RateLimitStore
	CORS           *middleware.CORSConfig
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// New builds the router and middleware chain.
func New(opts Options) *Server {
	h := &handlers{
		ingest:  opts.Ingest,
		tokens:  opts.Tokens,
		users:   opts.Users,
		metrics: opts.Metrics,
		auditor: opts.Auditor,
		log:     opts.Logger,
	}

	r := mux.NewRouter()

	// Observability endpoints skip auth and rate limiting.
	r.HandleFunc("/health", h.health(opts.Authorizer)).Methods(http.MethodGet)
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	authn := middleware.NewAuthMiddleware(opts.Tokens, opts.Users, opts.Metrics, opts.Logger)
	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitStore, opts.Metrics, opts.Auditor, opts.Logger)

	api.Use(mux.MiddlewareFunc(authn.Handler))
	api.Use(mux.MiddlewareFunc(limiter.Handler))

	// Auth
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)

	// Everything below requires an authenticated principal.
	protected := api.PathPrefix("/").Subrouter()
	protected.Use(mux.MiddlewareFunc(middleware.RequireAuth))

	// Events
	protected.HandleFunc("/events", h.createEvent).Methods(http.MethodPost)
	protected.HandleFunc("/events", h.findEvents).Methods(http.MethodGet)
	protected.HandleFunc("/events/{id}", h.getEvent).Methods(http.MethodGet)

	// Receivers
	protected.HandleFunc("/event-receivers", h.createReceiver).Methods(http.MethodPost)
	protected.HandleFunc("/event-receivers", h.findReceivers).Methods(http.MethodGet)
	protected.HandleFunc("/event-receivers/{id}", h.getReceiver).Methods(http.MethodGet)
	protected.HandleFunc("/event-receivers/{id}", h.updateReceiver).Methods(http.MethodPut)
	protected.HandleFunc("/event-receivers/{id}", h.deleteReceiver).Methods(http.MethodDelete)

	// Groups
	protected.HandleFunc("/event-receiver-groups", h.createGroup).Methods(http.MethodPost)
	protected.HandleFunc("/event-receiver-groups", h.findGroups).Methods(http.MethodGet)
	protected.HandleFunc("/event-receiver-groups/{id}", h.getGroup).Methods(http.MethodGet)
	protected.HandleFunc("/event-receiver-groups/{id}", h.updateGroup).Methods(http.MethodPut)
	protected.HandleFunc("/event-receiver-groups/{id}", h.deleteGroup).Methods(http.MethodDelete)

	// Membership
	protected.HandleFunc("/groups/{id}/members", h.addMember).Methods(http.MethodPost)
	protected.HandleFunc("/groups/{id}/members", h.listMembers).Methods(http.MethodGet)
	protected.HandleFunc("/groups/{id}/members/{user_id}", h.removeMember).Methods(http.MethodDelete)

	// Outer middleware chain applies to everything.
	recovery := middleware.NewRecoveryMiddleware(opts.Logger)
	cors := middleware.NewCORSMiddleware(opts.CORS)
	secHeaders := middleware.NewSecurityHeadersMiddleware(nil)

	var handler http.Handler = r
	handler = middleware.TimeoutMiddleware(opts.RequestTimeout)(handler)
	handler = middleware.MetricsMiddleware(serviceName, opts.Metrics)(handler)
	handler = middleware.LoggingMiddleware(opts.Logger)(handler)
	handler = secHeaders.Handler(handler)
	handler = cors.Handler(handler)
	handler = recovery.Handler(handler)

	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log:     opts.Logger,
		handler: handler,
	}
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.WithFields(map[string]interface{}{"addr": s.server.Addr}).Info("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// health reports liveness plus the policy breaker state.
func (h *handlers) health(authorizer *authz.Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":               "ok",
			"policy_circuit_state": authorizer.BreakerState().String(),
		})
	}
}
