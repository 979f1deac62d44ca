// Package metrics provides Prometheus metrics collection
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Circuit breaker gauge values.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec
	AuthFailuresTotal *prometheus.CounterVec
	AuthSuccessTotal  *prometheus.CounterVec
	AuthDuration      *prometheus.HistogramVec

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	PolicyFallbackTotal   prometheus.Counter
	PolicyCircuitState    prometheus.Gauge
	PolicyCacheHitsTotal  prometheus.Counter
	PolicyCacheMissTotal  prometheus.Counter

	// Session metrics
	ActiveSessions prometheus.Gauge

	// Rate limiting
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Publication pipeline
	PublicationAttemptsTotal *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Service health
	ServiceInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"result"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_failures_total",
				Help: "Total number of authentication failures",
			},
			[]string{"reason", "client_id"},
		),
		AuthSuccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_success_total",
				Help: "Total number of successful authentications",
			},
			[]string{"method", "user_id"},
		),
		AuthDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_duration_seconds",
				Help:    "Authentication operation duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result", "permission"},
		),
		PolicyFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_fallback_total",
				Help: "Total number of decisions taken by the fallback evaluator",
			},
		),
		PolicyCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "policy_evaluator_circuit_state",
				Help: "Policy evaluator circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		PolicyCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_cache_hits_total",
				Help: "Total number of authorization decision cache hits",
			},
		),
		PolicyCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_cache_misses_total",
				Help: "Total number of authorization decision cache misses",
			},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions_total",
				Help: "Current number of active sessions",
			},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"endpoint", "client_id"},
		),

		PublicationAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publication_attempts_total",
				Help: "Total number of broker publication attempts",
			},
			[]string{"result", "topic"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.AuthAttemptsTotal,
			m.AuthFailuresTotal,
			m.AuthSuccessTotal,
			m.AuthDuration,
			m.PermissionChecksTotal,
			m.PolicyFallbackTotal,
			m.PolicyCircuitState,
			m.PolicyCacheHitsTotal,
			m.PolicyCacheMissTotal,
			m.ActiveSessions,
			m.RateLimitRejectionsTotal,
			m.PublicationAttemptsTotal,
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)

	return m
}

// RecordAuthAttempt records an authentication attempt outcome
func (m *Metrics) RecordAuthAttempt(result string) {
	m.AuthAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordAuthFailure records a failed authentication with its reason
func (m *Metrics) RecordAuthFailure(reason, clientID string) {
	m.AuthFailuresTotal.WithLabelValues(reason, clientID).Inc()
}

// RecordAuthSuccess records a successful authentication
func (m *Metrics) RecordAuthSuccess(method, userID string) {
	m.AuthSuccessTotal.WithLabelValues(method, userID).Inc()
}

// ObserveAuthDuration records the duration of an auth operation
func (m *Metrics) ObserveAuthDuration(operation string, duration time.Duration) {
	m.AuthDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPermissionCheck records an authorization decision
func (m *Metrics) RecordPermissionCheck(granted bool, permission string) {
	result := "denied"
	if granted {
		result = "granted"
	}
	m.PermissionChecksTotal.WithLabelValues(result, permission).Inc()
}

// RecordPolicyFallback records a decision taken by the fallback evaluator
func (m *Metrics) RecordPolicyFallback() {
	m.PolicyFallbackTotal.Inc()
}

// SetCircuitState sets the policy evaluator circuit breaker gauge
func (m *Metrics) SetCircuitState(state int) {
	m.PolicyCircuitState.Set(float64(state))
}

// RecordCacheHit records an authorization decision cache hit
func (m *Metrics) RecordCacheHit() {
	m.PolicyCacheHitsTotal.Inc()
}

// RecordCacheMiss records an authorization decision cache miss
func (m *Metrics) RecordCacheMiss() {
	m.PolicyCacheMissTotal.Inc()
}

// RecordRateLimitRejection records a rate-limited request
func (m *Metrics) RecordRateLimitRejection(endpoint, clientID string) {
	m.RateLimitRejectionsTotal.WithLabelValues(endpoint, clientID).Inc()
}

// RecordPublication records a broker publication attempt
func (m *Metrics) RecordPublication(success bool, topic string) {
	result := "error"
	if success {
		result = "success"
	}
	m.PublicationAttemptsTotal.WithLabelValues(result, topic).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// IncrementSessions increments the active sessions gauge
func (m *Metrics) IncrementSessions() {
	m.ActiveSessions.Inc()
}

// DecrementSessions decrements the active sessions gauge
func (m *Metrics) DecrementSessions() {
	m.ActiveSessions.Dec()
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("xzepr")
	}
	return globalMetrics
}
