package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
)

// RateLimitConfig holds the default tiers and per-endpoint overrides, all in
// requests per minute.
type RateLimitConfig struct {
	AnonymousRPM     int
	AuthenticatedRPM int
	AdminRPM         int
	PerEndpoint      map[string]int
	Window           time.Duration
}

// DefaultRateLimitConfig returns the standard tiers: anonymous 10/min,
// authenticated 100/min, admin 1000/min, login 5/min, registration 3/min.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		AnonymousRPM:     10,
		AuthenticatedRPM: 100,
		AdminRPM:         1000,
		PerEndpoint: map[string]int{
			"POST /api/v1/auth/login": 5,
			"POST /api/v1/users":      3,
		},
		Window: time.Minute,
	}
}

// RateLimiter enforces a request budget per (client identity, endpoint)
// through its store: the in-process store refills a token bucket over the
// window, the Redis store counts fixed windows. Neither keeps a sliding
// window, so up to about twice the limit can pass within one window span
// (a full bucket or window end, then the refill or next window).
// Client identity is the authenticated user when present, else the client IP.
type RateLimiter struct {
	cfg     RateLimitConfig
	store   RateLimitStore
	metrics *metrics.Metrics
	auditor audit.Recorder
	logger  *logging.Logger
}

// NewRateLimiter creates the limiter over a pluggable store.
func NewRateLimiter(cfg RateLimitConfig, store RateLimitStore, m *metrics.Metrics, auditor audit.Recorder, logger *logging.Logger) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{cfg: cfg, store: store, metrics: m, auditor: auditor, logger: logger}
}

// limitFor resolves the applicable limit: per-endpoint override first, then
// the principal's tier.
func (rl *RateLimiter) limitFor(endpoint string, principal *Principal) int {
	if limit, ok := rl.cfg.PerEndpoint[endpoint]; ok {
		return limit
	}
	switch {
	case principal == nil:
		return rl.cfg.AnonymousRPM
	case principal.IsAdmin():
		return rl.cfg.AdminRPM
	default:
		return rl.cfg.AuthenticatedRPM
	}
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r.Context())

		clientID := ""
		if principal != nil {
			clientID = principal.UserID.String()
		}
		if clientID == "" {
			clientID = httputil.ClientIP(r)
		}
		if clientID == "" {
			clientID = "unknown"
		}

		endpoint := r.Method + " " + r.URL.Path
		limit := rl.limitFor(endpoint, principal)
		key := clientID + "|" + endpoint

		allowed, remaining, reset, err := rl.store.Allow(r.Context(), key, limit, rl.cfg.Window)
		if err != nil {
			// A broken limiter store must not take the API down.
			rl.logger.WithError(err).Warn("rate limit store unavailable")
			next.ServeHTTP(w, r)
			return
		}

		resetSeconds := int(math.Ceil(reset.Seconds()))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(resetSeconds))

			rl.metrics.RecordRateLimitRejection(endpoint, clientID)
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"client_id": clientID,
				"path":      r.URL.Path,
				"method":    r.Method,
			})
			rl.auditor.Record(r.Context(), audit.Entry{
				UserID:    userIDOrEmpty(principal),
				Action:    "rate_limit",
				Resource:  endpoint,
				Outcome:   audit.OutcomeRateLimited,
				IPAddress: httputil.ClientIP(r),
			})

			httputil.WriteServiceError(w, errors.RateLimitExceeded(limit, rl.cfg.Window.String()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func userIDOrEmpty(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.UserID.String()
}
