package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
)

func newTestLimiter(cfg RateLimitConfig, store RateLimitStore) *RateLimiter {
	m := metrics.NewWithRegistry("test", prometheus.NewRegistry())
	return NewRateLimiter(cfg, store, m, audit.Nop{}, logging.New("test", "error", "json"))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMemoryStoreEnforcesBudget(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, _, err := store.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow err = %v", err)
		}
		if !allowed {
			t.Errorf("request %d rejected, want allowed", i+1)
		}
	}

	allowed, remaining, _, err := store.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow err = %v", err)
	}
	if allowed {
		t.Error("fourth request allowed, want rejected")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	// A different key has its own budget.
	allowed, _, _, _ = store.Allow(ctx, "other", 3, time.Minute)
	if !allowed {
		t.Error("first request on fresh key rejected")
	}
}

func TestMemoryStoreReplenishes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	window := 20 * time.Millisecond
	for i := 0; i < 3; i++ {
		store.Allow(ctx, "k", 3, window)
	}
	if allowed, _, _, _ := store.Allow(ctx, "k", 3, window); allowed {
		t.Fatal("budget not exhausted")
	}

	time.Sleep(25 * time.Millisecond)

	if allowed, _, _, _ := store.Allow(ctx, "k", 3, window); !allowed {
		t.Error("budget did not replenish after the window")
	}
}

func TestMemoryStoreReusesLimiter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Allow(ctx, "k", 10, time.Minute)
	store.Allow(ctx, "k", 10, time.Minute)
	store.Allow(ctx, "j", 10, time.Minute)

	if store.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", store.LimiterCount())
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	cfg := RateLimitConfig{
		AnonymousRPM: 3,
		Window:       time.Minute,
	}
	rl := newTestLimiter(cfg, NewMemoryStore())
	handler := rl.Handler(okHandler())

	var lastStatus int
	var lastHeaders http.Header
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
		req.RemoteAddr = "198.51.100.7:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastStatus = rec.Code
		lastHeaders = rec.Header()

		if i < 3 && rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("fourth request status = %d, want 429", lastStatus)
	}
	if lastHeaders.Get("X-RateLimit-Limit") != "3" {
		t.Errorf("X-RateLimit-Limit = %q, want 3", lastHeaders.Get("X-RateLimit-Limit"))
	}
	if lastHeaders.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", lastHeaders.Get("X-RateLimit-Remaining"))
	}
	retryAfter, err := strconv.Atoi(lastHeaders.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After not an integer: %q", lastHeaders.Get("Retry-After"))
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Errorf("Retry-After = %d, want within (0, 60]", retryAfter)
	}
	if lastHeaders.Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset missing on 429")
	}
}

func TestPerEndpointOverride(t *testing.T) {
	cfg := RateLimitConfig{
		AnonymousRPM: 100,
		PerEndpoint:  map[string]int{"POST /api/v1/auth/login": 2},
		Window:       time.Minute,
	}
	rl := newTestLimiter(cfg, NewMemoryStore())
	handler := rl.Handler(okHandler())

	var statuses []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "198.51.100.7:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("first two logins = %v, want 200s", statuses[:2])
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("third login = %d, want 429", statuses[2])
	}
}

func TestClientsCountedSeparately(t *testing.T) {
	cfg := RateLimitConfig{AnonymousRPM: 1, Window: time.Minute}
	rl := newTestLimiter(cfg, NewMemoryStore())
	handler := rl.Handler(okHandler())

	for _, addr := range []string{"198.51.100.1:1", "198.51.100.2:2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("first request from %s status = %d, want 200", addr, rec.Code)
		}
	}
}

func TestRedisStoreCountsAcrossCalls(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		allowed, remaining, reset, err := store.Allow(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow err = %v", err)
		}
		if !allowed {
			t.Errorf("request %d rejected, want allowed", i)
		}
		if remaining != 3-i {
			t.Errorf("remaining = %d, want %d", remaining, 3-i)
		}
		if reset <= 0 || reset > time.Minute {
			t.Errorf("reset = %v, want within (0, 1m]", reset)
		}
	}

	allowed, remaining, _, err := store.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow err = %v", err)
	}
	if allowed {
		t.Error("fourth request allowed, want rejected")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestCleanupKeepsSmallTable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Allow(ctx, "k", 10, time.Minute)
	store.Cleanup()
	if store.LimiterCount() != 1 {
		t.Errorf("LimiterCount() = %d, want 1 (small tables survive)", store.LimiterCount())
	}
}
