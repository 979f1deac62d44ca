package middleware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// RateLimitStore answers whether one more request fits the (client, endpoint)
// bucket. The in-process implementation serves single-instance deployments;
// the Redis one shares counters across instances.
type RateLimitStore interface {
	// Allow records one request against the key under the given budget and
	// returns the verdict, the requests left in the window, and how long
	// until the budget replenishes.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, reset time.Duration, err error)
}

// MemoryStore keeps a token-bucket limiter per key, sized so the budget
// refills over one window and bursts up to the full limit.
type MemoryStore struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

var _ RateLimitStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limiters: make(map[string]*rate.Limiter)}
}

// getLimiter returns the limiter for the given key (e.g., user ID or IP plus
// endpoint), creating it on first use.
func (s *MemoryStore) getLimiter(key string, limit int, window time.Duration) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		requestsPerSecond := float64(limit) / window.Seconds()
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), limit)
		s.limiters[key] = limiter
	}

	return limiter
}

// Allow implements RateLimitStore.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	limiter := s.getLimiter(key, limit, window)

	allowed := limiter.Allow()
	remaining := int(math.Floor(limiter.Tokens()))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, window, nil
}

// LimiterCount returns the number of active limiters.
func (s *MemoryStore) LimiterCount() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Cleanup removes old limiters (should be called periodically)
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Dropping the whole table is safe: refilled buckets are recreated at
	// full burst on next use.
	if len(s.limiters) > 10000 {
		s.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine to periodically cleanup old limiters
func (s *MemoryStore) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// RedisStore shares fixed-window counters across server instances. A shared
// token bucket cannot live in process memory, so the multi-instance path
// counts with INCR + EXPIRE per window instead.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ RateLimitStore = (*RedisStore)(nil)

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "xzepr:ratelimit:"}
}

// Allow implements RateLimitStore.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	redisKey := s.prefix + key

	incr := s.client.Incr(ctx, redisKey)
	if err := incr.Err(); err != nil {
		return false, 0, 0, errors.Internal("rate limit store", err)
	}

	// The expiry is set only when the key has none, so the window starts at
	// the first request and is not extended by later ones.
	ttl, err := s.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		if err := s.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, 0, 0, errors.Internal("rate limit store", err)
		}
		ttl = window
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining, ttl, nil
}
