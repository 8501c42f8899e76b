package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript is a token bucket shared by every server replica. It
// returns {allowed, tokens left, retry after in ms}.
var rateLimitScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// DefaultRateLimitPrefix namespaces limiter keys in Redis
const DefaultRateLimitPrefix = "ratelimit:admin"

// RateDecision is the result of one limiter check
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter limits the admin repair endpoints. With a Redis client the
// budget is a token bucket shared across replicas; without one, or while
// Redis is unreachable, a per-process sliding window is used.
// Requests are keyed by authenticated user, or by client IP when there is none.
type RateLimiter struct {
	mutex       sync.Mutex
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
	now         func() time.Time

	redis  *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRateLimiter allows maxRequests per key within window, in memory
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		prefix:      DefaultRateLimitPrefix,
		logger:      slog.Default(),
	}
}

// NewRedisRateLimiter shares the budget through client. A nil client gives
// the in-memory limiter.
func NewRedisRateLimiter(client *redis.Client, maxRequests int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := NewRateLimiter(maxRequests, window)
	rl.redis = client
	if logger != nil {
		rl.logger = logger
	}
	return rl
}

// Limit returns the number of requests allowed per window
func (rl *RateLimiter) Limit() int {
	return rl.maxRequests
}

// Take consumes one request for key
func (rl *RateLimiter) Take(ctx context.Context, key string) RateDecision {
	if rl.redis != nil {
		d, err := rl.takeRedis(ctx, key)
		if err == nil {
			return d
		}
		rl.logger.Warn("redis rate limit unavailable, using local window", "key", key, "error", err)
	}
	return rl.takeLocal(key)
}

func (rl *RateLimiter) takeRedis(ctx context.Context, key string) (RateDecision, error) {
	interval := rl.window / time.Duration(max(rl.maxRequests, 1))
	ttl := int64(math.Ceil(rl.window.Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	args := []interface{}{
		rl.now().UnixMilli(),
		int64(rl.maxRequests),
		interval.Milliseconds(),
		ttl,
	}
	vals, err := rateLimitScript.Run(ctx, rl.redis, []string{rl.prefix + ":" + key}, args...).Slice()
	if err != nil {
		return RateDecision{}, err
	}
	if len(vals) != 3 {
		return RateDecision{}, fmt.Errorf("unexpected rate limit script result %v", vals)
	}

	return RateDecision{
		Allowed:    asInt64(vals[0]) == 1,
		Remaining:  int(asInt64(vals[1])),
		RetryAfter: time.Duration(asInt64(vals[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func (rl *RateLimiter) takeLocal(key string) RateDecision {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	recent := rl.prune(key, now)
	if len(recent) >= rl.maxRequests {
		var wait time.Duration
		if len(recent) > 0 {
			wait = recent[0].Add(rl.window).Sub(now)
		}
		return RateDecision{RetryAfter: wait}
	}
	rl.requests[key] = append(recent, now)
	return RateDecision{Allowed: true, Remaining: rl.maxRequests - len(recent) - 1}
}

// Allow records a request for key in the local window and reports whether
// it is within the limit. Rejected requests are not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.takeLocal(key).Allowed
}

// RetryAfter returns how long key must wait in the local window
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	recent := rl.prune(key, now)
	if len(recent) < rl.maxRequests {
		return 0
	}
	return recent[0].Add(rl.window).Sub(now)
}

// prune drops timestamps outside the window. Caller holds the mutex.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	requests := rl.requests[key]

	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	recent := requests[i:]
	if len(recent) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = recent
	return recent
}

// Cleanup removes keys with no requests inside the window
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key := range rl.requests {
		rl.prune(key, now)
	}
}

// Run calls Cleanup every interval until ctx is done
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// RateLimit rejects non-GET requests over the limit with 429
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			key := UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + clientIP(r)
			}

			d := rl.Take(r.Context(), key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many repair requests, try again in "+(time.Duration(secs)*time.Second).String())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
