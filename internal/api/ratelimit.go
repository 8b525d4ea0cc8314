package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	rateLimitPrefix  = "fortress:ratelimit:"
	rateLimitMessage = "Too many requests from this IP, please try again later."
	sweepEvery       = 1024
)

// incrWindow bumps the counter and starts its expiry on the first hit of a
// window. It returns the count and the remaining ttl in milliseconds.
var incrWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return {current, redis.call('PTTL', KEYS[1])}
`)

// RateLimiter is a fixed-window limiter keyed by client IP. Counters live in
// Redis when a client is configured and in process otherwise.
type RateLimiter struct {
	redis    *redis.Client
	logger   *zap.Logger
	limit    int
	window   time.Duration
	now      func() time.Time
	onReject func()

	localLimits sync.Map // client -> *localWindow
	checks      atomic.Int64
}

type localWindow struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// NewRateLimiter allows limit requests per window for each client. A nil
// redisClient keeps counters in process.
func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		redis:  redisClient,
		logger: logger,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// OnReject registers a callback run for every rejected request.
func (rl *RateLimiter) OnReject(fn func()) {
	rl.onReject = fn
}

// Check counts one request from clientID. Redis failures allow the request.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) RateLimitResult {
	if rl.redis == nil {
		return rl.checkLocal(clientID)
	}

	now := rl.now()
	key := rateLimitPrefix + clientID
	vals, err := incrWindow.Run(ctx, rl.redis, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.String("client", clientID), zap.Error(err))
		return RateLimitResult{Allowed: true, Remaining: rl.limit, Limit: rl.limit}
	}

	ttl := time.Duration(vals[1]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.window
	}
	return rl.result(int(vals[0]), now.Add(ttl), now)
}

func (rl *RateLimiter) checkLocal(clientID string) RateLimitResult {
	now := rl.now()
	if rl.checks.Add(1)%sweepEvery == 0 {
		rl.sweep(now)
	}

	v, _ := rl.localLimits.LoadOrStore(clientID, &localWindow{})
	w := v.(*localWindow)

	w.mu.Lock()
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(rl.window)
	}
	w.count++
	count, resetAt := w.count, w.resetAt
	w.mu.Unlock()

	return rl.result(count, resetAt, now)
}

// sweep drops expired in-process windows.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.localLimits.Range(func(k, v any) bool {
		w := v.(*localWindow)
		w.mu.Lock()
		expired := !now.Before(w.resetAt)
		w.mu.Unlock()
		if expired {
			rl.localLimits.Delete(k)
		}
		return true
	})
}

func (rl *RateLimiter) result(count int, resetAt, now time.Time) RateLimitResult {
	res := RateLimitResult{
		Allowed:   count <= rl.limit,
		Remaining: max(0, rl.limit-count),
		Limit:     rl.limit,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res
}

// Middleware rejects clients over their limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := rl.Check(r.Context(), clientIP(r))

		w.Header().Set("RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.ResetAt.IsZero() {
			w.Header().Set("RateLimit-Reset", strconv.Itoa(int(result.ResetAt.Sub(rl.now()).Seconds())))
		}

		if !result.Allowed {
			if rl.onReject != nil {
				rl.onReject()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, rateLimitMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr. Forwarded headers are
// resolved earlier by middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
