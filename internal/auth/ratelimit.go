package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"

	"github.com/adlaunch/backend/internal/logger"
)

// RateLimitConfig defines rate limit parameters
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Check(ctx context.Context, key string) (*RateLimitResult, error)
}

// NewLimiter uses Redis when a client is given, so limits hold across replicas,
// and an in-process token bucket otherwise.
func NewLimiter(redisClient *redis.Client, cfg RateLimitConfig) Limiter {
	if redisClient != nil {
		return NewRedisLimiter(redisClient, cfg)
	}
	return NewMemoryLimiter(cfg)
}

// RedisLimiter implements sliding window rate limiting with Redis
type RedisLimiter struct {
	redis     *redis.Client
	keyPrefix string
	config    RateLimitConfig
}

func NewRedisLimiter(redisClient *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		redis:     redisClient,
		keyPrefix: "adlaunch:ratelimit:",
		config:    cfg,
	}
}

// Removes entries older than the window, then admits the request if room is left.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current_count = redis.call('ZCARD', key)
	if current_count < max_requests then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms)
		return {1, max_requests - current_count - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_after = 0
	if #oldest >= 2 then
		retry_after = tonumber(oldest[2]) + window_ms - now
	end
	return {0, 0, retry_after}
`)

func (r *RedisLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	result, err := slidingWindowScript.Run(ctx, r.redis, []string{r.keyPrefix + key},
		now.UnixMilli(),
		now.Add(-r.config.Window).UnixMilli(),
		r.config.Requests,
		r.config.Window.Milliseconds(),
		member,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("rate limit check failed: unexpected reply %v", result)
	}

	return &RateLimitResult{
		Allowed:    values[0].(int64) == 1,
		Remaining:  int(values[1].(int64)),
		RetryAfter: time.Duration(values[2].(int64)) * time.Millisecond,
		Limit:      r.config.Requests,
	}, nil
}

// MemoryLimiter keeps one token bucket per key.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}
}

func (m *MemoryLimiter) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[key]
	if !ok {
		every := m.config.Window / time.Duration(m.config.Requests)
		l = rate.NewLimiter(rate.Every(every), m.config.Requests)
		m.limiters[key] = l
	}
	return l
}

func (m *MemoryLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	l := m.limiter(key)

	r := l.Reserve()
	if !r.OK() {
		return &RateLimitResult{Limit: m.config.Requests}, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &RateLimitResult{Allowed: false, RetryAfter: delay, Limit: m.config.Requests}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: int(l.Tokens()),
		Limit:     m.config.Requests,
	}, nil
}

// RateLimitMiddleware limits requests per client IP. Limiter errors fail open.
func RateLimitMiddleware(limiter Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.Check(c.Request.Context(), scope+":ip:"+c.ClientIP())
		if err != nil {
			log := logger.FromContext(c.Request.Context())
			log.Warn().Err(err).Msg("Rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retry := int(result.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
