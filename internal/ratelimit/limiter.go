package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
)

// Default limiter tuning.
const (
	DefaultWindowSeconds = 3600
	bucketSeconds        = 60
)

// slidingWindowScript sums the window's minute buckets and conditionally
// increments the current bucket, all server-side. Splitting the read from the
// write would let two concurrent checks both pass when only one fits.
//
// KEYS[1] = scope key prefix
// ARGV[1] = limit, ARGV[2] = window seconds, ARGV[3] = cost, ARGV[4] = now (unix)
//
// Returns {allowed, usage, limit, reset_at} where usage includes the cost
// when allowed.
const slidingWindowScript = `
local prefix = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = 60
local buckets = math.floor(window / bucket)
local current_minute = math.floor(now / bucket) * bucket

local usage = 0
for i = 0, buckets - 1 do
  local key = prefix .. ":" .. (current_minute - i * bucket)
  local count = redis.call("GET", key)
  if count then
    usage = usage + tonumber(count)
  end
end

local reset_at = current_minute + window

if usage + cost > limit then
  return {0, usage, limit, reset_at}
end

if cost > 0 then
  local current_key = prefix .. ":" .. current_minute
  redis.call("INCRBY", current_key, cost)
  redis.call("EXPIRE", current_key, window + 60)
  usage = usage + cost
end

return {1, usage, limit, reset_at}
`

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed      bool
	CurrentUsage int64
	Limit        int64
	Remaining    int64
	ResetAt      int64
	RetryAfter   int64
	// Degraded is set when the result came from the in-memory fallback.
	Degraded bool
}

func resultFromScript(values []int64, now int64) Result {
	allowed := values[0] == 1
	usage := values[1]
	limit := values[2]
	resetAt := values[3]

	retryAfter := int64(0)
	if !allowed {
		retryAfter = max64(resetAt-now, 0)
	}

	return Result{
		Allowed:      allowed,
		CurrentUsage: usage,
		Limit:        limit,
		Remaining:    max64(limit-usage, 0),
		ResetAt:      resetAt,
		RetryAfter:   retryAfter,
	}
}

func failOpenResult(limit int64, now int64) Result {
	return Result{
		Allowed:      true,
		CurrentUsage: 0,
		Limit:        limit,
		Remaining:    limit,
		ResetAt:      now + DefaultWindowSeconds,
		Degraded:     true,
	}
}

// Limiter is the Redis-backed sliding-window limiter with in-memory fallback.
type Limiter struct {
	redis         *redis.Client
	script        *redis.Script
	windowSeconds int64
	failOpen      bool
	fallback      *fallbackLimiter
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// New creates a limiter with the given window and degradation policy.
func New(client *redis.Client, windowSeconds int64, failOpen bool, logger *logging.Logger, m *metrics.Metrics) *Limiter {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Limiter{
		redis:         client,
		script:        redis.NewScript(slidingWindowScript),
		windowSeconds: windowSeconds,
		failOpen:      failOpen,
		fallback:      newFallbackLimiter(),
		logger:        logger,
		metrics:       m,
	}
}

// Check atomically verifies that cost more units fit under limit for the
// scope, incrementing the current bucket when they do. When Redis is
// unreachable the check is served by the in-memory fallback (fail-open) or
// rejected with an error (fail-closed).
func (l *Limiter) Check(ctx context.Context, scope Scope, limit, cost int64) (Result, error) {
	now := time.Now().Unix()

	values, err := l.runScript(ctx, scope, limit, cost, now)
	if err == nil {
		result := resultFromScript(values, now)
		if result.Allowed {
			l.metrics.RateLimitChecks.WithLabelValues("allowed").Inc()
		} else {
			l.metrics.RateLimitChecks.WithLabelValues("rejected").Inc()
			l.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"scope":         scope.String(),
				"current_usage": result.CurrentUsage,
				"limit":         limit,
				"retry_after":   result.RetryAfter,
			}).Warn("Rate limit exceeded")
		}
		return result, nil
	}

	l.logger.WithContext(ctx).WithError(err).WithField("scope", scope.String()).
		Error("Redis error during rate limit check")

	if !l.failOpen {
		return Result{}, errors.Unavailable(errors.ErrCodeRateLimitExceeded, "rate limiter unavailable", err)
	}

	l.metrics.RateLimitFallback.Inc()
	result := l.fallback.check(scope, cost, now)
	if result.Allowed {
		l.metrics.RateLimitChecks.WithLabelValues("allowed").Inc()
	} else {
		l.metrics.RateLimitChecks.WithLabelValues("rejected").Inc()
	}
	return result, nil
}

// GetCurrentUsage reads the window's usage without incrementing anything.
func (l *Limiter) GetCurrentUsage(ctx context.Context, scope Scope, limit int64) (Result, error) {
	now := time.Now().Unix()
	currentMinute := (now / bucketSeconds) * bucketSeconds
	buckets := l.windowSeconds / bucketSeconds

	keys := make([]string, 0, buckets)
	for i := int64(0); i < buckets; i++ {
		keys = append(keys, fmt.Sprintf("%s:%d", scope.KeyPrefix(), currentMinute-i*bucketSeconds))
	}

	values, err := l.redis.MGet(ctx, keys...).Result()
	if err != nil {
		if l.failOpen {
			return failOpenResult(limit, now), nil
		}
		return Result{}, errors.Unavailable(errors.ErrCodeRateLimitExceeded, "failed to get current usage", err)
	}

	var usage int64
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			var n int64
			if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
				usage += n
			}
		}
	}

	resetAt := currentMinute + l.windowSeconds
	return Result{
		Allowed:      true,
		CurrentUsage: usage,
		Limit:        limit,
		Remaining:    max64(limit-usage, 0),
		ResetAt:      resetAt,
		RetryAfter:   max64(resetAt-now, 0),
	}, nil
}

// Reset clears all buckets for a scope. Test helper only.
func (l *Limiter) Reset(ctx context.Context, scope Scope) error {
	keys, err := l.redis.Keys(ctx, scope.KeyPrefix()+":*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return l.redis.Del(ctx, keys...).Err()
}

// SweepFallback drops expired in-memory fallback entries. Wired to the
// maintenance scheduler.
func (l *Limiter) SweepFallback() {
	l.fallback.sweep()
}

// WindowSeconds exposes the configured window for response headers.
func (l *Limiter) WindowSeconds() int64 {
	return l.windowSeconds
}

func (l *Limiter) runScript(ctx context.Context, scope Scope, limit, cost, now int64) ([]int64, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{scope.KeyPrefix()}, limit, l.windowSeconds, cost, now).Result()
	if err != nil {
		return nil, err
	}

	slice, ok := raw.([]interface{})
	if !ok || len(slice) != 4 {
		return nil, fmt.Errorf("unexpected script response: %v", raw)
	}

	values := make([]int64, 4)
	for i, v := range slice {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script response element: %v", v)
		}
		values[i] = n
	}
	return values, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
