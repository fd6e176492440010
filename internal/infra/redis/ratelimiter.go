package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and stamps the window TTL
// on first use, atomically. Returns {count, remaining_ms}. A counter that
// somehow lost its TTL gets a fresh one so the window can never stick.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`)

// RateLimiter implements distributed fixed-window rate limiting on Redis.
// Each (client key, route class) pair maps to one counter key whose TTL is
// the window; the counter resets when the key expires. All instances sharing
// the Redis see the same window.
type RateLimiter struct {
	client    *Client
	keyPrefix string
}

// NewRateLimiter creates a distributed rate limiter.
func NewRateLimiter(client *Client, keyPrefix string) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit"
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow counts one request against the window for key and reports whether it
// fits within max. Errors are returned to the caller, which is expected to
// fail open to its in-memory fallback.
func (rl *RateLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.keyPrefix, key)

	done := Timed("ratelimit_allow")
	res, err := fixedWindowScript.Run(ctx, rl.client.Client(), []string{redisKey}, window.Milliseconds()).Result()
	done(err)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	count, ok1 := vals[0].(int64)
	ttlMs, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply types %v", res)
	}

	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if count > int64(max) {
		DefaultMetrics.RecordRateLimitResult(rl.keyPrefix, false)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	DefaultMetrics.RecordRateLimitResult(rl.keyPrefix, true)

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, RetryAfter: 0}, nil
}

// Reset clears the window for a key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, fmt.Sprintf("%s:%s", rl.keyPrefix, key))
}
