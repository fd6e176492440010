package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true,
		General: config.RatePolicy{Window: time.Minute, Max: 100},
		Auth:    config.RatePolicy{Window: time.Second, Max: 3},
		API:     config.RatePolicy{Window: time.Minute, Max: 10},
		Upload:  config.RatePolicy{Window: time.Hour, Max: 5},
		Admin:   config.RatePolicy{Window: time.Minute, Max: 30},
	}
}

func TestRateLimiterAllow_FixedWindow(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(testRateLimitConfig(), securityevent.NopRecorder{}, logger.NewNop(),
		WithRateLimiterClock(func() time.Time { return current }))
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		d := rl.Allow("ip:10.0.0.1", RouteClassAuth)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := rl.Allow("ip:10.0.0.1", RouteClassAuth)
	require.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Second, d.RetryAfter)

	// A different key is unaffected.
	other := rl.Allow("ip:10.0.0.2", RouteClassAuth)
	assert.True(t, other.Allowed)
}

func TestRateLimiterAllow_WindowElapses(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(testRateLimitConfig(), securityevent.NopRecorder{}, logger.NewNop(),
		WithRateLimiterClock(func() time.Time { return current }))
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		rl.Allow("ip:10.0.0.1", RouteClassAuth)
	}
	require.False(t, rl.Allow("ip:10.0.0.1", RouteClassAuth).Allowed)

	current = current.Add(time.Second)

	d := rl.Allow("ip:10.0.0.1", RouteClassAuth)
	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining, "fresh window restarts the count at one")
}

func TestRateLimiterAllow_ClassesIndependent(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(testRateLimitConfig(), securityevent.NopRecorder{}, logger.NewNop(),
		WithRateLimiterClock(func() time.Time { return current }))
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		rl.Allow("ip:10.0.0.1", RouteClassAuth)
	}
	require.False(t, rl.Allow("ip:10.0.0.1", RouteClassAuth).Allowed)

	// Same key, different class: separate budget.
	assert.True(t, rl.Allow("ip:10.0.0.1", RouteClassAPI).Allowed)
}

func TestRateLimiterAllow_UnknownClassFallsBackToGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), securityevent.NopRecorder{}, logger.NewNop())
	defer rl.Stop()

	d := rl.Allow("ip:10.0.0.1", RouteClass("bogus"))
	require.True(t, d.Allowed)
	assert.Equal(t, 100, d.Limit)
}

func TestRateLimiterCheck_RejectsWithHeaders(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := securityevent.NewMemoryRecorder(10)
	rl := NewRateLimiter(testRateLimitConfig(), events, logger.NewNop(),
		WithRateLimiterClock(func() time.Time { return current }))
	defer rl.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.9:4444"

	for i := 0; i < 3; i++ {
		v := rl.Check(req, RouteClassAuth)
		require.True(t, v.Allow)
		assert.Equal(t, "3", v.Headers["X-RateLimit-Limit"])
	}

	v := rl.Check(req, RouteClassAuth)
	require.False(t, v.Allow)
	require.NotNil(t, v.Reject)
	assert.Equal(t, http.StatusTooManyRequests, v.Reject.Status)
	assert.Equal(t, "0", v.Headers["X-RateLimit-Remaining"])
	assert.Equal(t, "1", v.Headers["Retry-After"])

	blocked := events.ByKind(securityevent.KindRateLimitExceeded)
	require.Len(t, blocked, 1)
	assert.Equal(t, "10.0.0.9", blocked[0].IP)
}

func TestRateLimiterCheck_KeyedByUserWhenAuthenticated(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), securityevent.NopRecorder{}, logger.NewNop())
	defer rl.Stop()

	// Two users behind the same IP do not share a budget.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-a"))
		require.True(t, rl.Check(req, RouteClassAuth).Allow)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-b"))
	assert.True(t, rl.Check(req, RouteClassAuth).Allow)
}
