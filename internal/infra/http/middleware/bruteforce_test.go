package middleware

import (
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

func testBruteForceConfig() config.BruteForceConfig {
	return config.BruteForceConfig{
		Enabled:       true,
		MaxAttempts:   5,
		Window:        15 * time.Minute,
		BlockDuration: time.Hour,
	}
}

func TestBruteForceGuard_LockoutAfterMaxAttempts(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := securityevent.NewMemoryRecorder(10)
	g := NewBruteForceGuard(testBruteForceConfig(), events, logger.NewNop(),
		WithBruteForceClock(func() time.Time { return current }))
	defer g.Stop()

	for i := 0; i < 4; i++ {
		g.RecordAttempt("10.0.0.1")
		assert.False(t, g.Evaluate("10.0.0.1").Blocked, "attempt %d should not lock", i+1)
	}

	g.RecordAttempt("10.0.0.1")
	eval := g.Evaluate("10.0.0.1")
	require.True(t, eval.Blocked)
	assert.Equal(t, current.Add(time.Hour), eval.Until)

	require.Len(t, events.ByKind(securityevent.KindBruteForceAttempt), 1)
}

func TestBruteForceGuard_AttemptsOutsideWindowPruned(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewBruteForceGuard(testBruteForceConfig(), securityevent.NopRecorder{}, logger.NewNop(),
		WithBruteForceClock(func() time.Time { return current }))
	defer g.Stop()

	for i := 0; i < 4; i++ {
		g.RecordAttempt("10.0.0.1")
	}

	// The old attempts age out; four fresh ones still sit below the limit.
	current = current.Add(15 * time.Minute)
	for i := 0; i < 4; i++ {
		g.RecordAttempt("10.0.0.1")
	}
	assert.False(t, g.Evaluate("10.0.0.1").Blocked)
}

func TestBruteForceGuard_LockoutExpiryBoundary(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewBruteForceGuard(testBruteForceConfig(), securityevent.NopRecorder{}, logger.NewNop(),
		WithBruteForceClock(func() time.Time { return current }))
	defer g.Stop()

	for i := 0; i < 5; i++ {
		g.RecordAttempt("10.0.0.1")
	}
	require.True(t, g.Evaluate("10.0.0.1").Blocked)

	// One instant before expiry: still blocked.
	current = current.Add(time.Hour - time.Nanosecond)
	assert.True(t, g.Evaluate("10.0.0.1").Blocked)

	// Exactly at expiry: allowed, and accounting restarts from zero.
	current = current.Add(time.Nanosecond)
	assert.False(t, g.Evaluate("10.0.0.1").Blocked)

	g.RecordAttempt("10.0.0.1")
	assert.False(t, g.Evaluate("10.0.0.1").Blocked, "single failure after expiry must not re-lock")
}

func TestBruteForceGuard_CheckRejectsBlockedIP(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := securityevent.NewMemoryRecorder(10)
	g := NewBruteForceGuard(testBruteForceConfig(), events, logger.NewNop(),
		WithBruteForceClock(func() time.Time { return current }))
	defer g.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	require.True(t, g.Check(req).Allow)

	for i := 0; i < 5; i++ {
		g.RecordAttempt("10.0.0.1")
	}

	v := g.Check(req)
	require.False(t, v.Allow)
	assert.Equal(t, http.StatusTooManyRequests, v.Reject.Status)
	assert.Equal(t, "3600", v.Headers["Retry-After"])

	blocked := events.ByKind(securityevent.KindClientBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, "brute_force_lockout", blocked[0].Detail["reason"])
}

func TestBruteForceGuard_ObserveCountsOnly401(t *testing.T) {
	g := NewBruteForceGuard(testBruteForceConfig(), securityevent.NopRecorder{}, logger.NewNop())
	defer g.Stop()

	g.Observe("10.0.0.1", http.StatusOK)
	g.Observe("10.0.0.1", http.StatusForbidden)
	g.Observe("10.0.0.1", http.StatusInternalServerError)
	assert.False(t, g.Evaluate("10.0.0.1").Blocked)

	for i := 0; i < 5; i++ {
		g.Observe("10.0.0.1", http.StatusUnauthorized)
	}
	assert.True(t, g.Evaluate("10.0.0.1").Blocked)
}

func TestBruteForceGuard_IPsIndependent(t *testing.T) {
	g := NewBruteForceGuard(testBruteForceConfig(), securityevent.NopRecorder{}, logger.NewNop())
	defer g.Stop()

	for i := 0; i < 5; i++ {
		g.RecordAttempt("10.0.0.1")
	}
	assert.True(t, g.Evaluate("10.0.0.1").Blocked)
	assert.False(t, g.Evaluate("10.0.0.2").Blocked)
}
