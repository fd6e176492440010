package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

func newTestPipeline(t *testing.T, events securityevent.Recorder) *Pipeline {
	t.Helper()

	log := logger.NewNop()
	monitor := NewSecurityMonitor(config.MonitorConfig{
		Enabled:    true,
		Threshold:  10,
		ScoreTTL:   time.Hour,
		MaxEntries: 1000,
	}, events, log)
	sanitizer, err := NewInputSanitizer(testSanitizerConfig(), monitor, events, log)
	require.NoError(t, err)

	p := &Pipeline{
		RateLimiter: NewRateLimiter(testRateLimitConfig(), events, log),
		BruteForce:  NewBruteForceGuard(testBruteForceConfig(), events, log),
		Csrf: NewCsrfGuard(testCSRFConfig(), events, log,
			WithBearerValidator(func(r *http.Request) bool {
				return r.Header.Get("Authorization") == "Bearer good-token"
			})),
		Sanitizer: sanitizer,
		Monitor:   monitor,
	}
	t.Cleanup(p.Stop)
	return p
}

func echoHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}

func TestPipeline_AllowedRequestPassesAllStages(t *testing.T) {
	p := newTestPipeline(t, securityevent.NopRecorder{})
	handler := p.Middleware(RouteClassAPI)(echoHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", strings.NewReader(`{"name":"Jane"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Authorization", "Bearer good-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPipeline_MaliciousScannerRequest(t *testing.T) {
	// A sqlmap-style request with a bearer token and an XSS payload: the
	// CSRF handshake is skipped, the body is cleaned before the handler,
	// and the client's suspicion score rises.
	events := securityevent.NewMemoryRecorder(50)
	p := newTestPipeline(t, events)
	handler := p.Middleware(RouteClassAPI)(echoHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads",
		strings.NewReader(`{"name":"Jane","notes":"<script>alert(1)</script>"}`))
	req.RemoteAddr = "10.0.0.66:5555"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sqlmap/1.7")
	req.Header.Set("Authorization", "Bearer good-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Jane", payload["name"])
	assert.Equal(t, "", payload["notes"], "payload cleaned before the handler saw it")

	assert.Greater(t, p.Monitor.Score("10.0.0.66"), 0)
	assert.NotEmpty(t, events.ByKind(securityevent.KindSuspiciousPayload))
	assert.Empty(t, events.ByKind(securityevent.KindCSRFFailure), "bearer request skips the csrf handshake")
}

func TestPipeline_RateLimitRejectionShortCircuits(t *testing.T) {
	events := securityevent.NewMemoryRecorder(50)
	p := newTestPipeline(t, events)
	handler := p.Middleware(RouteClassAuth)(echoHandler(t))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.RemoteAddr = "10.0.0.5:1111"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])

	// The rejection happened before the sanitizer and monitor stages.
	assert.Equal(t, 0, p.Monitor.Score("10.0.0.5"))
}

func TestPipeline_BruteForceArmsOnlyOnAuthClass(t *testing.T) {
	log := logger.NewNop()
	rlCfg := testRateLimitConfig()
	rlCfg.Auth = config.RatePolicy{Window: time.Minute, Max: 100}
	p := &Pipeline{
		RateLimiter: NewRateLimiter(rlCfg, securityevent.NopRecorder{}, log),
		BruteForce:  NewBruteForceGuard(testBruteForceConfig(), securityevent.NopRecorder{}, log),
	}
	t.Cleanup(p.Stop)

	unauthorized := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	authHandler := p.Middleware(RouteClassAuth)(unauthorized)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.RemoteAddr = "10.0.0.8:1111"
		rec := httptest.NewRecorder()
		authHandler.ServeHTTP(rec, req)
	}

	// Sixth login attempt is locked out before the handler.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.RemoteAddr = "10.0.0.8:1111"
	rec := httptest.NewRecorder()
	authHandler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The same IP on a non-auth class is not subject to the lockout.
	apiHandler := p.Middleware(RouteClassAPI)(echoHandler(t))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/leads", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.RemoteAddr = "10.0.0.8:1111"
	rec = httptest.NewRecorder()
	apiHandler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_NilStagesSkipped(t *testing.T) {
	p := &Pipeline{}
	handler := p.Middleware(RouteClassGeneral)(echoHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestVerdictWithHeader(t *testing.T) {
	v := Allowed().WithHeader("X-A", "1").WithHeader("X-B", "2")
	assert.True(t, v.Allow)
	assert.Equal(t, map[string]string{"X-A": "1", "X-B": "2"}, v.Headers)

	r := Rejected(nil)
	assert.False(t, r.Allow)
}
