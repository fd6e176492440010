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

func testSanitizerConfig() config.SanitizerConfig {
	return config.SanitizerConfig{
		Enabled:      true,
		MaxLength:    10000,
		MaxKeyLength: 100,
		SkipFields:   []string{"password", "token"},
	}
}

func newTestSanitizer(t *testing.T, cfg config.SanitizerConfig, events securityevent.Recorder, monitor *SecurityMonitor) *InputSanitizer {
	t.Helper()
	s, err := NewInputSanitizer(cfg, monitor, events, logger.NewNop())
	require.NoError(t, err)
	return s
}

func jsonRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestInputSanitizer_CleansJSONBody(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/leads",
		`{"name":"Jane","notes":"<script>alert(1)</script>Call back"}`)

	v := s.Check(req)
	require.True(t, v.Allow)

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "Jane", payload["name"])
	assert.Equal(t, "Call back", payload["notes"])
	assert.Equal(t, int64(len(raw)), req.ContentLength)
}

func TestInputSanitizer_SkipFieldsUntouched(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"jane@example.com","password":"<'weird&pass>"}`)

	require.True(t, s.Check(req).Allow)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
	assert.Equal(t, "<'weird&pass>", payload["password"])
}

func TestInputSanitizer_CleansQueryString(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads?q=%3Cscript%3Ealert(1)%3C/script%3Eroof", nil)
	require.True(t, s.Check(req).Allow)

	assert.Equal(t, "roof", req.URL.Query().Get("q"))
}

func TestInputSanitizer_MalformedJSONPassesThrough(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	body := `{"name": not-json`
	req := jsonRequest(t, http.MethodPost, "/api/v1/leads", body)

	require.True(t, s.Check(req).Allow, "decode failures fail open")

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw), "body reaches the handler unmodified")
}

func TestInputSanitizer_EmptyBodyAllowed(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/leads", "")
	assert.True(t, s.Check(req).Allow)
}

func TestInputSanitizer_OversizedBodyRejected(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/leads", `{"notes":"`+strings.Repeat("a", 100)+`"}`)
	req.Body = io.NopCloser(http.MaxBytesReader(nil, req.Body, 10))

	v := s.Check(req)
	require.False(t, v.Allow)
	assert.Equal(t, http.StatusRequestEntityTooLarge, v.Reject.Status)
}

func TestInputSanitizer_BlockOnIssue(t *testing.T) {
	cfg := testSanitizerConfig()
	cfg.BlockOnIssue = true
	events := securityevent.NewMemoryRecorder(10)
	s := newTestSanitizer(t, cfg, events, nil)

	req := jsonRequest(t, http.MethodPost, "/api/v1/leads",
		`{"q":"1' OR '1'='1"}`)

	v := s.Check(req)
	require.False(t, v.Allow)
	assert.Equal(t, http.StatusBadRequest, v.Reject.Status)

	require.Len(t, events.ByKind(securityevent.KindSuspiciousPayload), 1)
}

func TestInputSanitizer_FindingsRaiseSuspicion(t *testing.T) {
	monitor := NewSecurityMonitor(config.MonitorConfig{
		Enabled:    true,
		Threshold:  10,
		ScoreTTL:   time.Hour,
		MaxEntries: 100,
	}, securityevent.NopRecorder{}, logger.NewNop())
	defer monitor.Stop()

	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, monitor)

	req := jsonRequest(t, http.MethodPost, "/api/v1/leads",
		`{"notes":"<script>alert(1)</script>"}`)
	req.RemoteAddr = "10.0.0.7:3333"

	require.True(t, s.Check(req).Allow, "blocking disabled, cleaned request proceeds")
	assert.Greater(t, monitor.Score("10.0.0.7"), 0)
}

func TestInputSanitizer_NonJSONContentTypeSkipsBody(t *testing.T) {
	s := newTestSanitizer(t, testSanitizerConfig(), securityevent.NopRecorder{}, nil)

	body := "<script>alert(1)</script>"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")

	require.True(t, s.Check(req).Allow)

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
}
