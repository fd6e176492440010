package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/pkg/jwt"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/password"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
	"github.com/bujinwang/agentOps-sub012/pkg/validator"
)

func newTestAuthHandler(t *testing.T) *AuthHandler {
	t.Helper()

	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:               "test-secret-at-least-32-bytes-long!",
		Issuer:               "agentops-test",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 24 * time.Hour,
	})

	csrf := middleware.NewCsrfGuard(config.CSRFConfig{
		Enabled:       true,
		SecretLength:  32,
		HeaderName:    "X-CSRF-Token",
		CookieName:    "csrf_token",
		SessionCookie: "session_id",
		SecretTTL:     time.Hour,
	}, securityevent.NopRecorder{}, logger.NewNop())
	t.Cleanup(csrf.Stop)

	cookies := NewCookieConfig(config.AuthConfig{
		RefreshCookieName: "refresh_token",
	}, config.CSRFConfig{
		SessionCookie: "session_id",
	})

	return NewAuthHandler(tokens, csrf, cookies, validator.New(), logger.NewNop())
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid registration",
			body:       `{"email": "ada@example.com", "name": "Ada", "password": "Sup3rSecret"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "password too short",
			body:       `{"email": "ada@example.com", "name": "Ada", "password": "Ab1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "password missing uppercase",
			body:       `{"email": "ada@example.com", "name": "Ada", "password": "weakpassword1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid email",
			body:       `{"email": "nope", "name": "Ada", "password": "Sup3rSecret"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{invalid}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthHandler_Register_DuplicateEmail(t *testing.T) {
	h := newTestAuthHandler(t)
	body := `{"email": "ada@example.com", "name": "Ada", "password": "Sup3rSecret"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.Register(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthHandler_Login(t *testing.T) {
	h := newTestAuthHandler(t)
	_, err := h.Seed("ada@example.com", "Ada", "Sup3rSecret", "user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "ada@example.com", "password": "Sup3rSecret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.CSRFToken)
	assert.Equal(t, "ada@example.com", resp.User.Email)

	names := make(map[string]bool)
	for _, c := range rec.Result().Cookies() {
		names[c.Name] = true
	}
	assert.True(t, names["refresh_token"], "refresh cookie should be set")
	assert.True(t, names["session_id"], "session cookie should be set")
	assert.True(t, names["csrf_token"], "csrf cookie should be set")
}

func TestAuthHandler_Login_UpgradesStaleHash(t *testing.T) {
	h := newTestAuthHandler(t)

	// An account carried over from before the cost factor was raised.
	stale, err := password.New(password.WithCost(bcrypt.MinCost)).Hash("Sup3rSecret")
	require.NoError(t, err)
	h.accounts["ada@example.com"] = &account{
		ID:           "user-1",
		Email:        "ada@example.com",
		Name:         "Ada",
		Role:         "user",
		PasswordHash: stale,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "ada@example.com", "password": "Sup3rSecret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := h.accounts["ada@example.com"].PasswordHash
	assert.NotEqual(t, stale, stored)
	cost, err := bcrypt.Cost([]byte(stored))
	require.NoError(t, err)
	assert.Equal(t, password.DefaultCost, cost)
	assert.NoError(t, h.hasher.Verify("Sup3rSecret", stored))
}

func TestAuthHandler_Login_KeepsCurrentHash(t *testing.T) {
	h := newTestAuthHandler(t)
	_, err := h.Seed("ada@example.com", "Ada", "Sup3rSecret", "user")
	require.NoError(t, err)
	before := h.accounts["ada@example.com"].PasswordHash

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "ada@example.com", "password": "Sup3rSecret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before, h.accounts["ada@example.com"].PasswordHash)
}

func TestAuthHandler_Login_WrongPassword(t *testing.T) {
	h := newTestAuthHandler(t)
	_, err := h.Seed("ada@example.com", "Ada", "Sup3rSecret", "user")
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{name: "wrong password", body: `{"email": "ada@example.com", "password": "WrongPass1"}`},
		{name: "unknown account", body: `{"email": "ghost@example.com", "password": "Sup3rSecret"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)

			// Identical response for both failure modes.
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	h := newTestAuthHandler(t)
	_, err := h.Seed("ada@example.com", "Ada", "Sup3rSecret", "user")
	require.NoError(t, err)

	loginReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email": "ada@example.com", "password": "Sup3rSecret"}`))
	loginRec := httptest.NewRecorder()
	h.Login(loginRec, loginReq)
	require.Equal(t, http.StatusOK, loginRec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	for _, c := range loginRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthHandler_Refresh_MissingCookie(t *testing.T) {
	h := newTestAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	h := newTestAuthHandler(t)
	userID, err := h.Seed("ada@example.com", "Ada", "Sup3rSecret", "user")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, userID, resp.ID)
	assert.Equal(t, "ada@example.com", resp.Email)
}

func TestAuthHandler_Me_Unauthenticated(t *testing.T) {
	h := newTestAuthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	h := newTestAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "some-session"})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cleared := 0
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared++
		}
	}
	assert.Equal(t, 2, cleared, "refresh and session cookies should be cleared")
}
