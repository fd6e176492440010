package handler

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/jwt"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/password"
	"github.com/bujinwang/agentOps-sub012/pkg/validator"
)

// account is one registered user. Accounts live in memory; this service
// fronts the security pipeline, not a user database.
type account struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
}

// AuthHandler handles login, registration, token refresh and logout.
type AuthHandler struct {
	mu       sync.RWMutex
	accounts map[string]*account // keyed by email

	tokens    *jwt.Generator
	csrf      *middleware.CsrfGuard
	hasher    *password.Hasher
	validator *validator.Validator
	cookies   CookieConfig
	logger    *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(tokens *jwt.Generator, csrf *middleware.CsrfGuard, cookies CookieConfig, v *validator.Validator, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:  make(map[string]*account),
		tokens:    tokens,
		csrf:      csrf,
		hasher:    password.New(),
		validator: v,
		cookies:   cookies,
		logger:    log.With("component", "auth_handler"),
	}
}

// RegisterRequest represents the request to create an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest represents a login attempt.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// TokenResponse represents issued credentials.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	CSRFToken   string       `json:"csrf_token,omitempty"`
	User        UserResponse `json:"user"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}
	if err := h.hasher.Validate(req.Password); err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("password hashing failed", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	acct := &account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		Role:         "user",
		PasswordHash: hash,
	}

	h.mu.Lock()
	if _, exists := h.accounts[req.Email]; exists {
		h.mu.Unlock()
		apierror.Conflict("Account already exists").WriteJSON(w)
		return
	}
	h.accounts[req.Email] = acct
	h.mu.Unlock()

	h.logger.Info("account registered", "user_id", acct.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(acct))
}

// Login handles POST /api/v1/auth/login. A successful login starts a
// session: bearer tokens in the body, refresh and session cookies on the
// response, and a CSRF token derived for the new session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	h.mu.RLock()
	acct, ok := h.accounts[req.Email]
	h.mu.RUnlock()

	if !ok || h.hasher.Verify(req.Password, acct.PasswordHash) != nil {
		// Same response either way; do not leak which accounts exist.
		apierror.Unauthorized("Invalid credentials").WriteJSON(w)
		return
	}

	// Upgrade hashes stored at an older cost factor while we still hold
	// the plaintext.
	if h.hasher.NeedsRehash(acct.PasswordHash) {
		if hash, err := h.hasher.Hash(req.Password); err == nil {
			h.mu.Lock()
			acct.PasswordHash = hash
			h.mu.Unlock()
		} else {
			h.logger.Warn("password rehash failed", "error", err, "user_id", acct.ID)
		}
	}

	sessionID := uuid.New().String()
	pair, err := h.tokens.GenerateTokenPair(acct.ID, sessionID, acct.Role)
	if err != nil {
		h.logger.Error("token generation failed", "error", err, "user_id", acct.ID)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	refreshExpiry := time.Now().Add(h.tokens.RefreshTokenDuration())
	SetRefreshTokenCookie(w, pair.RefreshToken, refreshExpiry, h.cookies)
	SetSessionCookie(w, sessionID, refreshExpiry, h.cookies)

	csrfToken := ""
	if h.csrf != nil {
		csrfToken, err = h.csrf.IssueCookie(w, sessionID)
		if err != nil {
			h.logger.Error("csrf token issuance failed", "error", err, "user_id", acct.ID)
			apierror.InternalError(err).WriteJSON(w)
			return
		}
	}

	h.logger.Info("login succeeded", "user_id", acct.ID)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.ExpiresAt,
		CSRFToken:   csrfToken,
		User:        toUserResponse(acct),
	})
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token comes from
// the httpOnly cookie; the rotated pair keeps the same session so the CSRF
// token stays valid.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := GetRefreshTokenFromCookie(r, h.cookies)
	if refreshToken == "" {
		apierror.Unauthorized("Refresh token required").WriteJSON(w)
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			apierror.Unauthorized("Refresh token expired").WriteJSON(w)
			return
		}
		apierror.Unauthorized("Invalid refresh token").WriteJSON(w)
		return
	}

	pair, err := h.tokens.GenerateTokenPair(claims.UserID, claims.SessionID, claims.Role)
	if err != nil {
		h.logger.Error("token rotation failed", "error", err, "user_id", claims.UserID)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	refreshExpiry := time.Now().Add(h.tokens.RefreshTokenDuration())
	SetRefreshTokenCookie(w, pair.RefreshToken, refreshExpiry, h.cookies)

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.ExpiresAt,
		User:        UserResponse{ID: claims.UserID, Role: claims.Role},
	})
}

// Logout handles POST /api/v1/auth/logout. Clears cookies and revokes the
// session's CSRF secret.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookies.SessionCookieName); err == nil && h.csrf != nil {
		h.csrf.Revoke(cookie.Value)
	}

	ClearRefreshTokenCookie(w, h.cookies)
	ClearSessionCookie(w, h.cookies)

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me handles GET /api/v1/auth/me for the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, acct := range h.accounts {
		if acct.ID == userID {
			writeJSON(w, http.StatusOK, toUserResponse(acct))
			return
		}
	}
	apierror.NotFound("User").WriteJSON(w)
}

// CsrfToken handles GET /api/v1/auth/csrf. Re-derives the session's token
// so page reloads can recover it without a fresh login.
func (h *AuthHandler) CsrfToken(w http.ResponseWriter, r *http.Request) {
	if h.csrf == nil {
		apierror.NotFound("CSRF").WriteJSON(w)
		return
	}

	cookie, err := r.Cookie(h.cookies.SessionCookieName)
	if err != nil || cookie.Value == "" {
		apierror.Unauthorized("Session required").WriteJSON(w)
		return
	}

	token, err := h.csrf.IssueCookie(w, cookie.Value)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// Seed registers an account directly, bypassing the HTTP surface. Used by
// tests and the dev seed command.
func (h *AuthHandler) Seed(email, name, plaintext, role string) (string, error) {
	hash, err := h.hasher.Hash(plaintext)
	if err != nil {
		return "", err
	}
	acct := &account{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
	}
	h.mu.Lock()
	h.accounts[email] = acct
	h.mu.Unlock()
	return acct.ID, nil
}

func toUserResponse(a *account) UserResponse {
	return UserResponse{
		ID:    a.ID,
		Email: a.Email,
		Name:  a.Name,
		Role:  a.Role,
	}
}
