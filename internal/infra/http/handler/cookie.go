package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
)

// CookieConfig holds cookie configuration for authentication.
type CookieConfig struct {
	Secure                 bool
	Domain                 string
	SameSite               http.SameSite
	Path                   string
	RefreshTokenCookieName string
	SessionCookieName      string
}

// NewCookieConfig derives cookie settings from the auth and CSRF config. The
// session cookie name must match what the CSRF guard reads, so it comes from
// the CSRF policy rather than a second knob.
func NewCookieConfig(auth config.AuthConfig, csrf config.CSRFConfig) CookieConfig {
	sameSite := http.SameSiteLaxMode
	switch strings.ToLower(auth.CookieSameSite) {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}

	refreshName := auth.RefreshCookieName
	if refreshName == "" {
		refreshName = "refresh_token"
	}
	sessionName := csrf.SessionCookie
	if sessionName == "" {
		sessionName = "session_id"
	}

	return CookieConfig{
		Secure:                 auth.CookieSecure,
		Domain:                 auth.CookieDomain,
		SameSite:               sameSite,
		Path:                   "/", // root so frontend can clear cookies
		RefreshTokenCookieName: refreshName,
		SessionCookieName:      sessionName,
	}
}

// SetRefreshTokenCookie sets the refresh token in an httpOnly cookie.
// This is more secure than storing in localStorage as it prevents XSS attacks.
func SetRefreshTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.RefreshTokenCookieName,
		Value:    token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		Secure:   cfg.Secure,
		HttpOnly: true, // Prevents JavaScript access - XSS protection
		SameSite: cfg.SameSite,
	})
}

// ClearRefreshTokenCookie removes the refresh token cookie.
func ClearRefreshTokenCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.RefreshTokenCookieName,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSite,
	})
}

// GetRefreshTokenFromCookie extracts the refresh token from the httpOnly cookie.
func GetRefreshTokenFromCookie(r *http.Request, cfg CookieConfig) string {
	cookie, err := r.Cookie(cfg.RefreshTokenCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetSessionCookie sets the session identifier cookie the CSRF guard keys on.
func SetSessionCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.SessionCookieName,
		Value:    sessionID,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSite,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.SessionCookieName,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSite,
	})
}
