package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/metrics"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// csrfSecret is one session's signing key.
type csrfSecret struct {
	key       []byte
	expiresAt time.Time
}

// CsrfGuard implements stateful CSRF protection. Each session gets a random
// secret; the token is the deterministic HMAC-SHA256 of the session ID under
// that secret, so the same session always re-derives the same token and no
// wall-clock time enters the derivation. Verification recomputes the HMAC
// and compares in constant time after an explicit length check.
type CsrfGuard struct {
	cfg config.CSRFConfig

	mu      sync.Mutex
	secrets map[string]*csrfSecret

	bearerOK func(r *http.Request) bool
	events   securityevent.Recorder
	log      *logger.Logger
	now      func() time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// CsrfOption configures a CsrfGuard.
type CsrfOption func(*CsrfGuard)

// WithBearerValidator supplies the check that lets token-authenticated API
// calls skip the cookie handshake.
func WithBearerValidator(fn func(r *http.Request) bool) CsrfOption {
	return func(g *CsrfGuard) {
		g.bearerOK = fn
	}
}

// WithCsrfClock overrides the clock, for tests.
func WithCsrfClock(now func() time.Time) CsrfOption {
	return func(g *CsrfGuard) {
		g.now = now
	}
}

// NewCsrfGuard creates a CSRF guard from policy.
func NewCsrfGuard(cfg config.CSRFConfig, events securityevent.Recorder, log *logger.Logger, opts ...CsrfOption) *CsrfGuard {
	g := &CsrfGuard{
		cfg:     cfg,
		secrets: make(map[string]*csrfSecret),
		events:  events,
		log:     log.With("component", "csrf"),
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	go g.cleanupSecrets()

	return g
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (g *CsrfGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
	<-g.stopped
}

// EnsureSecret returns the session's signing key, creating one on first use.
func (g *CsrfGuard) EnsureSecret(sessionID string) ([]byte, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.secrets[sessionID]; ok && now.Before(s.expiresAt) {
		return s.key, nil
	}

	key := make([]byte, g.cfg.SecretLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	g.secrets[sessionID] = &csrfSecret{key: key, expiresAt: now.Add(g.cfg.SecretTTL)}
	return key, nil
}

// Token derives the CSRF token for a session. Re-issuing for the same live
// session always yields the same token.
func (g *CsrfGuard) Token(sessionID string) (string, error) {
	key, err := g.EnsureSecret(sessionID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a presented token against the session's expected token.
// Length is compared first; the byte comparison itself is constant time.
func (g *CsrfGuard) Verify(sessionID, token string) bool {
	g.mu.Lock()
	s, ok := g.secrets[sessionID]
	if ok && !g.now().Before(s.expiresAt) {
		delete(g.secrets, sessionID)
		ok = false
	}
	g.mu.Unlock()
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(sessionID))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	if len(token) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// Revoke drops a session's secret, e.g. on logout.
func (g *CsrfGuard) Revoke(sessionID string) {
	g.mu.Lock()
	delete(g.secrets, sessionID)
	g.mu.Unlock()
}

// IssueCookie derives the session token and sets it in a cookie readable by
// frontend JavaScript for the double-submit handshake.
func (g *CsrfGuard) IssueCookie(w http.ResponseWriter, sessionID string) (string, error) {
	token, err := g.Token(sessionID)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.cfg.SecretTTL.Seconds()),
		Secure:   g.cfg.CookieSecure,
		HttpOnly: false, // must be readable by JavaScript
		SameSite: parseSameSite(g.cfg.CookieSameSite),
	})
	return token, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// cleanupSecrets evicts expired session secrets.
func (g *CsrfGuard) cleanupSecrets() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	defer close(g.stopped)

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			now := g.now()
			g.mu.Lock()
			for id, s := range g.secrets {
				if !now.Before(s.expiresAt) {
					delete(g.secrets, id)
				}
			}
			g.mu.Unlock()
		}
	}
}

// exempt reports whether the request skips CSRF verification entirely:
// safe methods, explicitly exempt paths, and bearer-authenticated API calls.
func (g *CsrfGuard) exempt(r *http.Request) bool {
	if isSafeMethod(r.Method) {
		return true
	}
	for _, p := range g.cfg.ExemptPaths {
		if r.URL.Path == p {
			return true
		}
	}
	if g.cfg.APIPathPrefix != "" && strings.HasPrefix(r.URL.Path, g.cfg.APIPathPrefix) &&
		g.bearerOK != nil && g.bearerOK(r) {
		return true
	}
	return false
}

// Check validates the CSRF token on state-changing requests. The token
// arrives in the configured header; the session is identified by its cookie.
func (g *CsrfGuard) Check(r *http.Request) Verdict {
	if g.exempt(r) {
		return Allowed()
	}

	sessionCookie, err := r.Cookie(g.cfg.SessionCookie)
	if err != nil || sessionCookie.Value == "" {
		return g.reject(r, "missing_session", "Session required")
	}

	token := r.Header.Get(g.cfg.HeaderName)
	if token == "" {
		return g.reject(r, "missing_token", "CSRF token missing")
	}

	if !g.Verify(sessionCookie.Value, token) {
		return g.reject(r, "token_mismatch", "Invalid CSRF token")
	}

	return Allowed()
}

func (g *CsrfGuard) reject(r *http.Request, reason, message string) Verdict {
	g.log.Warn("csrf verification failed",
		"reason", reason,
		"path", r.URL.Path,
		"ip", getClientIP(r),
		"request_id", GetRequestID(r.Context()),
	)
	metrics.CSRFFailuresTotal.WithLabelValues(reason).Inc()
	metrics.PipelineVerdictsTotal.WithLabelValues("csrf", "reject").Inc()
	g.events.Record(securityevent.New(
		securityevent.KindCSRFFailure,
		getClientIP(r), r.URL.Path, r.Method,
		map[string]any{"reason": reason},
	))
	return Rejected(apierror.CSRFInvalid(message))
}

// isSafeMethod returns true if the HTTP method is safe (doesn't modify state).
func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
