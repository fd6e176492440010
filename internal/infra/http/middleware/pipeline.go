package middleware

import (
	"net/http"

	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
)

// Verdict is the outcome of one pipeline stage: pass the request on, or
// terminate it with the given error. Headers are applied to the response
// either way, so budget headers reach the client on allowed requests too.
type Verdict struct {
	Allow   bool
	Reject  *apierror.Error
	Headers map[string]string
}

// Allowed builds a passing verdict.
func Allowed() Verdict {
	return Verdict{Allow: true}
}

// Rejected builds a terminal verdict.
func Rejected(err *apierror.Error) Verdict {
	return Verdict{Reject: err}
}

// WithHeader attaches a response header to the verdict.
func (v Verdict) WithHeader(key, value string) Verdict {
	if v.Headers == nil {
		v.Headers = make(map[string]string, 4)
	}
	v.Headers[key] = value
	return v
}

// Pipeline composes the security stages in their mandated order:
// SecurityHeaders -> RateLimiter -> BruteForceGuard -> CsrfGuard ->
// InputSanitizer -> SecurityMonitor. The orchestrator inspects each stage's
// verdict; the first rejection is written out and all later stages are
// skipped. Stages left nil are not consulted.
type Pipeline struct {
	RateLimiter *RateLimiter
	BruteForce  *BruteForceGuard
	Csrf        *CsrfGuard
	Sanitizer   *InputSanitizer
	Monitor     *SecurityMonitor

	HSTSEnabled bool
}

// Middleware returns the full pipeline for one route class. The brute-force
// guard only arms on the auth class; volume throttling is the rate
// limiter's job everywhere else.
func (p *Pipeline) Middleware(class RouteClass) func(http.Handler) http.Handler {
	headers := SecurityHeadersWithConfig(SecurityHeadersConfig{HSTSEnabled: p.HSTSEnabled})

	return func(next http.Handler) http.Handler {
		guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p.RateLimiter != nil {
				if done := p.apply(w, r, p.RateLimiter.Check(r, class)); done {
					return
				}
			}
			if p.BruteForce != nil && class == RouteClassAuth {
				if done := p.apply(w, r, p.BruteForce.Check(r)); done {
					return
				}
			}
			if p.Csrf != nil {
				if done := p.apply(w, r, p.Csrf.Check(r)); done {
					return
				}
			}
			if p.Sanitizer != nil {
				if done := p.apply(w, r, p.Sanitizer.Check(r)); done {
					return
				}
			}
			if p.Monitor != nil {
				if done := p.apply(w, r, p.Monitor.Check(r)); done {
					return
				}
			}

			// Response-status observations feed the failure-pattern
			// guards after the handler runs.
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			ip := getClientIP(r)
			if p.BruteForce != nil && class == RouteClassAuth {
				p.BruteForce.Observe(ip, wrapped.statusCode)
			}
			if p.Monitor != nil {
				p.Monitor.Observe(ip, wrapped.statusCode, r)
			}
		})

		return headers(guarded)
	}
}

// apply writes the verdict's headers and, on rejection, the terminal
// response. Returns true when the request is finished.
func (p *Pipeline) apply(w http.ResponseWriter, r *http.Request, v Verdict) bool {
	for key, value := range v.Headers {
		w.Header().Set(key, value)
	}
	if v.Allow {
		return false
	}
	v.Reject.WriteJSONWithRequestID(w, GetRequestID(r.Context()))
	return true
}

// Stop shuts down every stage's background goroutine. Safe to call once at
// server shutdown.
func (p *Pipeline) Stop() {
	if p.RateLimiter != nil {
		p.RateLimiter.Stop()
	}
	if p.BruteForce != nil {
		p.BruteForce.Stop()
	}
	if p.Csrf != nil {
		p.Csrf.Stop()
	}
	if p.Monitor != nil {
		p.Monitor.Stop()
	}
}
