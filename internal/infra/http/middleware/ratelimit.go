package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	redisinfra "github.com/bujinwang/agentOps-sub012/internal/infra/redis"
	"github.com/bujinwang/agentOps-sub012/internal/metrics"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// RouteClass names a group of endpoints sharing one rate limit policy.
type RouteClass string

// Route classes recognized by the limiter.
const (
	RouteClassGeneral RouteClass = "general"
	RouteClassAuth    RouteClass = "auth"
	RouteClassAPI     RouteClass = "api"
	RouteClassUpload  RouteClass = "upload"
	RouteClassAdmin   RouteClass = "admin"
)

// rateWindow is one live fixed window. Exactly one exists per key; it is
// replaced, never mutated back in time, when the window elapses.
type rateWindow struct {
	windowStart time.Time
	count       int
}

// RateLimiter is a fixed-window request counter keyed by (client key, route
// class). Windows live in memory; when a distributed store is attached the
// shared counter is consulted first and memory only serves as the fallback
// on store errors.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateWindow
	policies map[RouteClass]config.RatePolicy

	distributed *redisinfra.RateLimiter
	events      securityevent.Recorder
	log         *logger.Logger
	now         func() time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithDistributedStore attaches a Redis-backed shared window store.
func WithDistributedStore(store *redisinfra.RateLimiter) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.distributed = store
	}
}

// WithRateLimiterClock overrides the clock, for tests.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a rate limiter from per-class policies.
func NewRateLimiter(cfg config.RateLimitConfig, events securityevent.Recorder, log *logger.Logger, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*rateWindow),
		policies: map[RouteClass]config.RatePolicy{
			RouteClassGeneral: cfg.General,
			RouteClassAuth:    cfg.Auth,
			RouteClassAPI:     cfg.API,
			RouteClassUpload:  cfg.Upload,
			RouteClassAdmin:   cfg.Admin,
		},
		events:  events,
		log:     log.With("component", "ratelimit"),
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.cleanupWindows()

	return rl
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
	<-rl.stopped
}

// Policy returns the policy for a route class, falling back to general.
func (rl *RateLimiter) Policy(class RouteClass) config.RatePolicy {
	if p, ok := rl.policies[class]; ok {
		return p
	}
	return rl.policies[RouteClassGeneral]
}

// Decision is the outcome of counting one request against a window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Allow counts one request for key under the given route class policy.
// Fixed-window semantics: the first request in a window sets count to 1;
// requests beyond the policy max are rejected until the window elapses.
func (rl *RateLimiter) Allow(key string, class RouteClass) Decision {
	policy := rl.Policy(class)
	now := rl.now()
	mapKey := string(class) + ":" + key

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.windows == nil {
		// Lost state defaults to allow; over-blocking on an internal
		// fault is the worse failure mode.
		rl.log.Error("rate limit window store missing, allowing request", "key", mapKey)
		return Decision{Allowed: true, Limit: policy.Max, Remaining: policy.Max - 1, ResetAt: now.Add(policy.Window)}
	}

	w, ok := rl.windows[mapKey]
	if !ok || now.Sub(w.windowStart) >= policy.Window {
		rl.windows[mapKey] = &rateWindow{windowStart: now, count: 1}
		return Decision{
			Allowed:   true,
			Limit:     policy.Max,
			Remaining: policy.Max - 1,
			ResetAt:   now.Add(policy.Window),
		}
	}

	w.count++
	resetAt := w.windowStart.Add(policy.Window)
	if w.count > policy.Max {
		return Decision{
			Allowed:    false,
			Limit:      policy.Max,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max - w.count,
		ResetAt:   resetAt,
	}
}

// cleanupWindows drops windows that elapsed more than one window ago.
func (rl *RateLimiter) cleanupWindows() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(rl.stopped)

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			now := rl.now()
			longest := rl.longestWindow()
			rl.mu.Lock()
			for key, w := range rl.windows {
				if now.Sub(w.windowStart) >= 2*longest {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) longestWindow() time.Duration {
	longest := time.Minute
	for _, p := range rl.policies {
		if p.Window > longest {
			longest = p.Window
		}
	}
	return longest
}

// Check counts the request against its route class budget. The client key
// is the authenticated user when present, the client IP otherwise. Budget
// headers ride on the verdict either way.
func (rl *RateLimiter) Check(r *http.Request, class RouteClass) Verdict {
	key := clientKey(r)
	decision := rl.decide(r, key, class)

	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		rl.log.Warn("rate limit exceeded",
			"key", key,
			"class", string(class),
			"retry_after", decision.RetryAfter,
			"request_id", GetRequestID(r.Context()),
		)
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(class)).Inc()
		metrics.PipelineVerdictsTotal.WithLabelValues("ratelimit", "reject").Inc()
		rl.events.Record(securityevent.New(
			securityevent.KindRateLimitExceeded,
			getClientIP(r), r.URL.Path, r.Method,
			map[string]any{"class": string(class), "retry_after_s": retryAfter},
		))

		return Rejected(apierror.RateLimitExceeded()).
			WithHeader("X-RateLimit-Limit", strconv.Itoa(decision.Limit)).
			WithHeader("X-RateLimit-Remaining", "0").
			WithHeader("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10)).
			WithHeader("Retry-After", strconv.Itoa(retryAfter))
	}

	return Allowed().
		WithHeader("X-RateLimit-Limit", strconv.Itoa(decision.Limit)).
		WithHeader("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining)).
		WithHeader("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// decide consults the distributed store when attached and falls back to the
// in-memory window on any store error (fail-open toward local accounting,
// never toward unlimited traffic).
func (rl *RateLimiter) decide(r *http.Request, key string, class RouteClass) Decision {
	if rl.distributed == nil {
		return rl.Allow(key, class)
	}

	policy := rl.Policy(class)
	shared, err := rl.distributed.Allow(r.Context(), string(class)+":"+key, policy.Window, policy.Max)
	if err != nil {
		metrics.RedisRateLimitErrorsTotal.Inc()
		rl.log.Error("distributed rate limit check failed, using in-memory fallback",
			"error", err,
			"key", key,
			"request_id", GetRequestID(r.Context()),
		)
		return rl.Allow(key, class)
	}

	return Decision{
		Allowed:    shared.Allowed,
		Limit:      policy.Max,
		Remaining:  shared.Remaining,
		RetryAfter: shared.RetryAfter,
		ResetAt:    rl.now().Add(shared.RetryAfter),
	}
}

// clientKey combines authenticated identity with client IP so one user
// cannot consume another's budget from behind a shared NAT.
func clientKey(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + getClientIP(r)
}
