package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/metrics"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// bruteForceRecord tracks failed attempts for one IP. Attempts older than
// the window are pruned on every touch; blockedUntil is zero unless a
// lockout is active.
type bruteForceRecord struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// Evaluation is the outcome of checking an IP against the guard.
type Evaluation struct {
	Blocked bool
	Until   time.Time
}

// BruteForceGuard is a sliding-window failed-attempt counter with temporary
// IP lockout. The guard does not decide what a failure is; callers invoke
// RecordAttempt after observing one. State machine per IP:
// Normal -> (attempts >= max within window) -> Blocked -> (now >= blockedUntil) -> Normal.
type BruteForceGuard struct {
	mu      sync.Mutex
	records map[string]*bruteForceRecord

	maxAttempts   int
	window        time.Duration
	blockDuration time.Duration

	events securityevent.Recorder
	log    *logger.Logger
	now    func() time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// BruteForceOption configures a BruteForceGuard.
type BruteForceOption func(*BruteForceGuard)

// WithBruteForceClock overrides the clock, for tests.
func WithBruteForceClock(now func() time.Time) BruteForceOption {
	return func(g *BruteForceGuard) {
		g.now = now
	}
}

// NewBruteForceGuard creates a guard from policy.
func NewBruteForceGuard(cfg config.BruteForceConfig, events securityevent.Recorder, log *logger.Logger, opts ...BruteForceOption) *BruteForceGuard {
	g := &BruteForceGuard{
		records:       make(map[string]*bruteForceRecord),
		maxAttempts:   cfg.MaxAttempts,
		window:        cfg.Window,
		blockDuration: cfg.BlockDuration,
		events:        events,
		log:           log.With("component", "bruteforce"),
		now:           time.Now,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	go g.cleanupRecords()

	return g
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (g *BruteForceGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
	<-g.stopped
}

// Evaluate reports whether an IP is currently locked out. A lockout that
// expired exactly now counts as expired; expiry clears the record so a
// subsequent failure restarts accounting from zero.
func (g *BruteForceGuard) Evaluate(ip string) Evaluation {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok {
		return Evaluation{}
	}

	if !rec.blockedUntil.IsZero() {
		if now.Before(rec.blockedUntil) {
			return Evaluation{Blocked: true, Until: rec.blockedUntil}
		}
		delete(g.records, ip)
	}
	return Evaluation{}
}

// RecordAttempt registers one failed attempt for an IP, pruning attempts
// that fell out of the sliding window first. Reaching maxAttempts imposes
// the lockout and emits a brute-force event.
func (g *BruteForceGuard) RecordAttempt(ip string) {
	now := g.now()

	g.mu.Lock()
	rec, ok := g.records[ip]
	if !ok {
		rec = &bruteForceRecord{}
		g.records[ip] = rec
	}

	kept := rec.attempts[:0]
	for _, t := range rec.attempts {
		if now.Sub(t) < g.window {
			kept = append(kept, t)
		}
	}
	rec.attempts = append(kept, now)

	blocked := len(rec.attempts) >= g.maxAttempts
	var until time.Time
	if blocked {
		until = now.Add(g.blockDuration)
		rec.blockedUntil = until
		rec.attempts = nil
	}
	attempts := len(rec.attempts)
	g.mu.Unlock()

	if blocked {
		g.log.Warn("brute force lockout imposed",
			"ip", ip,
			"blocked_until", until,
		)
		metrics.BruteForceBlocksTotal.Inc()
		g.events.Record(securityevent.New(
			securityevent.KindBruteForceAttempt,
			ip, "", "",
			map[string]any{"blocked_until": until},
		))
		return
	}

	g.log.Debug("auth failure recorded", "ip", ip, "attempts", attempts)
}

// cleanupRecords drops records whose lockout expired and whose attempts all
// fell out of the window.
func (g *BruteForceGuard) cleanupRecords() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(g.stopped)

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			now := g.now()
			g.mu.Lock()
			for ip, rec := range g.records {
				if !rec.blockedUntil.IsZero() && now.Before(rec.blockedUntil) {
					continue
				}
				stale := true
				for _, t := range rec.attempts {
					if now.Sub(t) < g.window {
						stale = false
						break
					}
				}
				if stale {
					delete(g.records, ip)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Check rejects requests from locked-out IPs with 429 and a Retry-After
// header. Everything else passes; failures are reported through Observe.
func (g *BruteForceGuard) Check(r *http.Request) Verdict {
	ip := getClientIP(r)

	eval := g.Evaluate(ip)
	if !eval.Blocked {
		return Allowed()
	}

	retryAfter := int(eval.Until.Sub(g.now()).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	metrics.PipelineVerdictsTotal.WithLabelValues("bruteforce", "reject").Inc()
	g.events.Record(securityevent.New(
		securityevent.KindClientBlocked,
		ip, r.URL.Path, r.Method,
		map[string]any{"reason": "brute_force_lockout", "retry_after_s": retryAfter},
	))
	return Rejected(apierror.AccountLocked("Too many failed attempts, try again later")).
		WithHeader("Retry-After", strconv.Itoa(retryAfter))
}

// Observe inspects the final response status; a 401 counts as one failed
// attempt against the client IP.
func (g *BruteForceGuard) Observe(ip string, status int) {
	if status == http.StatusUnauthorized {
		g.RecordAttempt(ip)
	}
}
