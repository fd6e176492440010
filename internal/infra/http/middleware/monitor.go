package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/metrics"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// scannerAgents are user-agent substrings of known attack and scanning
// tools. Matched case-insensitively.
var scannerAgents = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"dirbuster",
	"gobuster",
	"wpscan",
	"nessus",
	"openvas",
	"acunetix",
	"metasploit",
	"hydra",
	"burpsuite",
	"zgrab",
}

// probePaths match requests for files and panels this service never serves;
// asking for them is a strong scanner signal.
var probePaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/\.env`),
	regexp.MustCompile(`(?i)/\.git(/|$)`),
	regexp.MustCompile(`(?i)/wp-(admin|login|content)`),
	regexp.MustCompile(`(?i)/phpmyadmin`),
	regexp.MustCompile(`(?i)\.php$`),
	regexp.MustCompile(`(?i)/etc/passwd`),
	regexp.MustCompile(`(?i)/cgi-bin/`),
	regexp.MustCompile(`(?i)/admin/config`),
	regexp.MustCompile(`(?i)/\.aws/`),
	regexp.MustCompile(`(?i)/actuator/`),
}

// spoofedIPHeaders are client-IP override headers this service never
// honors. Sending one is an attempt to forge the source address past an
// IP-based control; legitimate proxies use X-Real-IP / X-Forwarded-For.
var spoofedIPHeaders = []string{
	"X-Originating-IP",
	"X-Remote-IP",
	"X-Remote-Addr",
	"X-Client-IP",
	"True-Client-IP",
	"X-Forwarded",
	"Forwarded-For",
}

// maxQueryParams caps the query-parameter count before a request is
// considered a fuzzing attempt; no endpoint here takes more than a handful.
const maxQueryParams = 50

// suspicionRecord is one client's accumulating score.
type suspicionRecord struct {
	score    int
	lastSeen time.Time
}

// SecurityMonitor aggregates request heuristics, sanitizer findings and
// response-status observations into a per-IP suspicion score, and owns the
// block decision once the configured threshold is reached.
type SecurityMonitor struct {
	cfg config.MonitorConfig

	mu      sync.Mutex
	entries map[string]*suspicionRecord

	events securityevent.Recorder
	log    *logger.Logger
	now    func() time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// MonitorOption configures a SecurityMonitor.
type MonitorOption func(*SecurityMonitor)

// WithMonitorClock overrides the clock, for tests.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *SecurityMonitor) {
		m.now = now
	}
}

// NewSecurityMonitor creates a monitor from policy.
func NewSecurityMonitor(cfg config.MonitorConfig, events securityevent.Recorder, log *logger.Logger, opts ...MonitorOption) *SecurityMonitor {
	m := &SecurityMonitor{
		cfg:     cfg,
		entries: make(map[string]*suspicionRecord),
		events:  events,
		log:     log.With("component", "monitor"),
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupEntries()

	return m
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (m *SecurityMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	<-m.stopped
}

// Score returns the current suspicion score for an IP.
func (m *SecurityMonitor) Score(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.entries[ip]; ok {
		return rec.score
	}
	return 0
}

// Note adds points to an IP's score and returns the new total. The entry
// table is capped; when full, the stalest entry is evicted first.
func (m *SecurityMonitor) Note(ip string, points int) int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entries[ip]
	if !ok {
		if len(m.entries) >= m.cfg.MaxEntries {
			m.evictStalest()
		}
		rec = &suspicionRecord{}
		m.entries[ip] = rec
		metrics.SuspicionTrackedClients.Set(float64(len(m.entries)))
	}
	rec.score += points
	rec.lastSeen = now
	return rec.score
}

// evictStalest removes the least recently seen entry. Caller holds the lock.
func (m *SecurityMonitor) evictStalest() {
	var stalest string
	var oldest time.Time
	for ip, rec := range m.entries {
		if stalest == "" || rec.lastSeen.Before(oldest) {
			stalest = ip
			oldest = rec.lastSeen
		}
	}
	if stalest != "" {
		delete(m.entries, stalest)
	}
}

// cleanupEntries drops entries idle past the score TTL.
func (m *SecurityMonitor) cleanupEntries() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(m.stopped)

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for ip, rec := range m.entries {
				if now.Sub(rec.lastSeen) >= m.cfg.ScoreTTL {
					delete(m.entries, ip)
				}
			}
			metrics.SuspicionTrackedClients.Set(float64(len(m.entries)))
			m.mu.Unlock()
		}
	}
}

// signals scores one request against the heuristic tables and names the
// reasons that fired.
func signals(r *http.Request) (int, []string) {
	points := 0
	var reasons []string

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if ua == "" {
		points++
		reasons = append(reasons, "missing_user_agent")
	} else {
		for _, agent := range scannerAgents {
			if strings.Contains(ua, agent) {
				points++
				reasons = append(reasons, "scanner_user_agent")
				break
			}
		}
	}

	for _, re := range probePaths {
		if re.MatchString(r.URL.Path) {
			points++
			reasons = append(reasons, "probe_path")
			break
		}
	}

	if r.Header.Get("Accept") == "" && r.Method == http.MethodGet {
		points++
		reasons = append(reasons, "missing_accept_header")
	}

	for _, h := range spoofedIPHeaders {
		if r.Header.Get(h) != "" {
			points++
			reasons = append(reasons, "spoofed_ip_header")
			break
		}
	}

	query := r.URL.Query()
	if len(query) > maxQueryParams {
		points++
		reasons = append(reasons, "oversized_query")
	}

values:
	for _, vs := range query {
		for _, v := range vs {
			if strings.ContainsAny(v, "<>") {
				points++
				reasons = append(reasons, "html_in_query")
				break values
			}
		}
	}

	return points, reasons
}

// Check scores one request. Heuristic hits raise the client's score and
// emit a SUSPICIOUS_REQUEST event; crossing the threshold rejects with 403
// when blocking is enabled. Internal faults never reject.
func (m *SecurityMonitor) Check(r *http.Request) Verdict {
	ip := getClientIP(r)

	if m.cfg.BlockSuspicious && m.Score(ip) >= m.cfg.Threshold {
		return m.block(r, ip)
	}

	points, reasons := signals(r)
	if points > 0 {
		score := m.Note(ip, points)
		m.events.Record(securityevent.New(
			securityevent.KindSuspiciousRequest,
			ip, r.URL.Path, r.Method,
			map[string]any{"reasons": reasons, "score": score},
		))
		if m.cfg.BlockSuspicious && score >= m.cfg.Threshold {
			return m.block(r, ip)
		}
	}

	return Allowed()
}

// Observe feeds auth-related response statuses back into the score.
func (m *SecurityMonitor) Observe(ip string, status int, r *http.Request) {
	switch status {
	case http.StatusUnauthorized:
		m.Note(ip, 1)
		m.events.Record(securityevent.New(
			securityevent.KindAuthFailure,
			ip, r.URL.Path, r.Method, nil,
		))
	case http.StatusForbidden:
		m.Note(ip, 1)
		m.events.Record(securityevent.New(
			securityevent.KindUnauthorizedAccess,
			ip, r.URL.Path, r.Method, nil,
		))
	}
}

// NoteFinding raises a client's score for a sanitizer threat finding.
func (m *SecurityMonitor) NoteFinding(ip string, issues []string) {
	score := m.Note(ip, len(issues))
	m.log.Warn("threat finding noted",
		"ip", ip,
		"issues", issues,
		"score", score,
	)
}

func (m *SecurityMonitor) block(r *http.Request, ip string) Verdict {
	m.log.Warn("suspicious client blocked",
		"ip", ip,
		"path", r.URL.Path,
		"score", m.Score(ip),
		"request_id", GetRequestID(r.Context()),
	)
	metrics.SuspicionBlocksTotal.Inc()
	metrics.PipelineVerdictsTotal.WithLabelValues("monitor", "reject").Inc()
	m.events.Record(securityevent.New(
		securityevent.KindClientBlocked,
		ip, r.URL.Path, r.Method,
		map[string]any{"reason": "suspicion_threshold"},
	))
	return Rejected(apierror.SuspiciousClient())
}
