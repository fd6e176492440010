package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bujinwang/agentOps-sub012/internal/config"
	"github.com/bujinwang/agentOps-sub012/internal/metrics"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/sanitize"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// InputSanitizer cleans JSON request bodies and query strings before they
// reach handlers, and classifies payloads against the threat rule table.
// Internal errors never abort the request: a body that fails to decode
// passes through unmodified, since downstream handlers use parameterized
// access anyway and over-blocking on our own fault is the worse outcome.
type InputSanitizer struct {
	cfg       config.SanitizerConfig
	sanitizer *sanitize.Sanitizer
	monitor   *SecurityMonitor
	events    securityevent.Recorder
	log       *logger.Logger
}

// NewInputSanitizer creates the sanitizer stage. The monitor is optional;
// when present, threat findings raise the client's suspicion score.
func NewInputSanitizer(cfg config.SanitizerConfig, monitor *SecurityMonitor, events securityevent.Recorder, log *logger.Logger) (*InputSanitizer, error) {
	opts := sanitize.Options{
		MaxLength:    cfg.MaxLength,
		MaxKeyLength: cfg.MaxKeyLength,
		SkipFields:   cfg.SkipFields,
	}

	if cfg.RulesFile != "" {
		rules, err := sanitize.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		opts.ExtraRules = rules
	}

	return &InputSanitizer{
		cfg:       cfg,
		sanitizer: sanitize.New(opts),
		monitor:   monitor,
		events:    events,
		log:       log.With("component", "sanitizer"),
	}, nil
}

// Check sanitizes the request in place. Query values are always cleaned;
// JSON bodies are decoded, classified, cleaned and re-encoded. When blocking
// is enabled a threat finding rejects with 400.
func (s *InputSanitizer) Check(r *http.Request) Verdict {
	if report := s.sanitizeQuery(r); !report.Valid {
		if v := s.blockVerdict(r, report); !v.Allow {
			return v
		}
	}

	if hasJSONBody(r) {
		report, reject := s.sanitizeBody(r)
		if reject != nil {
			return Rejected(reject)
		}
		if !report.Valid {
			if v := s.blockVerdict(r, report); !v.Allow {
				return v
			}
		}
	}

	return Allowed()
}

// sanitizeQuery classifies and cleans the query string in place.
func (s *InputSanitizer) sanitizeQuery(r *http.Request) sanitize.Report {
	query := r.URL.Query()
	if len(query) == 0 {
		return sanitize.Report{Valid: true}
	}

	report := sanitize.Report{Valid: true}
	changed := false
	for key, values := range query {
		for i, v := range values {
			if rep := s.sanitizer.Classify(v); !rep.Valid {
				mergeReport(&report, rep)
			}
			cleaned := s.sanitizer.CleanString(v, s.sanitizer.MaxLength())
			if cleaned != v {
				values[i] = cleaned
				changed = true
			}
		}
		query[key] = values
	}
	if changed {
		r.URL.RawQuery = query.Encode()
	}

	s.noteFindings(r, report)
	return report
}

// sanitizeBody decodes, classifies and cleans a JSON body. The second
// return is non-nil only when reading the body itself failed, which
// rejects the request outright.
func (s *InputSanitizer) sanitizeBody(r *http.Request) (sanitize.Report, *apierror.Error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBytesReader surfaces here; anything else is a transport
		// fault the handler should not see a half-read body for.
		return sanitize.Report{Valid: true}, apierror.New(http.StatusRequestEntityTooLarge,
			"REQUEST_TOO_LARGE", "Request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	if len(bytes.TrimSpace(raw)) == 0 {
		return sanitize.Report{Valid: true}, nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Fail-open: malformed JSON passes through for the handler to
		// reject with its own 400.
		s.log.Debug("body not sanitized, not valid JSON",
			"error", err,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
		)
		return sanitize.Report{Valid: true}, nil
	}

	report := s.sanitizer.ClassifyValue(payload)
	s.noteFindings(r, report)

	cleaned := s.sanitizer.Sanitize(payload)
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		s.log.Error("re-encoding sanitized body failed, passing original",
			"error", err,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
		)
		return report, nil
	}

	r.Body = io.NopCloser(bytes.NewReader(encoded))
	r.ContentLength = int64(len(encoded))

	return report, nil
}

// noteFindings emits the audit event and feeds the monitor for a threat
// report.
func (s *InputSanitizer) noteFindings(r *http.Request, report sanitize.Report) {
	if report.Valid {
		return
	}

	for _, cat := range report.Categories {
		metrics.SanitizerFindingsTotal.WithLabelValues(string(cat)).Inc()
	}

	ip := getClientIP(r)
	s.events.Record(securityevent.New(
		securityevent.KindSuspiciousPayload,
		ip, r.URL.Path, r.Method,
		map[string]any{"issues": report.Issues},
	))
	if s.monitor != nil {
		s.monitor.NoteFinding(ip, report.Issues)
	}
}

// blockVerdict rejects with 400 when blocking is enabled; otherwise the
// cleaned request proceeds.
func (s *InputSanitizer) blockVerdict(r *http.Request, report sanitize.Report) Verdict {
	if !s.cfg.BlockOnIssue {
		return Allowed()
	}

	s.log.Warn("malicious payload blocked",
		"issues", report.Issues,
		"path", r.URL.Path,
		"ip", getClientIP(r),
		"request_id", GetRequestID(r.Context()),
	)
	metrics.PipelineVerdictsTotal.WithLabelValues("sanitizer", "reject").Inc()
	return Rejected(apierror.MaliciousPayload())
}

func hasJSONBody(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead ||
		r.Method == http.MethodOptions || r.Method == http.MethodTrace {
		return false
	}
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/json")
}

func mergeReport(dst *sanitize.Report, src sanitize.Report) {
	dst.Valid = false
	for _, issue := range src.Issues {
		found := false
		for _, existing := range dst.Issues {
			if existing == issue {
				found = true
				break
			}
		}
		if !found {
			dst.Issues = append(dst.Issues, issue)
		}
	}
	for _, cat := range src.Categories {
		found := false
		for _, existing := range dst.Categories {
			if existing == cat {
				found = true
				break
			}
		}
		if !found {
			dst.Categories = append(dst.Categories, cat)
		}
	}
}
