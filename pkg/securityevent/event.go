// Package securityevent defines the append-only audit records emitted by the
// request-security pipeline and the sinks that consume them. The pipeline only
// ever writes events; nothing in the core reads them back.
package securityevent

import (
	"time"

	"github.com/google/uuid"
)

// Kind represents the type of security event.
type Kind string

// Event kinds emitted by the pipeline.
const (
	KindRateLimitExceeded  Kind = "RATE_LIMIT_EXCEEDED"
	KindBruteForceAttempt  Kind = "BRUTE_FORCE_ATTEMPT"
	KindCSRFFailure        Kind = "CSRF_FAILURE"
	KindSuspiciousPayload  Kind = "SUSPICIOUS_PAYLOAD"
	KindSuspiciousRequest  Kind = "SUSPICIOUS_REQUEST"
	KindAuthFailure        Kind = "AUTH_FAILURE"
	KindUnauthorizedAccess Kind = "UNAUTHORIZED_ACCESS"
	KindClientBlocked      Kind = "CLIENT_BLOCKED"
)

// IsValid reports whether the kind is one the pipeline emits.
func (k Kind) IsValid() bool {
	switch k {
	case KindRateLimitExceeded, KindBruteForceAttempt, KindCSRFFailure,
		KindSuspiciousPayload, KindSuspiciousRequest, KindAuthFailure,
		KindUnauthorizedAccess, KindClientBlocked:
		return true
	default:
		return false
	}
}

// Event is an immutable audit record. Once constructed it is never mutated;
// sinks receive it by value.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	IP        string         `json:"ip"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// New creates an event stamped with the current UTC time.
func New(kind Kind, ip, path, method string, detail map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		IP:        ip,
		Path:      path,
		Method:    method,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	}
}

// Recorder consumes pipeline events. Implementations must be safe for
// concurrent use and must never block the request path.
type Recorder interface {
	Record(event Event)
}
