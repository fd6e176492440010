package securityevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bujinwang/agentOps-sub012/pkg/logger"
)

func TestLogRecorderThrottlesPerKind(t *testing.T) {
	r := NewLogRecorder(logger.NewNop(), WithEmitRate(0.001, 2))

	// Burst of 2 per kind; the third in quick succession is suppressed
	// but another kind still has its own budget.
	for i := 0; i < 3; i++ {
		r.Record(New(KindCSRFFailure, "10.0.0.1", "/", "POST", nil))
	}
	r.Record(New(KindAuthFailure, "10.0.0.1", "/login", "POST", nil))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 1, r.suppressed[KindCSRFFailure])
	assert.Equal(t, 0, r.suppressed[KindAuthFailure])
}

func TestLogRecorderResetsSuppressedCount(t *testing.T) {
	r := NewLogRecorder(logger.NewNop(), WithEmitRate(100, 1))

	r.Record(New(KindSuspiciousPayload, "10.0.0.1", "/", "POST", nil))
	r.Record(New(KindSuspiciousPayload, "10.0.0.1", "/", "POST", nil))

	r.mu.Lock()
	suppressed := r.suppressed[KindSuspiciousPayload]
	r.mu.Unlock()
	assert.Equal(t, 1, suppressed)

	// Let the bucket refill so the next record emits and clears the counter.
	time.Sleep(50 * time.Millisecond)
	r.Record(New(KindSuspiciousPayload, "10.0.0.1", "/", "POST", nil))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 0, r.suppressed[KindSuspiciousPayload])
}

func TestNopRecorder(t *testing.T) {
	var rec Recorder = NopRecorder{}
	assert.NotPanics(t, func() {
		rec.Record(New(KindClientBlocked, "10.0.0.1", "/", "GET", nil))
	})
}
