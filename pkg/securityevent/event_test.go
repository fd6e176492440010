package securityevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	before := time.Now().UTC()
	e := New(KindCSRFFailure, "203.0.113.7", "/api/v1/leads", "POST", map[string]any{"reason": "token mismatch"})
	after := time.Now().UTC()

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, KindCSRFFailure, e.Kind)
	assert.Equal(t, "203.0.113.7", e.IP)
	assert.Equal(t, "/api/v1/leads", e.Path)
	assert.Equal(t, "POST", e.Method)
	assert.False(t, e.Timestamp.Before(before))
	assert.False(t, e.Timestamp.After(after))
	assert.Equal(t, "token mismatch", e.Detail["reason"])
}

func TestNewUniqueIDs(t *testing.T) {
	a := New(KindAuthFailure, "10.0.0.1", "/login", "POST", nil)
	b := New(KindAuthFailure, "10.0.0.1", "/login", "POST", nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestKindIsValid(t *testing.T) {
	valid := []Kind{
		KindRateLimitExceeded, KindBruteForceAttempt, KindCSRFFailure,
		KindSuspiciousPayload, KindSuspiciousRequest, KindAuthFailure,
		KindUnauthorizedAccess, KindClientBlocked,
	}
	for _, k := range valid {
		assert.True(t, k.IsValid(), string(k))
	}
	assert.False(t, Kind("SOMETHING_ELSE").IsValid())
	assert.False(t, Kind("").IsValid())
}

func TestMemoryRecorder(t *testing.T) {
	m := NewMemoryRecorder(0)

	m.Record(New(KindAuthFailure, "10.0.0.1", "/login", "POST", nil))
	m.Record(New(KindRateLimitExceeded, "10.0.0.2", "/api/v1/leads", "GET", nil))
	m.Record(New(KindAuthFailure, "10.0.0.1", "/login", "POST", nil))

	assert.Equal(t, 3, m.Len())
	assert.Len(t, m.ByKind(KindAuthFailure), 2)
	assert.Len(t, m.ByKind(KindCSRFFailure), 0)

	events := m.Events()
	require.Len(t, events, 3)
	assert.Equal(t, KindRateLimitExceeded, events[1].Kind)
}

func TestMemoryRecorderBounded(t *testing.T) {
	m := NewMemoryRecorder(5)

	for i := 0; i < 12; i++ {
		m.Record(New(KindSuspiciousRequest, "10.0.0.1", "/", "GET", map[string]any{"n": i}))
	}

	assert.Equal(t, 5, m.Len())
	events := m.Events()
	assert.Equal(t, 7, events[0].Detail["n"], "oldest events are evicted first")
	assert.Equal(t, 11, events[4].Detail["n"])
}

func TestMemoryRecorderConcurrent(t *testing.T) {
	m := NewMemoryRecorder(1000)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				m.Record(New(KindClientBlocked, "10.0.0.1", "/", "GET", nil))
				_ = m.Len()
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 400, m.Len())
}
