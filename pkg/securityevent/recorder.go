package securityevent

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/bujinwang/agentOps-sub012/pkg/logger"
)

// LogRecorder writes events to the structured log. Each event kind gets its
// own token bucket so a sustained attack cannot flood the audit stream; a
// suppressed count is attached to the next emitted event of that kind.
type LogRecorder struct {
	log *logger.Logger

	mu         sync.Mutex
	limiters   map[Kind]*rate.Limiter
	suppressed map[Kind]int

	perSecond rate.Limit
	burst     int
}

// LogRecorderOption configures a LogRecorder.
type LogRecorderOption func(*LogRecorder)

// WithEmitRate overrides the default per-kind emission rate.
func WithEmitRate(perSecond float64, burst int) LogRecorderOption {
	return func(r *LogRecorder) {
		r.perSecond = rate.Limit(perSecond)
		r.burst = burst
	}
}

// NewLogRecorder creates a recorder that logs events at warn level.
func NewLogRecorder(log *logger.Logger, opts ...LogRecorderOption) *LogRecorder {
	r := &LogRecorder{
		log:        log.With("component", "security_events"),
		limiters:   make(map[Kind]*rate.Limiter),
		suppressed: make(map[Kind]int),
		perSecond:  10,
		burst:      20,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements Recorder.
func (r *LogRecorder) Record(event Event) {
	r.mu.Lock()
	lim, ok := r.limiters[event.Kind]
	if !ok {
		lim = rate.NewLimiter(r.perSecond, r.burst)
		r.limiters[event.Kind] = lim
	}
	allowed := lim.Allow()
	var dropped int
	if allowed {
		dropped = r.suppressed[event.Kind]
		r.suppressed[event.Kind] = 0
	} else {
		r.suppressed[event.Kind]++
	}
	r.mu.Unlock()

	if !allowed {
		return
	}

	attrs := []any{
		"event_id", event.ID,
		"kind", string(event.Kind),
		"ip", event.IP,
		"path", event.Path,
		"method", event.Method,
	}
	if len(event.Detail) > 0 {
		attrs = append(attrs, "detail", event.Detail)
	}
	if dropped > 0 {
		attrs = append(attrs, "suppressed", dropped)
	}
	r.log.Warn("security event", attrs...)
}

// MemoryRecorder retains events in memory. Intended for tests and for the
// admin inspection endpoint; bounded so it cannot grow without limit.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

// NewMemoryRecorder creates a recorder retaining at most max events.
// A max of zero means 1000.
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 1000
	}
	return &MemoryRecorder{max: max}
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	if len(m.events) > m.max {
		m.events = m.events[len(m.events)-m.max:]
	}
}

// Events returns a copy of the recorded events.
func (m *MemoryRecorder) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByKind returns recorded events of the given kind.
func (m *MemoryRecorder) ByKind(kind Kind) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained events.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// NopRecorder discards all events.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(Event) {}
