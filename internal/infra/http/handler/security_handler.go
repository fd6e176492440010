package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/bujinwang/agentOps-sub012/internal/infra/http/middleware"
	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/pagination"
	"github.com/bujinwang/agentOps-sub012/pkg/securityevent"
)

// SecurityHandler exposes the pipeline's audit trail to admins: recorded
// security events, per-client suspicion scores and lockout state.
type SecurityHandler struct {
	events     *securityevent.MemoryRecorder
	monitor    *middleware.SecurityMonitor
	bruteForce *middleware.BruteForceGuard
	logger     *logger.Logger
}

// NewSecurityHandler creates a new security handler.
func NewSecurityHandler(events *securityevent.MemoryRecorder, monitor *middleware.SecurityMonitor, bf *middleware.BruteForceGuard, log *logger.Logger) *SecurityHandler {
	return &SecurityHandler{
		events:     events,
		monitor:    monitor,
		bruteForce: bf,
		logger:     log.With("component", "security_handler"),
	}
}

// SecurityEventResponse represents a recorded security event.
type SecurityEventResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	IP        string         `json:"ip"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ClientStatusResponse reports what the pipeline currently thinks of a
// client IP.
type ClientStatusResponse struct {
	IP             string     `json:"ip"`
	SuspicionScore int        `json:"suspicion_score"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// ListEvents handles GET /api/v1/admin/security/events.
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)

	var events []securityevent.Event
	if raw := query.Get("kind"); raw != "" {
		kind := securityevent.Kind(strings.ToUpper(raw))
		if !kind.IsValid() {
			apierror.BadRequest("Unknown event kind").WriteJSON(w)
			return
		}
		events = h.events.ByKind(kind)
	} else {
		events = h.events.Events()
	}

	total := int64(len(events))
	start := page.Offset()
	if start > len(events) {
		start = len(events)
	}
	end := start + page.Limit()
	if end > len(events) {
		end = len(events)
	}

	data := make([]SecurityEventResponse, 0, end-start)
	for _, e := range events[start:end] {
		data = append(data, toSecurityEventResponse(e))
	}

	result := pagination.NewResult(data, total, page)
	writeJSON(w, http.StatusOK, ListResponse[SecurityEventResponse]{
		Data:       result.Data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// ClientStatus handles GET /api/v1/admin/security/clients/{ip}.
func (h *SecurityHandler) ClientStatus(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		apierror.BadRequest("Missing client IP").WriteJSON(w)
		return
	}

	resp := ClientStatusResponse{
		IP:             ip,
		SuspicionScore: h.monitor.Score(ip),
	}
	if eval := h.bruteForce.Evaluate(ip); eval.Blocked {
		resp.Locked = true
		until := eval.Until
		resp.LockedUntil = &until
	}

	writeJSON(w, http.StatusOK, resp)
}

func toSecurityEventResponse(e securityevent.Event) SecurityEventResponse {
	return SecurityEventResponse{
		ID:        e.ID,
		Kind:      string(e.Kind),
		IP:        e.IP,
		Path:      e.Path,
		Method:    e.Method,
		Timestamp: e.Timestamp,
		Detail:    e.Detail,
	}
}
