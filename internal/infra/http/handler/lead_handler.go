package handler

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bujinwang/agentOps-sub012/pkg/apierror"
	"github.com/bujinwang/agentOps-sub012/pkg/logger"
	"github.com/bujinwang/agentOps-sub012/pkg/pagination"
	"github.com/bujinwang/agentOps-sub012/pkg/validator"
)

// Lead is a sales lead tracked by the service.
type Lead struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Source    string
	Notes     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeadHandler handles lead-related HTTP requests. Leads are kept in
// memory; this service demonstrates the protected API surface, not a
// persistence layer.
type LeadHandler struct {
	mu    sync.RWMutex
	leads map[string]*Lead

	validator *validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(v *validator.Validator, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		leads:     make(map[string]*Lead),
		validator: v,
		logger:    log.With("component", "lead_handler"),
		now:       time.Now,
	}
}

// CreateLeadRequest represents the request to create a lead.
type CreateLeadRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=200"`
	Email  string `json:"email" validate:"required,email"`
	Phone  string `json:"phone" validate:"omitempty,max=32"`
	Source string `json:"source" validate:"omitempty,max=100"`
	Notes  string `json:"notes" validate:"omitempty,max=2000"`
	Status string `json:"status" validate:"omitempty,oneof=new contacted qualified lost won"`
}

// UpdateLeadRequest represents the request to update a lead. All fields
// are optional; absent fields are left unchanged.
type UpdateLeadRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Phone  *string `json:"phone" validate:"omitempty,max=32"`
	Source *string `json:"source" validate:"omitempty,max=100"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
	Status *string `json:"status" validate:"omitempty,oneof=new contacted qualified lost won"`
}

// LeadResponse represents a lead in API responses.
type LeadResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List handles GET /api/v1/leads.
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	statuses := parseQueryArray(query.Get("statuses"))
	search := strings.ToLower(query.Get("search"))
	page := pagination.New(
		parseQueryInt(query.Get("page"), 1),
		parseQueryInt(query.Get("per_page"), 20),
	)
	sortOpt := pagination.NewSortOption("created_at", "name", "email", "status").
		Parse(query.Get("sort")).
		OrDefault("created_at", pagination.SortDesc)

	h.mu.RLock()
	matched := make([]*Lead, 0, len(h.leads))
	for _, lead := range h.leads {
		if len(statuses) > 0 && !containsString(statuses, lead.Status) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(lead.Name), search) &&
			!strings.Contains(strings.ToLower(lead.Email), search) {
			continue
		}
		matched = append(matched, lead)
	}
	h.mu.RUnlock()

	sortLeads(matched, sortOpt.Sorts())

	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit()
	if end > len(matched) {
		end = len(matched)
	}

	data := make([]LeadResponse, 0, end-start)
	for _, lead := range matched[start:end] {
		data = append(data, toLeadResponse(lead))
	}

	result := pagination.NewResult(data, total, page)
	writeJSON(w, http.StatusOK, ListResponse[LeadResponse]{
		Data:       result.Data,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
		Links:      NewPaginationLinks(r, result.Page, result.PerPage, result.TotalPages),
	})
}

// Get handles GET /api/v1/leads/{id}.
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.RLock()
	lead, ok := h.leads[id]
	h.mu.RUnlock()
	if !ok {
		apierror.NotFound("Lead").WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, toLeadResponse(lead))
}

// Create handles POST /api/v1/leads.
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	if req.Status == "" {
		req.Status = "new"
	}

	now := h.now().UTC()
	lead := &Lead{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Source:    req.Source,
		Notes:     req.Notes,
		Status:    req.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	h.mu.Lock()
	h.leads[lead.ID] = lead
	h.mu.Unlock()

	h.logger.Info("lead created", "lead_id", lead.ID, "source", lead.Source)
	writeJSON(w, http.StatusCreated, toLeadResponse(lead))
}

// ImportLeadsRequest represents a bulk lead upload.
type ImportLeadsRequest struct {
	Leads []CreateLeadRequest `json:"leads" validate:"required,min=1,max=500,dive"`
}

// ImportLeadsResponse reports the outcome of a bulk upload.
type ImportLeadsResponse struct {
	Imported int            `json:"imported"`
	Data     []LeadResponse `json:"data"`
}

// Import handles POST /api/v1/leads/import. The whole batch is accepted
// or rejected; partial imports would leave callers guessing which rows
// landed.
func (h *LeadHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportLeadsRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	now := h.now().UTC()
	created := make([]*Lead, 0, len(req.Leads))
	for _, item := range req.Leads {
		status := item.Status
		if status == "" {
			status = "new"
		}
		created = append(created, &Lead{
			ID:        uuid.New().String(),
			Name:      item.Name,
			Email:     item.Email,
			Phone:     item.Phone,
			Source:    item.Source,
			Notes:     item.Notes,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	h.mu.Lock()
	for _, lead := range created {
		h.leads[lead.ID] = lead
	}
	h.mu.Unlock()

	data := make([]LeadResponse, len(created))
	for i, lead := range created {
		data[i] = toLeadResponse(lead)
	}

	h.logger.Info("leads imported", "count", len(created))
	writeJSON(w, http.StatusCreated, ImportLeadsResponse{
		Imported: len(created),
		Data:     data,
	})
}

// Update handles PUT /api/v1/leads/{id}.
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UpdateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	h.mu.Lock()
	lead, ok := h.leads[id]
	if !ok {
		h.mu.Unlock()
		apierror.NotFound("Lead").WriteJSON(w)
		return
	}
	if req.Name != nil {
		lead.Name = *req.Name
	}
	if req.Email != nil {
		lead.Email = *req.Email
	}
	if req.Phone != nil {
		lead.Phone = *req.Phone
	}
	if req.Source != nil {
		lead.Source = *req.Source
	}
	if req.Notes != nil {
		lead.Notes = *req.Notes
	}
	if req.Status != nil {
		lead.Status = *req.Status
	}
	lead.UpdatedAt = h.now().UTC()
	resp := toLeadResponse(lead)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/leads/{id}.
func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	_, ok := h.leads[id]
	delete(h.leads, id)
	h.mu.Unlock()

	if !ok {
		apierror.NotFound("Lead").WriteJSON(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toLeadResponse(l *Lead) LeadResponse {
	return LeadResponse{
		ID:        l.ID,
		Name:      l.Name,
		Email:     l.Email,
		Phone:     l.Phone,
		Source:    l.Source,
		Notes:     l.Notes,
		Status:    l.Status,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

// sortLeads orders leads by the given sort specs in sequence, with ID as
// the final tiebreaker so pages stay stable across requests.
func sortLeads(leads []*Lead, sorts []pagination.Sort) {
	sort.Slice(leads, func(i, j int) bool {
		for _, s := range sorts {
			cmp := compareLeadField(leads[i], leads[j], s.Field)
			if cmp == 0 {
				continue
			}
			if s.Order == pagination.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return leads[i].ID < leads[j].ID
	})
}

func compareLeadField(a, b *Lead, field string) int {
	switch field {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "name":
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "email":
		return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
	case "status":
		return strings.Compare(a.Status, b.Status)
	default:
		return 0
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
