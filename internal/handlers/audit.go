package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taggov/engine/internal/audit"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/request"
)

// AuditHandler handles audit log query requests
type AuditHandler struct {
	log *audit.Log
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(log *audit.Log) *AuditHandler {
	return &AuditHandler{log: log}
}

// RegisterRoutes registers audit routes on the given router
// The router should already have the /audit prefix
func (h *AuditHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/events", h.QueryEvents).Methods("GET")
}

// ListEventsResponse represents the paginated response for audit queries
type ListEventsResponse struct {
	Events     []*models.AuditEvent `json:"events"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"total_pages"`
}

// QueryEvents returns a filtered, paginated slice of the organization's
// audit log, newest first. Supported filters: action, resource_type,
// actor_id, resource_id, since, until (RFC 3339).
func (h *AuditHandler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	filter, ok := parseAuditFilter(w, r)
	if !ok {
		return
	}
	page, pageSize := parsePagination(r)

	events, total, err := h.log.Query(r.Context(), principal.OrganizationID, *filter, page, pageSize)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to query audit log")
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}

	respondJSON(w, http.StatusOK, ListEventsResponse{
		Events:     events,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	})
}

func parseAuditFilter(w http.ResponseWriter, r *http.Request) (*models.AuditFilter, bool) {
	filter := &models.AuditFilter{}
	q := r.URL.Query()

	if action := q.Get("action"); action != "" {
		a := models.AuditAction(action)
		if !a.Valid() {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid action filter")
			return nil, false
		}
		filter.Actions = []models.AuditAction{a}
	}

	if rt := q.Get("resource_type"); rt != "" {
		filter.ResourceTypes = []models.AuditResourceType{models.AuditResourceType(rt)}
	}

	if actor := q.Get("actor_id"); actor != "" {
		actorID, err := uuid.Parse(actor)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid actor_id filter")
			return nil, false
		}
		filter.ActorID = &actorID
	}

	filter.ResourceID = q.Get("resource_id")

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid since timestamp (use RFC 3339)")
			return nil, false
		}
		filter.Since = &t
	}

	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid until timestamp (use RFC 3339)")
			return nil, false
		}
		filter.Until = &t
	}

	return filter, true
}
