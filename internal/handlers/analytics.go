package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/taggov/engine/internal/analytics"
	"github.com/taggov/engine/internal/request"
)

// AnalyticsHandler handles usage report requests
type AnalyticsHandler struct {
	aggregator *analytics.Aggregator
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(aggregator *analytics.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{aggregator: aggregator}
}

// RegisterRoutes registers analytics routes on the given router
// The router should already have the /analytics prefix
func (h *AnalyticsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tags/{id}/usage", h.TagUsage).Methods("GET")
}

// TagUsage returns the usage report for one tag. The range query
// parameter accepts 7d, 30d, 90d, or all (the default); an explicit
// window goes in the start and end parameters instead, as inclusive
// YYYY-MM-DD days.
func (h *AnalyticsHandler) TagUsage(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	tagID, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	rangeStr := q.Get("range")
	if start, end := q.Get("start"), q.Get("end"); start != "" || end != "" {
		if rangeStr != "" {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "range cannot be combined with start and end")
			return
		}
		rangeStr = start + ".." + end
	}

	report, err := h.aggregator.Usage(r.Context(), principal.OrganizationID, tagID, rangeStr)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidRange) {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to build usage report")
		return
	}

	respondJSON(w, http.StatusOK, report)
}
