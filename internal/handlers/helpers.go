package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/taggov/engine/internal/engine"
)

const (
	// DefaultPageSize is the default page size for pagination
	DefaultPageSize = 100
	// MaxPageSize is the maximum page size for pagination
	MaxPageSize = 500
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sanitizeErrorMessage removes internal details from error messages
func sanitizeErrorMessage(message string) string {
	sanitized := message
	if len(sanitized) > 200 {
		sanitized = sanitized[:200] + "..."
	}
	return sanitized
}

// respondJSONError sends an error JSON response with sanitized error messages
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	sanitizedMessage := sanitizeErrorMessage(message)

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   sanitizedMessage,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondEngineError maps the engine's error taxonomy to HTTP statuses.
// Persistence errors never leak their cause to the client.
func respondEngineError(w http.ResponseWriter, err error) {
	var (
		validationErr *engine.ValidationError
		cycleErr      *engine.CycleError
		duplicateErr  *engine.DuplicateNameError
		notFoundErr   *engine.NotFoundError
		authzErr      *engine.AuthorizationError
	)

	switch {
	case errors.As(err, &validationErr):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", validationErr.Error())
	case errors.As(err, &cycleErr):
		respondJSONError(w, http.StatusConflict, "Conflict", cycleErr.Error())
	case errors.As(err, &duplicateErr):
		respondJSONError(w, http.StatusConflict, "Conflict", duplicateErr.Error())
	case errors.As(err, &notFoundErr):
		respondJSONError(w, http.StatusNotFound, "Not Found", notFoundErr.Error())
	case errors.As(err, &authzErr):
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Actor is not permitted to modify this organization")
	default:
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Request failed")
	}
}

// parsePagination reads page/page_size query parameters with clamping.
func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	pageSize = DefaultPageSize
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 {
			if parsed > MaxPageSize {
				pageSize = MaxPageSize
			} else {
				pageSize = parsed
			}
		}
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	return pages
}
