package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taggov/engine/internal/engine"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/request"
)

// TaggingHandler handles apply/remove and tagging lookup requests
type TaggingHandler struct {
	index *engine.TaggingIndex
}

// NewTaggingHandler creates a new tagging handler
func NewTaggingHandler(index *engine.TaggingIndex) *TaggingHandler {
	return &TaggingHandler{index: index}
}

// RegisterRoutes registers tagging routes on the given router.
// Routes are spread across /taggings, /resources, and /tags, so this
// takes the API root router rather than a prefixed subrouter.
func (h *TaggingHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/taggings", h.ApplyTag).Methods("POST")
	r.HandleFunc("/taggings", h.RemoveTag).Methods("DELETE")
	r.HandleFunc("/resources/{type}/{id}/tags", h.TagsForResource).Methods("GET")
	r.HandleFunc("/tags/{id}/resources", h.ResourcesForTag).Methods("GET")
}

// TaggingRequest identifies one (tag, resource) pair
type TaggingRequest struct {
	TagID        string `json:"tag_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// ListResourcesResponse represents the paginated response for listing tagged resources
type ListResourcesResponse struct {
	Resources  []*models.TaggedResource `json:"resources"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	Total      int                      `json:"total"`
	TotalPages int                      `json:"total_pages"`
}

// ApplyTag attaches a tag to a resource. Re-applying an existing tagging
// succeeds without side effects.
func (h *TaggingHandler) ApplyTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	req, tagID, ok := h.decodeTagging(w, r)
	if !ok {
		return
	}

	tagging, err := h.index.ApplyTag(r.Context(), principal.OrganizationID, tagID,
		models.ResourceType(req.ResourceType), req.ResourceID, principal.ActorID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tagging)
}

// RemoveTag detaches a tag from a resource. Removing a tagging that does
// not exist succeeds without side effects.
func (h *TaggingHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	req, tagID, ok := h.decodeTagging(w, r)
	if !ok {
		return
	}

	err := h.index.RemoveTag(r.Context(), principal.OrganizationID, tagID,
		models.ResourceType(req.ResourceType), req.ResourceID, principal.ActorID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// TagsForResource lists all tags applied to one resource
func (h *TaggingHandler) TagsForResource(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	vars := mux.Vars(r)
	tags, err := h.index.TagsForResource(r.Context(), principal.OrganizationID,
		models.ResourceType(vars["type"]), vars["id"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if tags == nil {
		tags = []*models.Tag{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// ResourcesForTag lists resources carrying a tag, newest first, with
// pagination and an optional resource_type filter
func (h *TaggingHandler) ResourcesForTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	tagID, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	var resourceType *models.ResourceType
	if rt := r.URL.Query().Get("resource_type"); rt != "" {
		rtEnum := models.ResourceType(rt)
		resourceType = &rtEnum
	}

	page, pageSize := parsePagination(r)

	resources, total, err := h.index.ResourcesForTag(r.Context(), principal.OrganizationID, tagID, resourceType, page, pageSize)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if resources == nil {
		resources = []*models.TaggedResource{}
	}

	respondJSON(w, http.StatusOK, ListResourcesResponse{
		Resources:  resources,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	})
}

func (h *TaggingHandler) decodeTagging(w http.ResponseWriter, r *http.Request) (*TaggingRequest, uuid.UUID, bool) {
	var req TaggingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return nil, uuid.Nil, false
	}

	tagID, err := uuid.Parse(req.TagID)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid tag_id")
		return nil, uuid.Nil, false
	}
	return &req, tagID, true
}
