package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taggov/engine/internal/engine"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/request"
)

// TagHandler handles tag forest requests
type TagHandler struct {
	store *engine.TagStore
}

// NewTagHandler creates a new tag handler
func NewTagHandler(store *engine.TagStore) *TagHandler {
	return &TagHandler{store: store}
}

// RegisterRoutes registers tag routes on the given router
// The router should already have the /tags prefix (e.g., from apiRouter.PathPrefix("/tags"))
func (h *TagHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListTree).Methods("GET")
	r.HandleFunc("", h.CreateTag).Methods("POST")
	r.HandleFunc("/{id}", h.GetTag).Methods("GET")
	r.HandleFunc("/{id}", h.UpdateTag).Methods("PATCH")
	r.HandleFunc("/{id}", h.DeleteTag).Methods("DELETE")
	r.HandleFunc("/{id}/reparent", h.ReparentTag).Methods("POST")
}

// CreateTagRequest represents a create tag request
type CreateTagRequest struct {
	Name        string  `json:"name"`
	ParentID    *string `json:"parent_id,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateTagRequest represents a tag update. Absent fields are unchanged;
// an empty color or description clears the value.
type UpdateTagRequest struct {
	Name        *string `json:"name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ReparentTagRequest moves a tag under a new parent; null parent_id
// makes it a root.
type ReparentTagRequest struct {
	ParentID *string `json:"parent_id"`
}

// ListTree returns the organization's full tag forest
func (h *TagHandler) ListTree(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	includeCounts := r.URL.Query().Get("include_usage_counts") == "true"

	forest, err := h.store.ListTree(r.Context(), principal.OrganizationID, includeCounts)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"tags": forest})
}

// CreateTag creates a new tag
func (h *TagHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	var req CreateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if maxBytesErr, ok := err.(*http.MaxBytesError); ok {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	parentID, ok := parseOptionalUUID(w, req.ParentID, "parent_id")
	if !ok {
		return
	}

	tag, err := h.store.CreateTag(r.Context(), principal.OrganizationID, principal.ActorID, engine.CreateTagInput{
		Name:        req.Name,
		ParentID:    parentID,
		Color:       req.Color,
		Description: req.Description,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, tag)
}

// GetTag retrieves a tag by ID
func (h *TagHandler) GetTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	tag, err := h.store.GetTag(r.Context(), principal.OrganizationID, id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tag)
}

// UpdateTag updates a tag's name, color, or description
func (h *TagHandler) UpdateTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	var req UpdateTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if req.Name == nil && req.Color == nil && req.Description == nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "No fields to update")
		return
	}

	ctx := r.Context()
	var tag *models.Tag
	var err error

	if req.Name != nil {
		tag, err = h.store.RenameTag(ctx, principal.OrganizationID, id, *req.Name, principal.ActorID)
		if err != nil {
			respondEngineError(w, err)
			return
		}
	}
	if req.Color != nil {
		tag, err = h.store.RecolorTag(ctx, principal.OrganizationID, id, emptyToNil(req.Color), principal.ActorID)
		if err != nil {
			respondEngineError(w, err)
			return
		}
	}
	if req.Description != nil {
		tag, err = h.store.UpdateTagDescription(ctx, principal.OrganizationID, id, emptyToNil(req.Description), principal.ActorID)
		if err != nil {
			respondEngineError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, tag)
}

// ReparentTag moves a tag to a new parent (or to the root level)
func (h *TagHandler) ReparentTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	var req ReparentTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	parentID, ok := parseOptionalUUID(w, req.ParentID, "parent_id")
	if !ok {
		return
	}

	tag, err := h.store.ReparentTag(r.Context(), principal.OrganizationID, id, parentID, principal.ActorID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tag)
}

// DeleteTag deletes a tag. The child_policy query parameter chooses what
// happens to children: reparent_to_grandparent or cascade_delete.
func (h *TagHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	policy := models.ChildPolicy(r.URL.Query().Get("child_policy"))
	if policy == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "child_policy is required (reparent_to_grandparent or cascade_delete)")
		return
	}

	if err := h.store.DeleteTag(r.Context(), principal.OrganizationID, id, policy, principal.ActorID); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func parseIDVar(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid tag ID")
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalUUID(w http.ResponseWriter, s *string, field string) (*uuid.UUID, bool) {
	if s == nil {
		return nil, true
	}
	parsed, err := uuid.Parse(*s)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Invalid %s", field))
		return nil, false
	}
	return &parsed, true
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
