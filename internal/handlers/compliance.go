package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/request"
	"github.com/taggov/engine/internal/validation"
)

// ComplianceHandler handles compliance rule and violation requests
type ComplianceHandler struct {
	rules      database.ComplianceRuleRepositoryInterface
	violations database.ComplianceViolationRepositoryInterface
}

// NewComplianceHandler creates a new compliance handler
func NewComplianceHandler(
	rules database.ComplianceRuleRepositoryInterface,
	violations database.ComplianceViolationRepositoryInterface,
) *ComplianceHandler {
	return &ComplianceHandler{rules: rules, violations: violations}
}

// RegisterRoutes registers compliance routes on the given router
// The router should already have the /compliance prefix
func (h *ComplianceHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/rules", h.ListRules).Methods("GET")
	r.HandleFunc("/rules", h.CreateRule).Methods("POST")
	r.HandleFunc("/rules/{id}", h.GetRule).Methods("GET")
	r.HandleFunc("/rules/{id}", h.DeleteRule).Methods("DELETE")
	r.HandleFunc("/rules/{id}/enabled", h.SetRuleEnabled).Methods("PATCH")
	r.HandleFunc("/violations", h.ListViolations).Methods("GET")
}

// CreateRuleRequest represents a create rule request
type CreateRuleRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Field     string `json:"field" validate:"required,rule_field"`
	Condition string `json:"condition" validate:"required,rule_condition"`
	Value     string `json:"value" validate:"required,max=500"`
	Severity  string `json:"severity" validate:"required,rule_severity"`
}

// SetRuleEnabledRequest toggles a rule
type SetRuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ListViolationsResponse represents the paginated violations response
type ListViolationsResponse struct {
	Violations []*models.ComplianceViolation `json:"violations"`
	Page       int                           `json:"page"`
	PageSize   int                           `json:"page_size"`
	Total      int                           `json:"total"`
	TotalPages int                           `json:"total_pages"`
}

// ListRules returns the organization's rules in evaluation order
func (h *ComplianceHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	enabledOnly := r.URL.Query().Get("enabled") == "true"
	rules, err := h.rules.ListByOrg(r.Context(), principal.OrganizationID, enabledOnly)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to list rules")
		return
	}
	if rules == nil {
		rules = []*models.ComplianceRule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// CreateRule appends a rule at the end of the evaluation order
func (h *ComplianceHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if err := validation.Validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed: "+verrs[0].Error())
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
		return
	}

	rule := &models.ComplianceRule{
		ID:             uuid.New(),
		OrganizationID: principal.OrganizationID,
		Name:           validation.SanitizeText(req.Name),
		Field:          models.RuleField(req.Field),
		Condition:      models.RuleCondition(req.Condition),
		Value:          req.Value,
		Severity:       models.RuleSeverity(req.Severity),
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := h.rules.Create(r.Context(), rule); err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to create rule")
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// GetRule retrieves a rule by ID
func (h *ComplianceHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	rule, err := h.rules.GetByID(r.Context(), principal.OrganizationID, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "Rule not found")
			return
		}
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to get rule")
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// SetRuleEnabled enables or disables a rule
func (h *ComplianceHandler) SetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	var req SetRuleEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if err := h.rules.SetEnabled(r.Context(), principal.OrganizationID, id, req.Enabled); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "Rule not found")
			return
		}
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update rule")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

// DeleteRule removes a rule. Existing violations recorded under it remain.
func (h *ComplianceHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	id, ok := parseIDVar(w, r)
	if !ok {
		return
	}

	if err := h.rules.Delete(r.Context(), principal.OrganizationID, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "Rule not found")
			return
		}
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to delete rule")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// ListViolations returns recorded violations, newest first, optionally
// filtered by severity
func (h *ComplianceHandler) ListViolations(w http.ResponseWriter, r *http.Request) {
	principal := request.PrincipalFromContext(r)
	if principal == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Principal not found in context")
		return
	}

	var severity *models.RuleSeverity
	if s := r.URL.Query().Get("severity"); s != "" {
		sev := models.RuleSeverity(s)
		if !sev.Valid() {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid severity filter")
			return
		}
		severity = &sev
	}

	page, pageSize := parsePagination(r)

	violations, total, err := h.violations.ListByOrg(r.Context(), principal.OrganizationID, severity, page, pageSize)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to list violations")
		return
	}
	if violations == nil {
		violations = []*models.ComplianceViolation{}
	}

	respondJSON(w, http.StatusOK, ListViolationsResponse{
		Violations: violations,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	})
}
