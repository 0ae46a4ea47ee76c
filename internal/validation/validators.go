package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/taggov/engine/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate

	hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("resource_type", validateResourceType); err != nil {
		panic(fmt.Sprintf("failed to register resource_type validator: %v", err))
	}
	if err := Validate.RegisterValidation("hex_color", validateHexColor); err != nil {
		panic(fmt.Sprintf("failed to register hex_color validator: %v", err))
	}
	if err := Validate.RegisterValidation("rule_severity", validateRuleSeverity); err != nil {
		panic(fmt.Sprintf("failed to register rule_severity validator: %v", err))
	}
	if err := Validate.RegisterValidation("rule_condition", validateRuleCondition); err != nil {
		panic(fmt.Sprintf("failed to register rule_condition validator: %v", err))
	}
	if err := Validate.RegisterValidation("rule_field", validateRuleField); err != nil {
		panic(fmt.Sprintf("failed to register rule_field validator: %v", err))
	}
	if err := Validate.RegisterValidation("child_policy", validateChildPolicy); err != nil {
		panic(fmt.Sprintf("failed to register child_policy validator: %v", err))
	}
}

func validateResourceType(fl validator.FieldLevel) bool {
	return models.ResourceType(fl.Field().String()).Valid()
}

func validateHexColor(fl validator.FieldLevel) bool {
	return hexColorPattern.MatchString(fl.Field().String())
}

func validateRuleSeverity(fl validator.FieldLevel) bool {
	return models.RuleSeverity(fl.Field().String()).Valid()
}

func validateRuleCondition(fl validator.FieldLevel) bool {
	return models.RuleCondition(fl.Field().String()).Valid()
}

func validateRuleField(fl validator.FieldLevel) bool {
	return models.RuleField(fl.Field().String()).Valid()
}

func validateChildPolicy(fl validator.FieldLevel) bool {
	switch models.ChildPolicy(fl.Field().String()) {
	case models.ChildPolicyReparent, models.ChildPolicyCascade:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidHexColor reports whether value is a "#rrggbb" hex triplet.
func ValidHexColor(value string) bool {
	return hexColorPattern.MatchString(value)
}

// ValidateResourceType validates a ResourceType string value
func ValidateResourceType(value string) error {
	if !models.ResourceType(value).Valid() {
		return fmt.Errorf("invalid resource_type: %s (must be 'task', 'document', 'email', 'chat_channel', or 'chat_message')", value)
	}
	return nil
}

// ValidateChildPolicy validates a ChildPolicy string value
func ValidateChildPolicy(value string) error {
	switch models.ChildPolicy(value) {
	case models.ChildPolicyReparent, models.ChildPolicyCascade:
		return nil
	default:
		return fmt.Errorf("invalid child_policy: %s (must be 'reparent_to_grandparent' or 'cascade_delete')", value)
	}
}
