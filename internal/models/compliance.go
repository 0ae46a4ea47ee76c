package models

import (
	"time"

	"github.com/google/uuid"
)

// RuleField is the audit event field a compliance rule matches against.
type RuleField string

const (
	RuleFieldAction       RuleField = "action"
	RuleFieldResourceType RuleField = "resource_type"
	RuleFieldTagName      RuleField = "tag_name"
	RuleFieldActor        RuleField = "actor"
)

// Valid reports whether f is a known rule field.
func (f RuleField) Valid() bool {
	switch f {
	case RuleFieldAction, RuleFieldResourceType, RuleFieldTagName, RuleFieldActor:
		return true
	}
	return false
}

// RuleCondition is how a rule's value is compared to the event field.
type RuleCondition string

const (
	RuleConditionContains   RuleCondition = "contains"
	RuleConditionEquals     RuleCondition = "equals"
	RuleConditionStartsWith RuleCondition = "starts_with"
)

// Valid reports whether c is a known rule condition.
func (c RuleCondition) Valid() bool {
	switch c {
	case RuleConditionContains, RuleConditionEquals, RuleConditionStartsWith:
		return true
	}
	return false
}

// RuleSeverity ranks how serious a violation of the rule is.
type RuleSeverity string

const (
	RuleSeverityLow      RuleSeverity = "low"
	RuleSeverityMedium   RuleSeverity = "medium"
	RuleSeverityHigh     RuleSeverity = "high"
	RuleSeverityCritical RuleSeverity = "critical"
)

// Valid reports whether s is a known severity.
func (s RuleSeverity) Valid() bool {
	switch s {
	case RuleSeverityLow, RuleSeverityMedium, RuleSeverityHigh, RuleSeverityCritical:
		return true
	}
	return false
}

// ComplianceRule is a declarative matcher over audit events. Rules are
// evaluated in Position order against each new event; they are not
// versioned, so a rebuild applies the rule as currently defined.
type ComplianceRule struct {
	ID             uuid.UUID     `json:"id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	Name           string        `json:"name"`
	Field          RuleField     `json:"field"`
	Condition      RuleCondition `json:"condition"`
	Value          string        `json:"value"`
	Severity       RuleSeverity  `json:"severity"`
	Enabled        bool          `json:"enabled"`
	Position       int           `json:"position"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ComplianceViolation is a derived record: the event that tripped a rule.
// Regenerable by replaying the rule set against the audit log; the
// (RuleID, EventID) pair is unique so redelivered events are harmless.
type ComplianceViolation struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	RuleID         uuid.UUID    `json:"rule_id"`
	EventID        int64        `json:"event_id"`
	Severity       RuleSeverity `json:"severity"`
	DetectedAt     time.Time    `json:"detected_at"`
}
