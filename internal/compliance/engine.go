package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"go.uber.org/zap"
)

// ConsumerName identifies this consumer's audit log checkpoint.
const ConsumerName = "compliance"

// Replayer streams audit events in order, used for full rebuilds.
type Replayer interface {
	ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, fn func(*models.AuditEvent) error) error
}

// Engine evaluates declarative compliance rules against audit events as
// they arrive. Rules run in definition order; a qualifying event records
// a violation. Violations are derived state: Rebuild reproduces them from
// the log under the current rule set (rules are not versioned, so editing
// a rule changes what a rebuild reports for history).
type Engine struct {
	rules      database.ComplianceRuleRepositoryInterface
	violations database.ComplianceViolationRepositoryInterface
	logger     *zap.Logger
}

// NewEngine creates a compliance engine.
func NewEngine(
	rules database.ComplianceRuleRepositoryInterface,
	violations database.ComplianceViolationRepositoryInterface,
	logger *zap.Logger,
) *Engine {
	return &Engine{rules: rules, violations: violations, logger: logger}
}

// Name implements the log consumer interface.
func (e *Engine) Name() string {
	return ConsumerName
}

// HandleEvent evaluates every enabled rule against one event. Safe under
// redelivery: the (rule, event) pair is recorded at most once.
func (e *Engine) HandleEvent(ctx context.Context, event *models.AuditEvent) error {
	rules, err := e.rules.ListByOrg(ctx, event.OrganizationID, true)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	for _, rule := range rules {
		if !Matches(rule, event) {
			continue
		}
		recorded, err := e.violations.Record(ctx, &models.ComplianceViolation{
			ID:             uuid.New(),
			OrganizationID: event.OrganizationID,
			RuleID:         rule.ID,
			EventID:        event.ID,
			Severity:       rule.Severity,
			DetectedAt:     event.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("failed to record violation: %w", err)
		}
		if recorded {
			e.logger.Info("recorded_compliance_violation",
				zap.String("organization_id", event.OrganizationID.String()),
				zap.String("rule_id", rule.ID.String()),
				zap.Int64("event_id", event.ID),
				zap.String("severity", string(rule.Severity)),
			)
		}
	}
	return nil
}

// Matches reports whether an event trips a rule. Comparisons are
// case-insensitive.
func Matches(rule *models.ComplianceRule, event *models.AuditEvent) bool {
	target, ok := fieldValue(rule.Field, event)
	if !ok {
		return false
	}

	target = strings.ToLower(target)
	value := strings.ToLower(rule.Value)

	switch rule.Condition {
	case models.RuleConditionContains:
		return strings.Contains(target, value)
	case models.RuleConditionEquals:
		return target == value
	case models.RuleConditionStartsWith:
		return strings.HasPrefix(target, value)
	}
	return false
}

func fieldValue(field models.RuleField, event *models.AuditEvent) (string, bool) {
	switch field {
	case models.RuleFieldAction:
		return string(event.Action), true
	case models.RuleFieldResourceType:
		return string(event.ResourceType), true
	case models.RuleFieldActor:
		if event.ActorID == nil {
			return "", false
		}
		return event.ActorID.String(), true
	case models.RuleFieldTagName:
		// Prefer the state after the mutation, falling back to before for
		// deletions.
		for _, snap := range []models.Snapshot{event.AfterState, event.BeforeState} {
			if snap == nil {
				continue
			}
			if name, ok := snap["name"].(string); ok {
				return name, true
			}
		}
		return "", false
	}
	return "", false
}

// Rebuild clears an organization's violations and replays the full log
// against the current rule set.
func (e *Engine) Rebuild(ctx context.Context, orgID uuid.UUID, replayer Replayer) error {
	if err := e.violations.DeleteByOrg(ctx, orgID); err != nil {
		return err
	}

	var processed int
	err := replayer.ReplayFrom(ctx, orgID, 0, func(event *models.AuditEvent) error {
		processed++
		return e.HandleEvent(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild violations: %w", err)
	}

	e.logger.Info("rebuilt_compliance_violations",
		zap.String("organization_id", orgID.String()),
		zap.Int("events_processed", processed),
	)
	return nil
}
