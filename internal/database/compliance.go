package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
)

// ComplianceRuleRepository handles compliance rule database operations.
type ComplianceRuleRepository struct {
	db *DB
}

// NewComplianceRuleRepository creates a new compliance rule repository.
func NewComplianceRuleRepository(db *DB) *ComplianceRuleRepository {
	return &ComplianceRuleRepository{db: db}
}

const ruleColumns = `id, organization_id, name, field, condition, value, severity, enabled, position, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*models.ComplianceRule, error) {
	rule := &models.ComplianceRule{}
	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&rule.Field,
		&rule.Condition,
		&rule.Value,
		&rule.Severity,
		&rule.Enabled,
		&rule.Position,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Create inserts a rule, assigning it the next position in the org.
func (r *ComplianceRuleRepository) Create(ctx context.Context, rule *models.ComplianceRule) error {
	query := `
		INSERT INTO compliance_rules (id, organization_id, name, field, condition, value, severity, enabled, position, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, COALESCE(MAX(position), 0) + 1, $9, $9
		FROM compliance_rules WHERE organization_id = $2
		RETURNING position
	`

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		rule.ID,
		rule.OrganizationID,
		rule.Name,
		rule.Field,
		rule.Condition,
		rule.Value,
		rule.Severity,
		rule.Enabled,
		now,
	).Scan(&rule.Position)
	if err != nil {
		return fmt.Errorf("failed to create compliance rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule by id within an organization.
func (r *ComplianceRuleRepository) GetByID(ctx context.Context, orgID, ruleID uuid.UUID) (*models.ComplianceRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM compliance_rules WHERE organization_id = $1 AND id = $2`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, orgID, ruleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance rule: %w", err)
	}
	return rule, nil
}

// ListByOrg retrieves rules in definition (position) order. When
// enabledOnly is set, disabled rules are skipped.
func (r *ComplianceRuleRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, enabledOnly bool) ([]*models.ComplianceRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM compliance_rules WHERE organization_id = $1`
	if enabledOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.ComplianceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SetEnabled flips a rule's enabled flag.
func (r *ComplianceRuleRepository) SetEnabled(ctx context.Context, orgID, ruleID uuid.UUID, enabled bool) error {
	query := `UPDATE compliance_rules SET enabled = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`

	result, err := r.db.ExecContext(ctx, query, enabled, time.Now().UTC(), orgID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to update compliance rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

// Delete removes a rule. Its recorded violations remain.
func (r *ComplianceRuleRepository) Delete(ctx context.Context, orgID, ruleID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM compliance_rules WHERE organization_id = $1 AND id = $2`, orgID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete compliance rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

// ComplianceViolationRepository handles violation records. Violations are
// derived state, regenerable from the audit log.
type ComplianceViolationRepository struct {
	db *DB
}

// NewComplianceViolationRepository creates a new violation repository.
func NewComplianceViolationRepository(db *DB) *ComplianceViolationRepository {
	return &ComplianceViolationRepository{db: db}
}

// Record inserts a violation. The (rule_id, event_id) unique constraint
// makes redelivered events harmless; returns false when already recorded.
func (r *ComplianceViolationRepository) Record(ctx context.Context, v *models.ComplianceViolation) (bool, error) {
	query := `
		INSERT INTO compliance_violations (id, organization_id, rule_id, event_id, severity, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rule_id, event_id) DO NOTHING
	`

	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query, v.ID, v.OrganizationID, v.RuleID, v.EventID, v.Severity, v.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record violation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}
	return affected > 0, nil
}

// ListByOrg retrieves a page of violations, newest first, optionally
// filtered by severity.
func (r *ComplianceViolationRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, severity *models.RuleSeverity, page, pageSize int) ([]*models.ComplianceViolation, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	where := `WHERE organization_id = $1`
	args := []any{orgID}
	if severity != nil {
		where += ` AND severity = $2`
		args = append(args, *severity)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compliance_violations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count violations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, organization_id, rule_id, event_id, severity, detected_at
		FROM compliance_violations %s
		ORDER BY detected_at DESC, event_id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []*models.ComplianceViolation
	for rows.Next() {
		v := &models.ComplianceViolation{}
		if err := rows.Scan(&v.ID, &v.OrganizationID, &v.RuleID, &v.EventID, &v.Severity, &v.DetectedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, total, rows.Err()
}

// DeleteByOrg clears an organization's violations ahead of a rebuild.
func (r *ComplianceViolationRepository) DeleteByOrg(ctx context.Context, orgID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM compliance_violations WHERE organization_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to clear violations: %w", err)
	}
	return nil
}
