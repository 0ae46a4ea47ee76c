package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
)

// TagRepositoryInterface defines the interface for tag repository operations.
// This interface enables better testability by allowing mock implementations.
type TagRepositoryInterface interface {
	LockOrgTx(ctx context.Context, tx *sql.Tx, orgID uuid.UUID) error
	GetByID(ctx context.Context, orgID, tagID uuid.UUID) (*models.Tag, error)
	GetByIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]*models.Tag, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Tag, error)
	SiblingNameExists(ctx context.Context, orgID uuid.UUID, parentID *uuid.UUID, name string, excludeID *uuid.UUID) (bool, error)
	CreateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error
	UpdateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error
	DeleteTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) error
}

// TaggingRepositoryInterface defines the interface for tagging repository operations.
type TaggingRepositoryInterface interface {
	InsertTx(ctx context.Context, tx *sql.Tx, tagging *models.Tagging) (bool, error)
	RemoveTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string) (*models.Tagging, error)
	DeleteByTagTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) ([]*models.Tagging, error)
	ListByResource(ctx context.Context, orgID uuid.UUID, resourceType models.ResourceType, resourceID string) ([]*models.Tagging, error)
	ListByTagPaginated(ctx context.Context, orgID, tagID uuid.UUID, resourceType *models.ResourceType, page, pageSize int) ([]*models.TaggedResource, int, error)
	CountByTag(ctx context.Context, orgID, tagID uuid.UUID) (int, error)
	CountsByTag(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]int, error)
	CoOccurrences(ctx context.Context, orgID, tagID uuid.UUID) ([]models.CoOccurrence, error)
}

// AuditEventRepositoryInterface defines the interface for audit log operations.
type AuditEventRepositoryInterface interface {
	AppendTx(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) (int64, error)
	Append(ctx context.Context, event *models.AuditEvent) (int64, error)
	Query(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter, page, pageSize int) ([]*models.AuditEvent, int, error)
	ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, limit int) ([]*models.AuditEvent, error)
	PurgeBeforeTx(ctx context.Context, tx *sql.Tx, orgID uuid.UUID, cutoff time.Time) (int64, error)
}

// ComplianceRuleRepositoryInterface defines the interface for rule operations.
type ComplianceRuleRepositoryInterface interface {
	Create(ctx context.Context, rule *models.ComplianceRule) error
	GetByID(ctx context.Context, orgID, ruleID uuid.UUID) (*models.ComplianceRule, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, enabledOnly bool) ([]*models.ComplianceRule, error)
	SetEnabled(ctx context.Context, orgID, ruleID uuid.UUID, enabled bool) error
	Delete(ctx context.Context, orgID, ruleID uuid.UUID) error
}

// ComplianceViolationRepositoryInterface defines the interface for violation operations.
type ComplianceViolationRepositoryInterface interface {
	Record(ctx context.Context, v *models.ComplianceViolation) (bool, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, severity *models.RuleSeverity, page, pageSize int) ([]*models.ComplianceViolation, int, error)
	DeleteByOrg(ctx context.Context, orgID uuid.UUID) error
}

// UsageMetricRepositoryInterface defines the interface for usage metric operations.
type UsageMetricRepositoryInterface interface {
	GetOrCreate(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error)
	Get(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error)
	Update(ctx context.Context, metric *models.UsageMetric) (bool, error)
	Delete(ctx context.Context, orgID, tagID uuid.UUID) error
	DeleteByOrg(ctx context.Context, orgID uuid.UUID) error
}

// CheckpointRepositoryInterface defines the interface for consumer checkpoint operations.
type CheckpointRepositoryInterface interface {
	Get(ctx context.Context, consumer string, orgID uuid.UUID) (int64, error)
	Set(ctx context.Context, consumer string, orgID uuid.UUID, lastEventID int64) error
	Reset(ctx context.Context, consumer string, orgID uuid.UUID) error
}

// OrgSettingsRepositoryInterface defines the interface for org settings operations.
type OrgSettingsRepositoryInterface interface {
	GetTimezone(ctx context.Context, orgID uuid.UUID) (string, error)
	SetTimezone(ctx context.Context, orgID uuid.UUID, tz string) error
}

// Ensure concrete types implement the interfaces
var (
	_ TagRepositoryInterface                 = (*TagRepository)(nil)
	_ TaggingRepositoryInterface             = (*TaggingRepository)(nil)
	_ AuditEventRepositoryInterface          = (*AuditEventRepository)(nil)
	_ ComplianceRuleRepositoryInterface      = (*ComplianceRuleRepository)(nil)
	_ ComplianceViolationRepositoryInterface = (*ComplianceViolationRepository)(nil)
	_ UsageMetricRepositoryInterface         = (*UsageMetricRepository)(nil)
	_ CheckpointRepositoryInterface          = (*CheckpointRepository)(nil)
	_ OrgSettingsRepositoryInterface         = (*OrgSettingsRepository)(nil)
)
