package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of mutation an audit event records.
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
	AuditActionApply  AuditAction = "apply"
	AuditActionRemove AuditAction = "remove"
	// AuditActionPurge records a retention-policy purge of the log itself.
	AuditActionPurge AuditAction = "purge"
)

// Valid reports whether a is a known audit action.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionDelete,
		AuditActionApply, AuditActionRemove, AuditActionPurge:
		return true
	}
	return false
}

// AuditResourceType is the record set an audit event refers to.
type AuditResourceType string

const (
	AuditResourceTag      AuditResourceType = "tag"
	AuditResourceTagging  AuditResourceType = "tagging"
	AuditResourceAuditLog AuditResourceType = "audit_log"
)

// Snapshot is a point-in-time copy of an audited record, stored as JSON.
// Before/after pairs must be sufficient to reverse the mutation.
type Snapshot map[string]any

// AuditEvent is one immutable entry of an organization's audit log.
// ID is monotonic within the organization; together with OccurredAt it
// gives every org a total order that analytics and compliance rely on.
type AuditEvent struct {
	ID             int64             `json:"id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	ActorID        *uuid.UUID        `json:"actor_id,omitempty"` // nil for system actions
	Action         AuditAction       `json:"action"`
	ResourceType   AuditResourceType `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	BeforeState    Snapshot          `json:"before_state,omitempty"`
	AfterState     Snapshot          `json:"after_state,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// AuditFilter narrows an audit log query. Zero values mean "no filter".
type AuditFilter struct {
	Actions       []AuditAction
	ResourceTypes []AuditResourceType
	ActorID       *uuid.UUID
	ResourceID    string
	Since         *time.Time
	Until         *time.Time
}
