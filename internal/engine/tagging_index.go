package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/validation"
	"go.uber.org/zap"
)

// TaggingIndex records which content items carry which tags. Apply and
// remove are idempotent: repeating an operation that already holds is a
// success with no new audit event. A tagging and its audit write commit
// as one transaction; different triples proceed fully in parallel.
type TaggingIndex struct {
	db       database.TxRunner
	tags     database.TagRepositoryInterface
	taggings database.TaggingRepositoryInterface
	audit    AuditAppender
	authz    Authorizer
	logger   *zap.Logger
}

// NewTaggingIndex creates a tagging index.
func NewTaggingIndex(
	db database.TxRunner,
	tags database.TagRepositoryInterface,
	taggings database.TaggingRepositoryInterface,
	audit AuditAppender,
	authz Authorizer,
	logger *zap.Logger,
) *TaggingIndex {
	return &TaggingIndex{
		db:       db,
		tags:     tags,
		taggings: taggings,
		audit:    audit,
		authz:    authz,
		logger:   logger,
	}
}

// ApplyTag attaches a tag to a resource. Returns the tagging, which is the
// existing row when the triple was already present.
func (x *TaggingIndex) ApplyTag(ctx context.Context, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string, actorID uuid.UUID) (*models.Tagging, error) {
	if err := x.validateTarget(resourceType, resourceID); err != nil {
		return nil, err
	}
	if err := x.checkWrite(ctx, orgID, actorID); err != nil {
		return nil, err
	}

	// The tag must exist in this org before anything is written.
	if _, err := x.tags.GetByID(ctx, orgID, tagID); err != nil {
		return nil, mapRepoError(err, "tag", tagID.String(), "apply tag")
	}

	tagging := &models.Tagging{
		TagID:          tagID,
		OrganizationID: orgID,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		TaggedBy:       actorID,
	}

	var inserted bool
	var eventID int64
	err := x.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = x.taggings.InsertTx(ctx, tx, tagging)
		if err != nil {
			return err
		}
		if !inserted {
			// Already applied: success, and not an audit-worthy action.
			return nil
		}
		eventID, err = x.audit.AppendTx(ctx, tx, &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Action:         models.AuditActionApply,
			ResourceType:   models.AuditResourceTagging,
			ResourceID:     taggingResourceID(tagging),
			AfterState:     taggingSnapshot(tagging),
		})
		return err
	})
	if err != nil {
		return nil, &PersistenceError{Op: "apply tag", Err: err}
	}

	if inserted {
		x.audit.Notify(ctx, orgID, eventID)
		x.logger.Info("applied_tag",
			zap.String("organization_id", orgID.String()),
			zap.String("tag_id", tagID.String()),
			zap.String("resource_type", string(resourceType)),
		)
	}
	return tagging, nil
}

// RemoveTag detaches a tag from a resource. Removing a tagging that does
// not exist is a success with no event.
func (x *TaggingIndex) RemoveTag(ctx context.Context, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string, actorID uuid.UUID) error {
	if err := x.validateTarget(resourceType, resourceID); err != nil {
		return err
	}
	if err := x.checkWrite(ctx, orgID, actorID); err != nil {
		return err
	}

	var removed *models.Tagging
	var eventID int64
	err := x.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = x.taggings.RemoveTx(ctx, tx, orgID, tagID, resourceType, resourceID)
		if err != nil {
			return err
		}
		if removed == nil {
			return nil
		}
		eventID, err = x.audit.AppendTx(ctx, tx, &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Action:         models.AuditActionRemove,
			ResourceType:   models.AuditResourceTagging,
			ResourceID:     taggingResourceID(removed),
			BeforeState:    taggingSnapshot(removed),
		})
		return err
	})
	if err != nil {
		return &PersistenceError{Op: "remove tag", Err: err}
	}

	if removed != nil {
		x.audit.Notify(ctx, orgID, eventID)
		x.logger.Info("removed_tag",
			zap.String("organization_id", orgID.String()),
			zap.String("tag_id", tagID.String()),
			zap.String("resource_type", string(resourceType)),
		)
	}
	return nil
}

// TagsForResource returns the set of tags applied to a resource.
func (x *TaggingIndex) TagsForResource(ctx context.Context, orgID uuid.UUID, resourceType models.ResourceType, resourceID string) ([]*models.Tag, error) {
	if err := x.validateTarget(resourceType, resourceID); err != nil {
		return nil, err
	}

	taggings, err := x.taggings.ListByResource(ctx, orgID, resourceType, resourceID)
	if err != nil {
		return nil, &PersistenceError{Op: "list tags for resource", Err: err}
	}
	if len(taggings) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(taggings))
	for i, t := range taggings {
		ids[i] = t.TagID
	}
	tags, err := x.tags.GetByIDs(ctx, orgID, ids)
	if err != nil {
		return nil, &PersistenceError{Op: "list tags for resource", Err: err}
	}
	return tags, nil
}

// ResourcesForTag returns a page of resources carrying a tag, newest
// first, optionally filtered by resource type.
func (x *TaggingIndex) ResourcesForTag(ctx context.Context, orgID, tagID uuid.UUID, resourceType *models.ResourceType, page, pageSize int) ([]*models.TaggedResource, int, error) {
	if resourceType != nil && !resourceType.Valid() {
		return nil, 0, &ValidationError{Field: "resource_type", Message: "unknown resource type"}
	}

	if _, err := x.tags.GetByID(ctx, orgID, tagID); err != nil {
		return nil, 0, mapRepoError(err, "tag", tagID.String(), "list resources for tag")
	}

	resources, total, err := x.taggings.ListByTagPaginated(ctx, orgID, tagID, resourceType, page, pageSize)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list resources for tag", Err: err}
	}
	return resources, total, nil
}

func (x *TaggingIndex) validateTarget(resourceType models.ResourceType, resourceID string) error {
	if err := validation.ValidateResourceType(string(resourceType)); err != nil {
		return &ValidationError{Field: "resource_type", Message: err.Error()}
	}
	if resourceID == "" {
		return &ValidationError{Field: "resource_id", Message: "must not be empty"}
	}
	return nil
}

func (x *TaggingIndex) checkWrite(ctx context.Context, orgID, actorID uuid.UUID) error {
	ok, err := x.authz.CanWrite(ctx, orgID, actorID)
	if err != nil {
		return &PersistenceError{Op: "authorization check", Err: err}
	}
	if !ok {
		return &AuthorizationError{ActorID: actorID, OrganizationID: orgID}
	}
	return nil
}
