package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/validation"
	"go.uber.org/zap"
)

// AuditAppender is the slice of the audit log the engine needs: in-tx
// appends plus post-commit consumer wake-ups.
type AuditAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) (int64, error)
	Notify(ctx context.Context, orgID uuid.UUID, eventID int64)
}

// TagStore owns the canonical tag forest per organization. Every mutation
// validates the two permanent invariants (acyclicity, case-insensitive
// sibling-name uniqueness) inside its transaction, holding both the
// in-process org lock and the organization's database advisory lock so
// no other mutation can commit between validation and write, and commits
// atomically with its audit event.
type TagStore struct {
	db       database.TxRunner
	tags     database.TagRepositoryInterface
	taggings database.TaggingRepositoryInterface
	audit    AuditAppender
	authz    Authorizer
	locks    *orgLocks
	logger   *zap.Logger
}

// NewTagStore creates a tag store.
func NewTagStore(
	db database.TxRunner,
	tags database.TagRepositoryInterface,
	taggings database.TaggingRepositoryInterface,
	audit AuditAppender,
	authz Authorizer,
	logger *zap.Logger,
) *TagStore {
	return &TagStore{
		db:       db,
		tags:     tags,
		taggings: taggings,
		audit:    audit,
		authz:    authz,
		locks:    newOrgLocks(),
		logger:   logger,
	}
}

// CreateTagInput carries the caller-supplied fields of a new tag.
type CreateTagInput struct {
	Name        string  `validate:"required,max=100"`
	ParentID    *uuid.UUID
	Color       *string `validate:"omitempty,hex_color"`
	Description *string `validate:"omitempty,max=500"`
}

// CreateTag validates and inserts a new tag. The create is durable only
// once its audit event is written: both happen in one transaction.
func (s *TagStore) CreateTag(ctx context.Context, orgID, actorID uuid.UUID, input CreateTagInput) (*models.Tag, error) {
	if err := s.checkWrite(ctx, orgID, actorID); err != nil {
		return nil, err
	}

	input.Name = validation.SanitizeText(input.Name)
	if err := validation.Validate.Struct(input); err != nil {
		return nil, asValidationError(err)
	}

	unlock := s.locks.Lock(orgID)
	defer unlock()

	tag := &models.Tag{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           input.Name,
		ParentID:       input.ParentID,
		Color:          input.Color,
		Description:    input.Description,
		CreatedBy:      actorID,
	}

	var eventID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.tags.LockOrgTx(ctx, tx, orgID); err != nil {
			return err
		}

		parents, err := s.parentIndex(ctx, orgID)
		if err != nil {
			return err
		}
		if input.ParentID != nil {
			if _, ok := parents[*input.ParentID]; !ok {
				return &NotFoundError{Kind: "tag", ID: input.ParentID.String()}
			}
		}

		exists, err := s.tags.SiblingNameExists(ctx, orgID, input.ParentID, input.Name, nil)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateNameError{Name: input.Name, ParentID: input.ParentID}
		}

		// A brand-new leaf cannot close a cycle, but running the same walk as
		// ReparentTag keeps one code path for the invariant.
		if tag.ParentID != nil && wouldCycle(tag.ID, *tag.ParentID, parents) {
			return &CycleError{TagID: tag.ID, NewParentID: *tag.ParentID}
		}

		if err := s.tags.CreateTx(ctx, tx, tag); err != nil {
			return err
		}
		eventID, err = s.audit.AppendTx(ctx, tx, &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Action:         models.AuditActionCreate,
			ResourceType:   models.AuditResourceTag,
			ResourceID:     tag.ID.String(),
			AfterState:     tagSnapshot(tag),
		})
		return err
	})
	if err != nil {
		return nil, wrapPersistence("create tag", err)
	}

	s.audit.Notify(ctx, orgID, eventID)
	s.logger.Info("created_tag",
		zap.String("organization_id", orgID.String()),
		zap.String("tag_id", tag.ID.String()),
	)
	return tag, nil
}

// RenameTag changes a tag's name, re-checking sibling uniqueness.
func (s *TagStore) RenameTag(ctx context.Context, orgID, tagID uuid.UUID, newName string, actorID uuid.UUID) (*models.Tag, error) {
	newName = validation.SanitizeText(newName)
	if newName == "" || len(newName) > models.MaxTagNameLength {
		return nil, &ValidationError{Field: "name", Message: "must be 1-100 characters"}
	}

	return s.updateTag(ctx, orgID, tagID, actorID, "rename tag", func(ctx context.Context, tag *models.Tag) error {
		exists, err := s.tags.SiblingNameExists(ctx, orgID, tag.ParentID, newName, &tag.ID)
		if err != nil {
			return &PersistenceError{Op: "rename tag", Err: err}
		}
		if exists {
			return &DuplicateNameError{Name: newName, ParentID: tag.ParentID}
		}
		tag.Name = newName
		return nil
	})
}

// RecolorTag changes a tag's color. A nil color clears it.
func (s *TagStore) RecolorTag(ctx context.Context, orgID, tagID uuid.UUID, color *string, actorID uuid.UUID) (*models.Tag, error) {
	if color != nil && !validation.ValidHexColor(*color) {
		return nil, &ValidationError{Field: "color", Message: "must be a #rrggbb hex triplet"}
	}

	return s.updateTag(ctx, orgID, tagID, actorID, "recolor tag", func(ctx context.Context, tag *models.Tag) error {
		tag.Color = color
		return nil
	})
}

// UpdateTagDescription changes a tag's description. A nil description
// clears it.
func (s *TagStore) UpdateTagDescription(ctx context.Context, orgID, tagID uuid.UUID, description *string, actorID uuid.UUID) (*models.Tag, error) {
	if description != nil && len(*description) > models.MaxTagDescriptionLength {
		return nil, &ValidationError{Field: "description", Message: "must be at most 500 characters"}
	}

	return s.updateTag(ctx, orgID, tagID, actorID, "update tag description", func(ctx context.Context, tag *models.Tag) error {
		tag.Description = description
		return nil
	})
}

// ReparentTag moves a tag under a new parent (nil makes it a root). The
// full cycle walk and sibling-uniqueness check run before the write.
func (s *TagStore) ReparentTag(ctx context.Context, orgID, tagID uuid.UUID, newParentID *uuid.UUID, actorID uuid.UUID) (*models.Tag, error) {
	return s.updateTag(ctx, orgID, tagID, actorID, "reparent tag", func(ctx context.Context, tag *models.Tag) error {
		if newParentID != nil {
			if *newParentID == tagID {
				return &CycleError{TagID: tagID, NewParentID: *newParentID}
			}
			parents, err := s.parentIndex(ctx, orgID)
			if err != nil {
				return err
			}
			if _, ok := parents[*newParentID]; !ok {
				return &NotFoundError{Kind: "tag", ID: newParentID.String()}
			}
			if wouldCycle(tagID, *newParentID, parents) {
				return &CycleError{TagID: tagID, NewParentID: *newParentID}
			}
		}

		exists, err := s.tags.SiblingNameExists(ctx, orgID, newParentID, tag.Name, &tag.ID)
		if err != nil {
			return &PersistenceError{Op: "reparent tag", Err: err}
		}
		if exists {
			return &DuplicateNameError{Name: tag.Name, ParentID: newParentID}
		}

		tag.ParentID = newParentID
		return nil
	})
}

// updateTag is the shared update path: load inside the locked
// transaction, let mutate adjust the tag, then write it and its audit
// event atomically.
func (s *TagStore) updateTag(ctx context.Context, orgID, tagID, actorID uuid.UUID, op string, mutate func(context.Context, *models.Tag) error) (*models.Tag, error) {
	if err := s.checkWrite(ctx, orgID, actorID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(orgID)
	defer unlock()

	var tag *models.Tag
	var eventID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.tags.LockOrgTx(ctx, tx, orgID); err != nil {
			return err
		}

		loaded, err := s.tags.GetByID(ctx, orgID, tagID)
		if err != nil {
			return mapRepoError(err, "tag", tagID.String(), op)
		}
		tag = loaded

		before := tagSnapshot(tag)
		if err := mutate(ctx, tag); err != nil {
			return err
		}

		if err := s.tags.UpdateTx(ctx, tx, tag); err != nil {
			return err
		}
		eventID, err = s.audit.AppendTx(ctx, tx, &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Action:         models.AuditActionUpdate,
			ResourceType:   models.AuditResourceTag,
			ResourceID:     tag.ID.String(),
			BeforeState:    before,
			AfterState:     tagSnapshot(tag),
		})
		return err
	})
	if err != nil {
		return nil, wrapPersistence(op, err)
	}

	s.audit.Notify(ctx, orgID, eventID)
	s.logger.Info("updated_tag",
		zap.String("organization_id", orgID.String()),
		zap.String("tag_id", tag.ID.String()),
	)
	return tag, nil
}

// DeleteTag removes a tag. The caller chooses what happens to children:
// reparent to the deleted tag's parent, or cascade. Taggings referencing
// any deleted tag are removed, and every removal gets its own audit event,
// all in one transaction.
func (s *TagStore) DeleteTag(ctx context.Context, orgID, tagID uuid.UUID, policy models.ChildPolicy, actorID uuid.UUID) error {
	if err := validation.ValidateChildPolicy(string(policy)); err != nil {
		return &ValidationError{Field: "child_policy", Message: err.Error()}
	}
	if err := s.checkWrite(ctx, orgID, actorID); err != nil {
		return err
	}

	unlock := s.locks.Lock(orgID)
	defer unlock()

	var childCount int
	var lastEventID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.tags.LockOrgTx(ctx, tx, orgID); err != nil {
			return err
		}

		tag, err := s.tags.GetByID(ctx, orgID, tagID)
		if err != nil {
			return mapRepoError(err, "tag", tagID.String(), "delete tag")
		}

		allTags, err := s.tags.ListByOrg(ctx, orgID)
		if err != nil {
			return err
		}

		var children []*models.Tag
		for _, t := range allTags {
			if t.ParentID != nil && *t.ParentID == tagID {
				children = append(children, t)
			}
		}
		childCount = len(children)

		if policy == models.ChildPolicyReparent {
			// Reparenting must not introduce a sibling-name collision at the
			// grandparent level.
			for _, child := range children {
				exists, err := s.tags.SiblingNameExists(ctx, orgID, tag.ParentID, child.Name, &child.ID)
				if err != nil {
					return err
				}
				if exists {
					return &DuplicateNameError{Name: child.Name, ParentID: tag.ParentID}
				}
			}
		}

		taggingCount, err := s.taggings.CountByTag(ctx, orgID, tagID)
		if err != nil {
			return err
		}

		childIDs := make([]string, len(children))
		for i, c := range children {
			childIDs[i] = c.ID.String()
		}
		before := tagSnapshot(tag)
		before["children"] = childIDs
		before["tagging_count"] = taggingCount

		if policy == models.ChildPolicyReparent {
			for _, child := range children {
				childBefore := tagSnapshot(child)
				child.ParentID = tag.ParentID
				if err := s.tags.UpdateTx(ctx, tx, child); err != nil {
					return err
				}
				lastEventID, err = s.audit.AppendTx(ctx, tx, &models.AuditEvent{
					OrganizationID: orgID,
					ActorID:        &actorID,
					Action:         models.AuditActionUpdate,
					ResourceType:   models.AuditResourceTag,
					ResourceID:     child.ID.String(),
					BeforeState:    childBefore,
					AfterState:     tagSnapshot(child),
				})
				if err != nil {
					return err
				}
			}
		} else {
			// Cascade: delete descendants leaves-first so parent rows
			// outlive their children's foreign keys.
			descendants := collectDescendants(tagID, allTags)
			byID := make(map[uuid.UUID]*models.Tag, len(allTags))
			for _, t := range allTags {
				byID[t.ID] = t
			}
			for i := len(descendants) - 1; i >= 0; i-- {
				descID := descendants[i]
				if lastEventID, err = s.deleteSingleTx(ctx, tx, orgID, actorID, byID[descID], tagSnapshot(byID[descID])); err != nil {
					return err
				}
			}
		}

		lastEventID, err = s.deleteSingleTx(ctx, tx, orgID, actorID, tag, before)
		return err
	})
	if err != nil {
		return wrapPersistence("delete tag", err)
	}

	s.audit.Notify(ctx, orgID, lastEventID)
	s.logger.Info("deleted_tag",
		zap.String("organization_id", orgID.String()),
		zap.String("tag_id", tagID.String()),
		zap.String("child_policy", string(policy)),
		zap.Int("children", childCount),
	)
	return nil
}

// deleteSingleTx removes one tag and its taggings inside tx, auditing each
// tagging removal and the tag deletion individually.
func (s *TagStore) deleteSingleTx(ctx context.Context, tx *sql.Tx, orgID, actorID uuid.UUID, tag *models.Tag, before models.Snapshot) (int64, error) {
	removed, err := s.taggings.DeleteByTagTx(ctx, tx, orgID, tag.ID)
	if err != nil {
		return 0, err
	}

	for _, tagging := range removed {
		_, err = s.audit.AppendTx(ctx, tx, &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Action:         models.AuditActionRemove,
			ResourceType:   models.AuditResourceTagging,
			ResourceID:     taggingResourceID(tagging),
			BeforeState:    taggingSnapshot(tagging),
		})
		if err != nil {
			return 0, err
		}
	}

	if err := s.tags.DeleteTx(ctx, tx, orgID, tag.ID); err != nil {
		return 0, err
	}

	return s.audit.AppendTx(ctx, tx, &models.AuditEvent{
		OrganizationID: orgID,
		ActorID:        &actorID,
		Action:         models.AuditActionDelete,
		ResourceType:   models.AuditResourceTag,
		ResourceID:     tag.ID.String(),
		BeforeState:    before,
	})
}

// GetTag retrieves a single tag.
func (s *TagStore) GetTag(ctx context.Context, orgID, tagID uuid.UUID) (*models.Tag, error) {
	tag, err := s.tags.GetByID(ctx, orgID, tagID)
	if err != nil {
		return nil, mapRepoError(err, "tag", tagID.String(), "get tag")
	}
	return tag, nil
}

// ListTree returns the organization's forest. Read-only: no lock, no
// audit event. O(tags) via the arena-style forest builder.
func (s *TagStore) ListTree(ctx context.Context, orgID uuid.UUID, includeUsageCounts bool) ([]*models.TagNode, error) {
	tags, err := s.tags.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, &PersistenceError{Op: "list tree", Err: err}
	}

	var counts map[uuid.UUID]int
	if includeUsageCounts {
		counts, err = s.taggings.CountsByTag(ctx, orgID)
		if err != nil {
			return nil, &PersistenceError{Op: "list tree", Err: err}
		}
	}

	return BuildForest(tags, counts), nil
}

func (s *TagStore) checkWrite(ctx context.Context, orgID, actorID uuid.UUID) error {
	ok, err := s.authz.CanWrite(ctx, orgID, actorID)
	if err != nil {
		return &PersistenceError{Op: "authorization check", Err: err}
	}
	if !ok {
		return &AuthorizationError{ActorID: actorID, OrganizationID: orgID}
	}
	return nil
}

// parentIndex maps every tag id in the org to its parent pointer.
func (s *TagStore) parentIndex(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]*uuid.UUID, error) {
	tags, err := s.tags.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, &PersistenceError{Op: "load tag forest", Err: err}
	}
	parents := make(map[uuid.UUID]*uuid.UUID, len(tags))
	for _, t := range tags {
		parents[t.ID] = t.ParentID
	}
	return parents, nil
}

func mapRepoError(err error, kind, id, op string) error {
	if errors.Is(err, database.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return &PersistenceError{Op: op, Err: err}
}

func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: "failed " + fe.Tag() + " check",
		}
	}
	return &ValidationError{Field: "input", Message: err.Error()}
}

func tagSnapshot(t *models.Tag) models.Snapshot {
	s := models.Snapshot{
		"id":   t.ID.String(),
		"name": t.Name,
	}
	if t.ParentID != nil {
		s["parent_id"] = t.ParentID.String()
	}
	if t.Color != nil {
		s["color"] = *t.Color
	}
	if t.Description != nil {
		s["description"] = *t.Description
	}
	return s
}

func taggingSnapshot(t *models.Tagging) models.Snapshot {
	return models.Snapshot{
		"tag_id":        t.TagID.String(),
		"resource_type": string(t.ResourceType),
		"resource_id":   t.ResourceID,
		"tagged_by":     t.TaggedBy.String(),
		"tagged_at":     t.TaggedAt.UTC().Format(time.RFC3339Nano),
	}
}

func taggingResourceID(t *models.Tagging) string {
	return t.TagID.String() + "/" + string(t.ResourceType) + "/" + t.ResourceID
}
