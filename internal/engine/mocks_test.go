package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
)

// noopTxRunner satisfies database.TxRunner without a real transaction.
type noopTxRunner struct{}

func (noopTxRunner) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// memTagRepo is an in-memory tag repository backed by a map.
type memTagRepo struct {
	mu        sync.Mutex
	tags      map[uuid.UUID]*models.Tag
	lockCalls int
}

func newMemTagRepo() *memTagRepo {
	return &memTagRepo{tags: make(map[uuid.UUID]*models.Tag)}
}

func (r *memTagRepo) add(t *models.Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tags[t.ID] = &cp
}

func (r *memTagRepo) LockOrgTx(ctx context.Context, tx *sql.Tx, orgID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockCalls++
	return nil
}

func (r *memTagRepo) GetByID(ctx context.Context, orgID, tagID uuid.UUID) (*models.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[tagID]
	if !ok || t.OrganizationID != orgID {
		return nil, database.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTagRepo) GetByIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]*models.Tag, error) {
	var out []*models.Tag
	for _, id := range ids {
		if t, err := r.GetByID(ctx, orgID, id); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTagRepo) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Tag
	for _, t := range r.tags {
		if t.OrganizationID == orgID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTagRepo) SiblingNameExists(ctx context.Context, orgID uuid.UUID, parentID *uuid.UUID, name string, excludeID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tags {
		if t.OrganizationID != orgID {
			continue
		}
		if excludeID != nil && t.ID == *excludeID {
			continue
		}
		if !sameParent(t.ParentID, parentID) {
			continue
		}
		if strings.EqualFold(t.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTagRepo) CreateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error {
	tag.CreatedAt = time.Now().UTC()
	tag.UpdatedAt = tag.CreatedAt
	r.add(tag)
	return nil
}

func (r *memTagRepo) UpdateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag.ID]; !ok {
		return database.ErrNotFound
	}
	tag.UpdatedAt = time.Now().UTC()
	cp := *tag
	r.tags[tag.ID] = &cp
	return nil
}

func (r *memTagRepo) DeleteTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[tagID]
	if !ok || t.OrganizationID != orgID {
		return database.ErrNotFound
	}
	delete(r.tags, tagID)
	return nil
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type taggingKey struct {
	tagID        uuid.UUID
	resourceType models.ResourceType
	resourceID   string
}

// memTaggingRepo is an in-memory tagging repository.
type memTaggingRepo struct {
	mu       sync.Mutex
	taggings map[taggingKey]*models.Tagging
}

func newMemTaggingRepo() *memTaggingRepo {
	return &memTaggingRepo{taggings: make(map[taggingKey]*models.Tagging)}
}

func (r *memTaggingRepo) key(t *models.Tagging) taggingKey {
	return taggingKey{tagID: t.TagID, resourceType: t.ResourceType, resourceID: t.ResourceID}
}

func (r *memTaggingRepo) InsertTx(ctx context.Context, tx *sql.Tx, tagging *models.Tagging) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(tagging)
	if _, ok := r.taggings[k]; ok {
		return false, nil
	}
	tagging.TaggedAt = time.Now().UTC()
	cp := *tagging
	r.taggings[k] = &cp
	return true, nil
}

func (r *memTaggingRepo) RemoveTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string) (*models.Tagging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := taggingKey{tagID: tagID, resourceType: resourceType, resourceID: resourceID}
	t, ok := r.taggings[k]
	if !ok || t.OrganizationID != orgID {
		return nil, nil
	}
	delete(r.taggings, k)
	return t, nil
}

func (r *memTaggingRepo) DeleteByTagTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) ([]*models.Tagging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*models.Tagging
	for k, t := range r.taggings {
		if t.OrganizationID == orgID && t.TagID == tagID {
			removed = append(removed, t)
			delete(r.taggings, k)
		}
	}
	return removed, nil
}

func (r *memTaggingRepo) ListByResource(ctx context.Context, orgID uuid.UUID, resourceType models.ResourceType, resourceID string) ([]*models.Tagging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Tagging
	for _, t := range r.taggings {
		if t.OrganizationID == orgID && t.ResourceType == resourceType && t.ResourceID == resourceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTaggingRepo) ListByTagPaginated(ctx context.Context, orgID, tagID uuid.UUID, resourceType *models.ResourceType, page, pageSize int) ([]*models.TaggedResource, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TaggedResource
	for _, t := range r.taggings {
		if t.OrganizationID != orgID || t.TagID != tagID {
			continue
		}
		if resourceType != nil && t.ResourceType != *resourceType {
			continue
		}
		out = append(out, &models.TaggedResource{
			ResourceType: t.ResourceType,
			ResourceID:   t.ResourceID,
			TaggedBy:     t.TaggedBy,
			TaggedAt:     t.TaggedAt,
		})
	}
	return out, len(out), nil
}

func (r *memTaggingRepo) CountByTag(ctx context.Context, orgID, tagID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.taggings {
		if t.OrganizationID == orgID && t.TagID == tagID {
			count++
		}
	}
	return count, nil
}

func (r *memTaggingRepo) CountsByTag(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]int)
	for _, t := range r.taggings {
		if t.OrganizationID == orgID {
			out[t.TagID]++
		}
	}
	return out, nil
}

func (r *memTaggingRepo) CoOccurrences(ctx context.Context, orgID, tagID uuid.UUID) ([]models.CoOccurrence, error) {
	return nil, nil
}

// recordingAudit captures appended events and assigns sequential ids.
type recordingAudit struct {
	mu       sync.Mutex
	events   []*models.AuditEvent
	notified []int64
}

func (a *recordingAudit) AppendTx(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	event.ID = int64(len(a.events) + 1)
	event.OccurredAt = time.Now().UTC()
	a.events = append(a.events, event)
	return event.ID, nil
}

func (a *recordingAudit) Notify(ctx context.Context, orgID uuid.UUID, eventID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified = append(a.notified, eventID)
}

func (a *recordingAudit) eventCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func (a *recordingAudit) lastEvent() *models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return nil
	}
	return a.events[len(a.events)-1]
}

// denyAllAuthorizer rejects every actor.
type denyAllAuthorizer struct{}

func (denyAllAuthorizer) CanWrite(ctx context.Context, orgID, actorID uuid.UUID) (bool, error) {
	return false, nil
}
