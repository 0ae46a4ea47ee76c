package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
	"go.uber.org/zap"
)

func newTestIndex() (*TaggingIndex, *memTagRepo, *memTaggingRepo, *recordingAudit) {
	tags := newMemTagRepo()
	taggings := newMemTaggingRepo()
	audit := &recordingAudit{}
	index := NewTaggingIndex(noopTxRunner{}, tags, taggings, audit, AllowAllAuthorizer{}, zap.NewNop())
	return index, tags, taggings, audit
}

func seedTag(tags *memTagRepo, orgID uuid.UUID) *models.Tag {
	tag := &models.Tag{ID: uuid.New(), OrganizationID: orgID, Name: "seed"}
	tags.add(tag)
	return tag
}

func TestApplyTag(t *testing.T) {
	t.Parallel()

	index, tags, _, audit := newTestIndex()
	orgID := uuid.New()
	actorID := uuid.New()
	tag := seedTag(tags, orgID)

	tagging, err := index.ApplyTag(context.Background(), orgID, tag.ID, models.ResourceTypeTask, "task-1", actorID)
	if err != nil {
		t.Fatalf("ApplyTag() error = %v", err)
	}
	if tagging.TagID != tag.ID || tagging.ResourceID != "task-1" || tagging.TaggedBy != actorID {
		t.Errorf("unexpected tagging: %+v", tagging)
	}

	event := audit.lastEvent()
	if event == nil || event.Action != models.AuditActionApply || event.ResourceType != models.AuditResourceTagging {
		t.Fatalf("expected apply event, got %+v", event)
	}
	if event.AfterState["resource_id"] != "task-1" {
		t.Errorf("after state missing resource: %v", event.AfterState)
	}
}

func TestApplyTagIdempotent(t *testing.T) {
	t.Parallel()

	index, tags, _, audit := newTestIndex()
	orgID := uuid.New()
	actorID := uuid.New()
	tag := seedTag(tags, orgID)
	ctx := context.Background()

	if _, err := index.ApplyTag(ctx, orgID, tag.ID, models.ResourceTypeTask, "task-1", actorID); err != nil {
		t.Fatal(err)
	}
	before := audit.eventCount()

	// Re-applying the same triple succeeds without a second event.
	tagging, err := index.ApplyTag(ctx, orgID, tag.ID, models.ResourceTypeTask, "task-1", actorID)
	if err != nil {
		t.Fatalf("repeat ApplyTag() error = %v", err)
	}
	if tagging == nil {
		t.Fatal("repeat apply must still return the tagging")
	}
	if audit.eventCount() != before {
		t.Error("no-op apply appended an audit event")
	}
	if len(audit.notified) != 1 {
		t.Errorf("no-op apply triggered a notify: %v", audit.notified)
	}
}

func TestApplyTagUnknownTag(t *testing.T) {
	t.Parallel()

	index, _, _, audit := newTestIndex()

	_, err := index.ApplyTag(context.Background(), uuid.New(), uuid.New(), models.ResourceTypeTask, "task-1", uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if audit.eventCount() != 0 {
		t.Error("failed apply appended an audit event")
	}
}

func TestApplyTagValidation(t *testing.T) {
	t.Parallel()

	index, tags, _, _ := newTestIndex()
	orgID := uuid.New()
	tag := seedTag(tags, orgID)

	tests := []struct {
		name         string
		resourceType models.ResourceType
		resourceID   string
	}{
		{"unknown resource type", "spreadsheet", "r-1"},
		{"empty resource id", models.ResourceTypeTask, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := index.ApplyTag(context.Background(), orgID, tag.ID, tt.resourceType, tt.resourceID, uuid.New())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRemoveTag(t *testing.T) {
	t.Parallel()

	index, tags, taggings, audit := newTestIndex()
	orgID := uuid.New()
	actorID := uuid.New()
	tag := seedTag(tags, orgID)
	ctx := context.Background()

	if _, err := index.ApplyTag(ctx, orgID, tag.ID, models.ResourceTypeEmail, "msg-1", actorID); err != nil {
		t.Fatal(err)
	}

	if err := index.RemoveTag(ctx, orgID, tag.ID, models.ResourceTypeEmail, "msg-1", actorID); err != nil {
		t.Fatalf("RemoveTag() error = %v", err)
	}
	if n, _ := taggings.CountByTag(ctx, orgID, tag.ID); n != 0 {
		t.Error("tagging not removed")
	}

	event := audit.lastEvent()
	if event.Action != models.AuditActionRemove {
		t.Errorf("event action = %s, want remove", event.Action)
	}
	if event.BeforeState["resource_id"] != "msg-1" {
		t.Errorf("before state missing resource: %v", event.BeforeState)
	}
}

func TestRemoveTagAbsentIsNoOp(t *testing.T) {
	t.Parallel()

	index, tags, _, audit := newTestIndex()
	orgID := uuid.New()
	tag := seedTag(tags, orgID)

	err := index.RemoveTag(context.Background(), orgID, tag.ID, models.ResourceTypeTask, "never-tagged", uuid.New())
	if err != nil {
		t.Fatalf("removing an absent tagging must succeed, got %v", err)
	}
	if audit.eventCount() != 0 {
		t.Error("no-op remove appended an audit event")
	}
	if len(audit.notified) != 0 {
		t.Error("no-op remove triggered a notify")
	}
}

func TestTagsForResource(t *testing.T) {
	t.Parallel()

	index, tags, _, _ := newTestIndex()
	orgID := uuid.New()
	actorID := uuid.New()
	ctx := context.Background()

	tagA := &models.Tag{ID: uuid.New(), OrganizationID: orgID, Name: "a"}
	tagB := &models.Tag{ID: uuid.New(), OrganizationID: orgID, Name: "b"}
	tags.add(tagA)
	tags.add(tagB)

	for _, id := range []uuid.UUID{tagA.ID, tagB.ID} {
		if _, err := index.ApplyTag(ctx, orgID, id, models.ResourceTypeDocument, "doc-1", actorID); err != nil {
			t.Fatal(err)
		}
	}

	got, err := index.TagsForResource(ctx, orgID, models.ResourceTypeDocument, "doc-1")
	if err != nil {
		t.Fatalf("TagsForResource() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(got))
	}

	// Untagged resource returns an empty set, not an error.
	got, err = index.TagsForResource(ctx, orgID, models.ResourceTypeDocument, "doc-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tags, got %d", len(got))
	}
}

func TestResourcesForTag(t *testing.T) {
	t.Parallel()

	index, tags, _, _ := newTestIndex()
	orgID := uuid.New()
	actorID := uuid.New()
	tag := seedTag(tags, orgID)
	ctx := context.Background()

	if _, err := index.ApplyTag(ctx, orgID, tag.ID, models.ResourceTypeTask, "task-1", actorID); err != nil {
		t.Fatal(err)
	}
	if _, err := index.ApplyTag(ctx, orgID, tag.ID, models.ResourceTypeEmail, "msg-1", actorID); err != nil {
		t.Fatal(err)
	}

	all, total, err := index.ResourcesForTag(ctx, orgID, tag.ID, nil, 1, 50)
	if err != nil {
		t.Fatalf("ResourcesForTag() error = %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("expected 2 resources, got %d (total %d)", len(all), total)
	}

	rt := models.ResourceTypeEmail
	filtered, total, err := index.ResourcesForTag(ctx, orgID, tag.ID, &rt, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].ResourceID != "msg-1" {
		t.Fatalf("filter by type failed: %+v (total %d)", filtered, total)
	}

	bad := models.ResourceType("binder")
	_, _, err = index.ResourcesForTag(ctx, orgID, tag.ID, &bad, 1, 50)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown type, got %v", err)
	}
}

func TestTaggingIndexUnauthorized(t *testing.T) {
	t.Parallel()

	tags := newMemTagRepo()
	index := NewTaggingIndex(noopTxRunner{}, tags, newMemTaggingRepo(), &recordingAudit{}, denyAllAuthorizer{}, zap.NewNop())
	orgID := uuid.New()
	tag := seedTag(tags, orgID)

	_, err := index.ApplyTag(context.Background(), orgID, tag.ID, models.ResourceTypeTask, "task-1", uuid.New())
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}
