package analytics

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"go.uber.org/zap"
)

// memMetricRepo stores metrics in a map with version-checked updates.
type memMetricRepo struct {
	mu      sync.Mutex
	metrics map[uuid.UUID]*models.UsageMetric
}

func newMemMetricRepo() *memMetricRepo {
	return &memMetricRepo{metrics: make(map[uuid.UUID]*models.UsageMetric)}
}

func (r *memMetricRepo) GetOrCreate(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[tagID]
	if !ok {
		m = &models.UsageMetric{
			OrganizationID: orgID,
			TagID:          tagID,
			Counts:         models.NewUsageCounts(),
			Version:        1,
		}
		r.metrics[tagID] = m
	}
	cp := cloneMetric(m)
	return cp, nil
}

func (r *memMetricRepo) Get(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[tagID]
	if !ok || m.OrganizationID != orgID {
		return nil, database.ErrNotFound
	}
	return cloneMetric(m), nil
}

func (r *memMetricRepo) Update(ctx context.Context, metric *models.UsageMetric) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.metrics[metric.TagID]
	if !ok || stored.Version != metric.Version {
		return false, nil
	}
	metric.Version++
	metric.UpdatedAt = time.Now().UTC()
	r.metrics[metric.TagID] = cloneMetric(metric)
	return true, nil
}

func (r *memMetricRepo) Delete(ctx context.Context, orgID, tagID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, tagID)
	return nil
}

func (r *memMetricRepo) DeleteByOrg(ctx context.Context, orgID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.metrics {
		if m.OrganizationID == orgID {
			delete(r.metrics, id)
		}
	}
	return nil
}

func cloneMetric(m *models.UsageMetric) *models.UsageMetric {
	cp := *m
	cp.Counts = models.UsageCounts{
		Total:          m.Counts.Total,
		ByResourceType: make(map[models.ResourceType]int, len(m.Counts.ByResourceType)),
		ByUser:         make(map[string]int, len(m.Counts.ByUser)),
		ByDay:          make(map[string]int, len(m.Counts.ByDay)),
	}
	for k, v := range m.Counts.ByResourceType {
		cp.Counts.ByResourceType[k] = v
	}
	for k, v := range m.Counts.ByUser {
		cp.Counts.ByUser[k] = v
	}
	for k, v := range m.Counts.ByDay {
		cp.Counts.ByDay[k] = v
	}
	return &cp
}

// stubTaggingRepo serves canned co-occurrence and count answers. The
// aggregator only reads from the tagging repository; the write methods
// are never called.
type stubTaggingRepo struct {
	coOccurrences []models.CoOccurrence
	countByTag    int
}

func (s *stubTaggingRepo) InsertTx(ctx context.Context, tx *sql.Tx, tagging *models.Tagging) (bool, error) {
	return false, nil
}

func (s *stubTaggingRepo) RemoveTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string) (*models.Tagging, error) {
	return nil, nil
}

func (s *stubTaggingRepo) DeleteByTagTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) ([]*models.Tagging, error) {
	return nil, nil
}

func (s *stubTaggingRepo) ListByResource(ctx context.Context, orgID uuid.UUID, resourceType models.ResourceType, resourceID string) ([]*models.Tagging, error) {
	return nil, nil
}

func (s *stubTaggingRepo) ListByTagPaginated(ctx context.Context, orgID, tagID uuid.UUID, resourceType *models.ResourceType, page, pageSize int) ([]*models.TaggedResource, int, error) {
	return nil, 0, nil
}

func (s *stubTaggingRepo) CountsByTag(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]int, error) {
	return nil, nil
}

func (s *stubTaggingRepo) CoOccurrences(ctx context.Context, orgID, tagID uuid.UUID) ([]models.CoOccurrence, error) {
	out := make([]models.CoOccurrence, len(s.coOccurrences))
	copy(out, s.coOccurrences)
	return out, nil
}

func (s *stubTaggingRepo) CountByTag(ctx context.Context, orgID, tagID uuid.UUID) (int, error) {
	return s.countByTag, nil
}

// fixedTimezoneRepo returns one timezone for every org.
type fixedTimezoneRepo struct {
	tz string
}

func (r *fixedTimezoneRepo) GetTimezone(ctx context.Context, orgID uuid.UUID) (string, error) {
	return r.tz, nil
}

func (r *fixedTimezoneRepo) SetTimezone(ctx context.Context, orgID uuid.UUID, tz string) error {
	r.tz = tz
	return nil
}

// sliceReplayer replays a fixed event slice.
type sliceReplayer struct {
	events []*models.AuditEvent
}

func (r *sliceReplayer) ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, fn func(*models.AuditEvent) error) error {
	for _, e := range r.events {
		if e.OrganizationID != orgID || e.ID <= sinceID {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func taggingEvent(id int64, orgID, tagID uuid.UUID, action models.AuditAction, resourceType, actor string, at time.Time) *models.AuditEvent {
	snap := models.Snapshot{
		"tag_id":        tagID.String(),
		"resource_type": resourceType,
		"resource_id":   "r-" + uuid.NewString(),
		"tagged_by":     actor,
	}
	event := &models.AuditEvent{
		ID:             id,
		OrganizationID: orgID,
		Action:         action,
		ResourceType:   models.AuditResourceTagging,
		OccurredAt:     at,
	}
	if action == models.AuditActionRemove {
		event.BeforeState = snap
	} else {
		event.AfterState = snap
	}
	return event
}

func newTestAggregator(taggings *stubTaggingRepo, tz string) (*Aggregator, *memMetricRepo) {
	metrics := newMemMetricRepo()
	agg := NewAggregator(metrics, taggings, &fixedTimezoneRepo{tz: tz}, nil, zap.NewNop())
	return agg, metrics
}

func TestHandleEventApplyAndRemove(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	actor := uuid.NewString()
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	events := []*models.AuditEvent{
		taggingEvent(1, orgID, tagID, models.AuditActionApply, "task", actor, at),
		taggingEvent(2, orgID, tagID, models.AuditActionApply, "document", actor, at.Add(time.Hour)),
		taggingEvent(3, orgID, tagID, models.AuditActionRemove, "task", actor, at.Add(2*time.Hour)),
	}
	for _, e := range events {
		if err := agg.HandleEvent(ctx, e); err != nil {
			t.Fatalf("HandleEvent(%d) error = %v", e.ID, err)
		}
	}

	metric, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	if metric.Counts.Total != 1 {
		t.Errorf("total = %d, want 1", metric.Counts.Total)
	}
	if metric.Counts.ByResourceType[models.ResourceTypeDocument] != 1 {
		t.Errorf("document count = %d, want 1", metric.Counts.ByResourceType[models.ResourceTypeDocument])
	}
	// The removed task count dropped to zero and its key was pruned.
	if _, ok := metric.Counts.ByResourceType[models.ResourceTypeTask]; ok {
		t.Error("task key should be pruned at zero")
	}
	// Apply, apply, remove on the same day nets one for the bucket.
	if metric.Counts.ByDay["2026-03-10"] != 1 {
		t.Errorf("day bucket = %d, want 1", metric.Counts.ByDay["2026-03-10"])
	}
	if metric.LastEventID != 3 {
		t.Errorf("last event id = %d, want 3", metric.LastEventID)
	}
}

func TestHandleEventRedeliverySkipped(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	event := taggingEvent(5, orgID, tagID, models.AuditActionApply, "task", uuid.NewString(), time.Now().UTC())
	if err := agg.HandleEvent(ctx, event); err != nil {
		t.Fatal(err)
	}
	// Same event again: the stored last event id blocks the second apply.
	if err := agg.HandleEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	metric, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	if metric.Counts.Total != 1 {
		t.Errorf("redelivery double-counted: total = %d", metric.Counts.Total)
	}
}

func TestHandleEventDayBucketTimezone(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "America/New_York")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	// 02:00 UTC on March 11 is still March 10 in New York.
	at := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	event := taggingEvent(1, orgID, tagID, models.AuditActionApply, "email", uuid.NewString(), at)
	if err := agg.HandleEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	metric, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	if metric.Counts.ByDay["2026-03-10"] != 1 {
		t.Errorf("expected event bucketed on 2026-03-10, got %v", metric.Counts.ByDay)
	}
}

func TestHandleEventInvalidTimezoneFallsBackToUTC(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "Mars/Olympus_Mons")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	at := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	event := taggingEvent(1, orgID, tagID, models.AuditActionApply, "task", uuid.NewString(), at)
	if err := agg.HandleEvent(ctx, event); err != nil {
		t.Fatal(err)
	}

	metric, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	if metric.Counts.ByDay["2026-03-11"] != 1 {
		t.Errorf("expected UTC bucket 2026-03-11, got %v", metric.Counts.ByDay)
	}
}

func TestHandleEventTagDelete(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	if err := agg.HandleEvent(ctx, taggingEvent(1, orgID, tagID, models.AuditActionApply, "task", uuid.NewString(), time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	deleteEvent := &models.AuditEvent{
		ID:             2,
		OrganizationID: orgID,
		Action:         models.AuditActionDelete,
		ResourceType:   models.AuditResourceTag,
		ResourceID:     tagID.String(),
	}
	if err := agg.HandleEvent(ctx, deleteEvent); err != nil {
		t.Fatal(err)
	}

	if _, err := metrics.Get(ctx, orgID, tagID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("metric should be gone after tag delete, got err = %v", err)
	}
}

func TestHandleEventIgnoresNonUsageEvents(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	ctx := context.Background()

	rename := &models.AuditEvent{
		ID:             1,
		OrganizationID: orgID,
		Action:         models.AuditActionUpdate,
		ResourceType:   models.AuditResourceTag,
		ResourceID:     uuid.NewString(),
	}
	if err := agg.HandleEvent(ctx, rename); err != nil {
		t.Fatal(err)
	}
	if len(metrics.metrics) != 0 {
		t.Error("rename event must not create a metric")
	}
}

func TestUsageRanges(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	// Seed a metric directly with one recent and one old bucket.
	recent := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02")
	old := time.Now().UTC().AddDate(0, 0, -60).Format("2006-01-02")
	metric, err := metrics.GetOrCreate(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	metric.Counts.Total = 5
	metric.Counts.ByDay[recent] = 2
	metric.Counts.ByDay[old] = 3
	if _, err := metrics.Update(ctx, metric); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		rangeStr  string
		wantTotal int
		wantDays  int
	}{
		{"all", 5, 2},
		{"7d", 2, 1},
		{"90d", 5, 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.rangeStr, func(t *testing.T) {
			t.Parallel()
			report, err := agg.Usage(ctx, orgID, tagID, tt.rangeStr)
			if err != nil {
				t.Fatalf("Usage(%s) error = %v", tt.rangeStr, err)
			}
			if report.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", report.Total, tt.wantTotal)
			}
			if len(report.ByDay) != tt.wantDays {
				t.Errorf("day buckets = %d, want %d", len(report.ByDay), tt.wantDays)
			}
		})
	}
}

func TestUsageExplicitRange(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	metric, err := metrics.GetOrCreate(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	metric.Counts.Total = 7
	metric.Counts.ByDay["2026-05-31"] = 1
	metric.Counts.ByDay["2026-06-01"] = 2
	metric.Counts.ByDay["2026-06-30"] = 1
	metric.Counts.ByDay["2026-07-02"] = 3
	if _, err := metrics.Update(ctx, metric); err != nil {
		t.Fatal(err)
	}

	report, err := agg.Usage(ctx, orgID, tagID, "2026-06-01..2026-06-30")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	// Both bounds are inclusive; days outside June fall away.
	if report.Total != 3 {
		t.Errorf("total = %d, want 3", report.Total)
	}
	if len(report.ByDay) != 2 {
		t.Errorf("day buckets = %v, want the two June days", report.ByDay)
	}
	if _, ok := report.ByDay["2026-07-02"]; ok {
		t.Error("bucket after the end bound must be excluded")
	}
	if _, ok := report.ByDay["2026-05-31"]; ok {
		t.Error("bucket before the start bound must be excluded")
	}
}

func TestUsageNamedRangeCutoffUsesOrgTimezone(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "America/New_York")
	// 03:00 UTC on March 11 is still March 10 in New York, so the 7d
	// window reaches back to March 3 there, not March 4.
	agg.now = func() time.Time {
		return time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)
	}
	orgID := uuid.New()
	tagID := uuid.New()
	ctx := context.Background()

	metric, err := metrics.GetOrCreate(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}
	metric.Counts.Total = 3
	metric.Counts.ByDay["2026-03-03"] = 1
	metric.Counts.ByDay["2026-03-04"] = 2
	if _, err := metrics.Update(ctx, metric); err != nil {
		t.Fatal(err)
	}

	report, err := agg.Usage(ctx, orgID, tagID, "7d")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if report.Total != 3 {
		t.Errorf("total = %d, want 3", report.Total)
	}
	if report.ByDay["2026-03-03"] != 1 {
		t.Errorf("window boundary day missing: %v", report.ByDay)
	}
}

func TestUsageInvalidRange(t *testing.T) {
	t.Parallel()

	agg, _ := newTestAggregator(&stubTaggingRepo{}, "UTC")

	tests := []string{
		"14d",
		"2026-06-01..",
		"..2026-06-30",
		"2026-06-01..not-a-day",
		"2026-07-01..2026-06-01",
	}
	for _, rangeStr := range tests {
		rangeStr := rangeStr
		t.Run(rangeStr, func(t *testing.T) {
			t.Parallel()
			_, err := agg.Usage(context.Background(), uuid.New(), uuid.New(), rangeStr)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestUsageUnknownTagIsEmpty(t *testing.T) {
	t.Parallel()

	agg, _ := newTestAggregator(&stubTaggingRepo{}, "UTC")

	report, err := agg.Usage(context.Background(), uuid.New(), uuid.New(), "")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if report.Total != 0 || report.Range != "all" {
		t.Errorf("expected empty lifetime report, got total=%d range=%s", report.Total, report.Range)
	}
}

func TestUsageCoOccurrenceConfidence(t *testing.T) {
	t.Parallel()

	related := uuid.New()
	taggings := &stubTaggingRepo{
		coOccurrences: []models.CoOccurrence{{TagID: related, TagName: "related", Count: 3}},
		countByTag:    10,
	}
	agg, _ := newTestAggregator(taggings, "UTC")

	report, err := agg.Usage(context.Background(), uuid.New(), uuid.New(), "all")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.CoOccurrences) != 1 {
		t.Fatalf("expected 1 co-occurrence, got %d", len(report.CoOccurrences))
	}
	// Confidence is shared count over the queried tag's own usage.
	if got := report.CoOccurrences[0].Confidence; got != 0.3 {
		t.Errorf("confidence = %v, want 0.3", got)
	}
}

func TestRebuildReproducesState(t *testing.T) {
	t.Parallel()

	agg, metrics := newTestAggregator(&stubTaggingRepo{}, "UTC")
	orgID := uuid.New()
	tagID := uuid.New()
	actor := uuid.NewString()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	events := []*models.AuditEvent{
		taggingEvent(1, orgID, tagID, models.AuditActionApply, "task", actor, at),
		taggingEvent(2, orgID, tagID, models.AuditActionApply, "email", actor, at.AddDate(0, 0, 1)),
		taggingEvent(3, orgID, tagID, models.AuditActionRemove, "task", actor, at.AddDate(0, 0, 2)),
	}
	for _, e := range events {
		if err := agg.HandleEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	incremental, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}

	if err := agg.Rebuild(ctx, orgID, &sliceReplayer{events: events}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	rebuilt, err := metrics.Get(ctx, orgID, tagID)
	if err != nil {
		t.Fatal(err)
	}

	if rebuilt.Counts.Total != incremental.Counts.Total {
		t.Errorf("rebuilt total = %d, incremental = %d", rebuilt.Counts.Total, incremental.Counts.Total)
	}
	if len(rebuilt.Counts.ByDay) != len(incremental.Counts.ByDay) {
		t.Errorf("rebuilt day buckets = %v, incremental = %v", rebuilt.Counts.ByDay, incremental.Counts.ByDay)
	}
	if rebuilt.LastEventID != incremental.LastEventID {
		t.Errorf("rebuilt last event id = %d, incremental = %d", rebuilt.LastEventID, incremental.LastEventID)
	}
}
