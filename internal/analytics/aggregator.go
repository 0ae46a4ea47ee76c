package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"go.uber.org/zap"
)

// ConsumerName identifies this consumer's audit log checkpoint.
const ConsumerName = "analytics"

// Replayer streams audit events in order, used for full rebuilds.
type Replayer interface {
	ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, fn func(*models.AuditEvent) error) error
}

// dayFormat keys the per-calendar-day buckets.
const dayFormat = "2006-01-02"

// ErrInvalidRange is returned when a usage query names an unknown range.
var ErrInvalidRange = errors.New("invalid range (must be 7d, 30d, 90d, all, or start..end days)")

// Aggregator maintains per-tag usage metrics incrementally from the
// audit stream. The stored metric carries the last applied event id, so
// redelivered events are skipped and consumption stays exactly-once. The
// increments are an optimization only: Rebuild reproduces the same state
// from an empty table by replaying the log.
type Aggregator struct {
	metrics  database.UsageMetricRepositoryInterface
	taggings database.TaggingRepositoryInterface
	settings database.OrgSettingsRepositoryInterface
	cache    *Cache // nil disables caching
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an analytics aggregator.
func NewAggregator(
	metrics database.UsageMetricRepositoryInterface,
	taggings database.TaggingRepositoryInterface,
	settings database.OrgSettingsRepositoryInterface,
	cache *Cache,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		metrics:  metrics,
		taggings: taggings,
		settings: settings,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Name implements the log consumer interface.
func (a *Aggregator) Name() string {
	return ConsumerName
}

// HandleEvent applies one audit event to the affected tag's metric.
// Events that don't touch usage (tag renames, purges) are ignored.
func (a *Aggregator) HandleEvent(ctx context.Context, event *models.AuditEvent) error {
	switch {
	case event.ResourceType == models.AuditResourceTagging &&
		(event.Action == models.AuditActionApply || event.Action == models.AuditActionRemove):
		return a.applyTaggingEvent(ctx, event)
	case event.ResourceType == models.AuditResourceTag && event.Action == models.AuditActionDelete:
		tagID, err := uuid.Parse(event.ResourceID)
		if err != nil {
			return fmt.Errorf("bad tag id in delete event %d: %w", event.ID, err)
		}
		if err := a.metrics.Delete(ctx, event.OrganizationID, tagID); err != nil {
			return err
		}
		a.invalidate(ctx, event.OrganizationID, tagID)
		return nil
	}
	return nil
}

func (a *Aggregator) applyTaggingEvent(ctx context.Context, event *models.AuditEvent) error {
	snap := event.AfterState
	if event.Action == models.AuditActionRemove {
		snap = event.BeforeState
	}
	if snap == nil {
		return fmt.Errorf("tagging event %d has no snapshot", event.ID)
	}

	tagIDStr, _ := snap["tag_id"].(string)
	tagID, err := uuid.Parse(tagIDStr)
	if err != nil {
		return fmt.Errorf("bad tag id in tagging event %d: %w", event.ID, err)
	}
	resourceType, _ := snap["resource_type"].(string)
	taggedBy, _ := snap["tagged_by"].(string)

	day, err := a.bucketDay(ctx, event.OrganizationID, event.OccurredAt)
	if err != nil {
		return err
	}

	delta := 1
	if event.Action == models.AuditActionRemove {
		delta = -1
	}

	// Version-checked write with a reload loop for concurrent consumers.
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		metric, err := a.metrics.GetOrCreate(ctx, event.OrganizationID, tagID)
		if err != nil {
			return err
		}
		if metric.LastEventID >= event.ID {
			// Already applied; redelivery is a no-op.
			return nil
		}

		bump(metric.Counts.ByResourceType, models.ResourceType(resourceType), delta)
		bumpStr(metric.Counts.ByUser, taggedBy, delta)
		bumpStr(metric.Counts.ByDay, day, delta)
		metric.Counts.Total += delta
		if metric.Counts.Total < 0 {
			metric.Counts.Total = 0
		}
		metric.LastEventID = event.ID

		updated, err := a.metrics.Update(ctx, metric)
		if err != nil {
			return err
		}
		if updated {
			a.invalidate(ctx, event.OrganizationID, tagID)
			return nil
		}
	}
	return fmt.Errorf("usage metric for tag %s: too many version conflicts", tagID)
}

func bump(m map[models.ResourceType]int, key models.ResourceType, delta int) {
	m[key] += delta
	if m[key] <= 0 {
		delete(m, key)
	}
}

func bumpStr(m map[string]int, key string, delta int) {
	if key == "" {
		return
	}
	m[key] += delta
	if m[key] <= 0 {
		delete(m, key)
	}
}

// bucketDay formats a timestamp as a calendar day in the organization's
// configured time zone.
func (a *Aggregator) bucketDay(ctx context.Context, orgID uuid.UUID, ts time.Time) (string, error) {
	loc, err := a.orgLocation(ctx, orgID)
	if err != nil {
		return "", err
	}
	return ts.In(loc).Format(dayFormat), nil
}

// orgLocation loads the organization's time zone, falling back to UTC
// when the stored name doesn't resolve.
func (a *Aggregator) orgLocation(ctx context.Context, orgID uuid.UUID) (*time.Location, error) {
	tz, err := a.settings.GetTimezone(ctx, orgID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		a.logger.Warn("invalid_org_timezone",
			zap.String("organization_id", orgID.String()),
			zap.String("timezone", tz),
		)
		return time.UTC, nil
	}
	return loc, nil
}

// Usage builds the query-time report for one tag. Named ranges (7d, 30d,
// 90d) restrict the day buckets and total to the trailing window, with
// the cutoff day computed in the organization's time zone to match how
// the buckets were keyed; "all" returns lifetime counts; an explicit
// "2026-06-01..2026-06-30" pair bounds the window to those days
// inclusive. Co-occurrence confidence is asymmetric: shared count
// divided by this tag's current usage.
func (a *Aggregator) Usage(ctx context.Context, orgID, tagID uuid.UUID, rangeStr string) (*models.UsageReport, error) {
	rangeStr = strings.ToLower(strings.TrimSpace(rangeStr))
	if rangeStr == "" {
		rangeStr = "all"
	}
	days, window, err := parseRange(rangeStr)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if report, ok := a.cache.Get(ctx, orgID, tagID, rangeStr); ok {
			return report, nil
		}
	}

	if days > 0 {
		loc, err := a.orgLocation(ctx, orgID)
		if err != nil {
			return nil, err
		}
		window.start = a.now().In(loc).AddDate(0, 0, -days).Format(dayFormat)
	}

	metric, err := a.metrics.Get(ctx, orgID, tagID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			metric = &models.UsageMetric{
				OrganizationID: orgID,
				TagID:          tagID,
				Counts:         models.NewUsageCounts(),
			}
		} else {
			return nil, err
		}
	}

	report := &models.UsageReport{
		TagID:          tagID,
		Range:          rangeStr,
		ByResourceType: metric.Counts.ByResourceType,
		ByUser:         metric.Counts.ByUser,
		GeneratedAt:    time.Now().UTC(),
	}

	if window.unbounded() {
		report.Total = metric.Counts.Total
		report.ByDay = metric.Counts.ByDay
	} else {
		filtered := make(map[string]int)
		total := 0
		for day, count := range metric.Counts.ByDay {
			if window.contains(day) {
				filtered[day] = count
				total += count
			}
		}
		report.Total = total
		report.ByDay = filtered
	}

	coOccurrences, err := a.taggings.CoOccurrences(ctx, orgID, tagID)
	if err != nil {
		return nil, err
	}
	usage, err := a.taggings.CountByTag(ctx, orgID, tagID)
	if err != nil {
		return nil, err
	}
	for i := range coOccurrences {
		if usage > 0 {
			coOccurrences[i].Confidence = float64(coOccurrences[i].Count) / float64(usage)
		}
	}
	report.CoOccurrences = coOccurrences

	if a.cache != nil {
		a.cache.Set(ctx, orgID, tagID, rangeStr, report)
	}
	return report, nil
}

// usageWindow bounds day buckets by their keys, inclusive on both ends.
// An empty bound leaves that side open.
type usageWindow struct {
	start string
	end   string
}

func (w usageWindow) unbounded() bool {
	return w.start == "" && w.end == ""
}

func (w usageWindow) contains(day string) bool {
	if w.start != "" && day < w.start {
		return false
	}
	if w.end != "" && day > w.end {
		return false
	}
	return true
}

// parseRange resolves a range expression into either a trailing-window
// length in days (named ranges) or a fixed day window (explicit bounds).
func parseRange(rangeStr string) (int, usageWindow, error) {
	switch rangeStr {
	case "7d":
		return 7, usageWindow{}, nil
	case "30d":
		return 30, usageWindow{}, nil
	case "90d":
		return 90, usageWindow{}, nil
	case "all":
		return 0, usageWindow{}, nil
	}

	start, end, ok := strings.Cut(rangeStr, "..")
	if !ok {
		return 0, usageWindow{}, fmt.Errorf("%q: %w", rangeStr, ErrInvalidRange)
	}
	for _, day := range [2]string{start, end} {
		if _, err := time.Parse(dayFormat, day); err != nil {
			return 0, usageWindow{}, fmt.Errorf("%q: %w", rangeStr, ErrInvalidRange)
		}
	}
	if start > end {
		return 0, usageWindow{}, fmt.Errorf("%q: start after end: %w", rangeStr, ErrInvalidRange)
	}
	return 0, usageWindow{start: start, end: end}, nil
}

// Rebuild clears an organization's metrics and recomputes them by
// replaying the full log from empty.
func (a *Aggregator) Rebuild(ctx context.Context, orgID uuid.UUID, replayer Replayer) error {
	if err := a.metrics.DeleteByOrg(ctx, orgID); err != nil {
		return err
	}

	var processed int
	err := replayer.ReplayFrom(ctx, orgID, 0, func(event *models.AuditEvent) error {
		processed++
		return a.HandleEvent(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild usage metrics: %w", err)
	}

	a.logger.Info("rebuilt_usage_metrics",
		zap.String("organization_id", orgID.String()),
		zap.Int("events_processed", processed),
	)
	return nil
}

func (a *Aggregator) invalidate(ctx context.Context, orgID, tagID uuid.UUID) {
	if a.cache != nil {
		a.cache.Invalidate(ctx, orgID, tagID)
	}
}
