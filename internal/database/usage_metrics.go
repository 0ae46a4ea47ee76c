package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
)

// UsageMetricRepository stores derived per-tag usage counts. Writes use a
// version check so concurrent consumers cannot clobber each other.
type UsageMetricRepository struct {
	db *DB
}

// NewUsageMetricRepository creates a new usage metric repository.
func NewUsageMetricRepository(db *DB) *UsageMetricRepository {
	return &UsageMetricRepository{db: db}
}

// GetOrCreate retrieves a tag's metric, initializing an empty one when
// none exists yet.
func (r *UsageMetricRepository) GetOrCreate(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error) {
	metric, err := r.get(ctx, orgID, tagID)
	if err == nil {
		return metric, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get usage metric: %w", err)
	}

	metric = &models.UsageMetric{
		OrganizationID: orgID,
		TagID:          tagID,
		Counts:         models.NewUsageCounts(),
	}
	countsJSON, err := json.Marshal(metric.Counts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal counts: %w", err)
	}

	// Upsert handles the race where another consumer created the row
	// between get and insert.
	query := `
		INSERT INTO usage_metrics (organization_id, tag_id, counts, last_event_id, version, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4)
		ON CONFLICT (organization_id, tag_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, orgID, tagID, countsJSON, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to create usage metric: %w", err)
	}

	metric, err = r.get(ctx, orgID, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload usage metric: %w", err)
	}
	return metric, nil
}

func (r *UsageMetricRepository) get(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error) {
	metric := &models.UsageMetric{}
	var countsJSON []byte

	query := `
		SELECT organization_id, tag_id, counts, last_event_id, version, updated_at
		FROM usage_metrics
		WHERE organization_id = $1 AND tag_id = $2
	`
	err := r.db.QueryRowContext(ctx, query, orgID, tagID).Scan(
		&metric.OrganizationID,
		&metric.TagID,
		&countsJSON,
		&metric.LastEventID,
		&metric.Version,
		&metric.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(countsJSON, &metric.Counts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
	}
	if metric.Counts.ByResourceType == nil {
		metric.Counts = models.NewUsageCounts()
	}
	return metric, nil
}

// Get retrieves a tag's metric, ErrNotFound when absent.
func (r *UsageMetricRepository) Get(ctx context.Context, orgID, tagID uuid.UUID) (*models.UsageMetric, error) {
	metric, err := r.get(ctx, orgID, tagID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("usage metric for tag %s: %w", tagID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage metric: %w", err)
	}
	return metric, nil
}

// Update writes a metric with a version check. Returns false on a version
// conflict, in which case the caller reloads and reapplies.
func (r *UsageMetricRepository) Update(ctx context.Context, metric *models.UsageMetric) (bool, error) {
	countsJSON, err := json.Marshal(metric.Counts)
	if err != nil {
		return false, fmt.Errorf("failed to marshal counts: %w", err)
	}

	query := `
		UPDATE usage_metrics
		SET counts = $1, last_event_id = $2, version = version + 1, updated_at = $3
		WHERE organization_id = $4 AND tag_id = $5 AND version = $6
		RETURNING version
	`

	var newVersion int
	err = r.db.QueryRowContext(ctx, query,
		countsJSON,
		metric.LastEventID,
		time.Now().UTC(),
		metric.OrganizationID,
		metric.TagID,
		metric.Version,
	).Scan(&newVersion)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update usage metric: %w", err)
	}

	metric.Version = newVersion
	return true, nil
}

// Delete removes a tag's metric (the tag itself was deleted).
func (r *UsageMetricRepository) Delete(ctx context.Context, orgID, tagID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_metrics WHERE organization_id = $1 AND tag_id = $2`, orgID, tagID); err != nil {
		return fmt.Errorf("failed to delete usage metric: %w", err)
	}
	return nil
}

// DeleteByOrg clears an organization's metrics ahead of a rebuild.
func (r *UsageMetricRepository) DeleteByOrg(ctx context.Context, orgID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_metrics WHERE organization_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to clear usage metrics: %w", err)
	}
	return nil
}
