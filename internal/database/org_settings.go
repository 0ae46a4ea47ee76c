package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrgSettingsRepository stores per-organization engine settings. Currently
// just the time zone used for analytics day bucketing.
type OrgSettingsRepository struct {
	db *DB
}

// NewOrgSettingsRepository creates a new org settings repository.
func NewOrgSettingsRepository(db *DB) *OrgSettingsRepository {
	return &OrgSettingsRepository{db: db}
}

// GetTimezone returns the organization's configured IANA time zone,
// defaulting to UTC when unset.
func (r *OrgSettingsRepository) GetTimezone(ctx context.Context, orgID uuid.UUID) (string, error) {
	var tz string
	err := r.db.QueryRowContext(ctx, `SELECT timezone FROM org_settings WHERE organization_id = $1`, orgID).Scan(&tz)
	if err == sql.ErrNoRows {
		return "UTC", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get org timezone: %w", err)
	}
	return tz, nil
}

// SetTimezone stores the organization's time zone.
func (r *OrgSettingsRepository) SetTimezone(ctx context.Context, orgID uuid.UUID, tz string) error {
	query := `
		INSERT INTO org_settings (organization_id, timezone, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id) DO UPDATE
		SET timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, orgID, tz, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set org timezone: %w", err)
	}
	return nil
}
