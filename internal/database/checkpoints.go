package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckpointRepository tracks how far each asynchronous consumer has read
// an organization's audit log. Consumers resume from their checkpoint
// after a restart, giving exactly-once processing over the log.
type CheckpointRepository struct {
	db *DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the last processed event id for a consumer/org pair, zero
// when the consumer has never run.
func (r *CheckpointRepository) Get(ctx context.Context, consumer string, orgID uuid.UUID) (int64, error) {
	var lastEventID int64
	query := `SELECT last_event_id FROM consumer_checkpoints WHERE consumer = $1 AND organization_id = $2`

	err := r.db.QueryRowContext(ctx, query, consumer, orgID).Scan(&lastEventID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return lastEventID, nil
}

// Set advances a consumer's checkpoint. Never moves backward: a stale
// writer racing a fresher one loses.
func (r *CheckpointRepository) Set(ctx context.Context, consumer string, orgID uuid.UUID, lastEventID int64) error {
	query := `
		INSERT INTO consumer_checkpoints (consumer, organization_id, last_event_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer, organization_id) DO UPDATE
		SET last_event_id = EXCLUDED.last_event_id, updated_at = EXCLUDED.updated_at
		WHERE consumer_checkpoints.last_event_id < EXCLUDED.last_event_id
	`

	if _, err := r.db.ExecContext(ctx, query, consumer, orgID, lastEventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

// Reset clears a consumer's checkpoint for an org ahead of a rebuild.
func (r *CheckpointRepository) Reset(ctx context.Context, consumer string, orgID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM consumer_checkpoints WHERE consumer = $1 AND organization_id = $2`, consumer, orgID); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}
