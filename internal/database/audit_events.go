package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/taggov/engine/internal/models"
)

// AuditEventRepository handles the append-only audit log. Events are
// never updated; the only delete path is PurgeBeforeTx.
type AuditEventRepository struct {
	db *DB
}

// NewAuditEventRepository creates a new audit event repository.
func NewAuditEventRepository(db *DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// AppendTx appends an event inside an existing transaction, assigning the
// next id in the organization's sequence. A per-organization advisory lock
// serializes concurrent appends so ids are gap-free and strictly ordered
// within the transaction's commit order.
func (r *AuditEventRepository) AppendTx(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) (int64, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, event.OrganizationID); err != nil {
		return 0, fmt.Errorf("failed to acquire audit sequence lock: %w", err)
	}

	beforeJSON, afterJSON, err := marshalSnapshots(event)
	if err != nil {
		return 0, err
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (organization_id, id, actor_id, action, resource_type, resource_id, before_state, after_state, occurred_at)
		SELECT $1, COALESCE(MAX(id), 0) + 1, $2, $3, $4, $5, $6, $7, $8
		FROM audit_events WHERE organization_id = $1
		RETURNING id
	`

	err = tx.QueryRowContext(ctx, query,
		event.OrganizationID,
		nullUUID(event.ActorID),
		event.Action,
		event.ResourceType,
		event.ResourceID,
		beforeJSON,
		afterJSON,
		event.OccurredAt,
	).Scan(&event.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to append audit event: %w", err)
	}
	return event.ID, nil
}

// Append appends an event in its own transaction.
func (r *AuditEventRepository) Append(ctx context.Context, event *models.AuditEvent) (int64, error) {
	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = r.AppendTx(ctx, tx, event)
		return err
	})
	return id, err
}

// Query retrieves a filtered page of events, occurred_at descending, with
// the total match count.
func (r *AuditEventRepository) Query(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter, page, pageSize int) ([]*models.AuditEvent, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var conditions []string
	args := []any{orgID}
	conditions = append(conditions, "organization_id = $1")

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", len(args)))
	}
	if len(filter.ResourceTypes) > 0 {
		types := make([]string, len(filter.ResourceTypes))
		for i, rt := range filter.ResourceTypes {
			types[i] = string(rt)
		}
		args = append(args, pq.Array(types))
		conditions = append(conditions, fmt.Sprintf("resource_type = ANY($%d)", len(args)))
	}
	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT organization_id, id, actor_id, action, resource_type, resource_id, before_state, after_state, occurred_at
		FROM audit_events %s
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ReplayFrom retrieves up to limit events with id greater than sinceID in
// ascending id order. Resumable from any prior id with no gaps or
// duplicates; callers page by passing the last seen id back in.
func (r *AuditEventRepository) ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, limit int) ([]*models.AuditEvent, error) {
	if limit < 1 || limit > 1000 {
		limit = 500
	}

	query := `
		SELECT organization_id, id, actor_id, action, resource_type, resource_id, before_state, after_state, occurred_at
		FROM audit_events
		WHERE organization_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to replay audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// PurgeBeforeTx deletes events older than cutoff inside an existing
// transaction, returning how many were removed. Purge events themselves
// (action=purge) are retained regardless of age so the destruction stays
// on the record.
func (r *AuditEventRepository) PurgeBeforeTx(ctx context.Context, tx *sql.Tx, orgID uuid.UUID, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM audit_events
		WHERE organization_id = $1 AND occurred_at < $2 AND action <> $3
	`

	result, err := tx.ExecContext(ctx, query, orgID, cutoff, models.AuditActionPurge)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}
	return removed, nil
}

func scanEvents(rows *sql.Rows) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		var actorID uuid.NullUUID
		var beforeJSON, afterJSON []byte

		if err := rows.Scan(
			&event.OrganizationID,
			&event.ID,
			&actorID,
			&event.Action,
			&event.ResourceType,
			&event.ResourceID,
			&beforeJSON,
			&afterJSON,
			&event.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if actorID.Valid {
			event.ActorID = &actorID.UUID
		}
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &event.BeforeState); err != nil {
				return nil, fmt.Errorf("failed to unmarshal before_state: %w", err)
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &event.AfterState); err != nil {
				return nil, fmt.Errorf("failed to unmarshal after_state: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func marshalSnapshots(event *models.AuditEvent) ([]byte, []byte, error) {
	var beforeJSON, afterJSON []byte
	var err error
	if event.BeforeState != nil {
		beforeJSON, err = json.Marshal(event.BeforeState)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal before_state: %w", err)
		}
	}
	if event.AfterState != nil {
		afterJSON, err = json.Marshal(event.AfterState)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal after_state: %w", err)
		}
	}
	return beforeJSON, afterJSON, nil
}
