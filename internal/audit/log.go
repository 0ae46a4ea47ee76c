package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/queue"
	"go.uber.org/zap"
)

// Log is the append-only audit ledger. Appends run inside the originating
// mutation's transaction, so losing an event for a committed mutation is
// impossible: either both commit or neither does. After commit, a queue
// notification wakes the asynchronous consumers; those consumers read the
// log itself, so a dropped notification only delays them.
type Log struct {
	events database.AuditEventRepositoryInterface
	db     database.TxRunner
	notify queue.NoticeQueue // nil disables notifications (admin CLI, tests)
	logger *zap.Logger
}

// NewLog creates the audit log service.
func NewLog(events database.AuditEventRepositoryInterface, db database.TxRunner, notify queue.NoticeQueue, logger *zap.Logger) *Log {
	return &Log{events: events, db: db, notify: notify, logger: logger}
}

// AppendTx appends an event inside an existing transaction and returns its
// per-organization id.
func (l *Log) AppendTx(ctx context.Context, tx *sql.Tx, event *models.AuditEvent) (int64, error) {
	return l.events.AppendTx(ctx, tx, event)
}

// Notify publishes a wake-up for the asynchronous consumers. Best-effort:
// a failure is logged, not returned, because the committed log is the
// source of truth and consumers catch up from their checkpoints.
func (l *Log) Notify(ctx context.Context, orgID uuid.UUID, eventID int64) {
	if l.notify == nil {
		return
	}
	if err := l.notify.Publish(ctx, queue.NewNotification(orgID, eventID)); err != nil {
		l.logger.Warn("failed_to_publish_audit_notification",
			zap.String("organization_id", orgID.String()),
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
	}
}

// Query retrieves a filtered page of events, newest first, with the total
// match count.
func (l *Log) Query(ctx context.Context, orgID uuid.UUID, filter models.AuditFilter, page, pageSize int) ([]*models.AuditEvent, int, error) {
	return l.events.Query(ctx, orgID, filter, page, pageSize)
}

// ReplayFrom streams events with id greater than sinceID in ascending
// order through fn, paging internally. fn returning an error stops the
// replay; the error is surfaced so the caller's checkpoint stays put.
func (l *Log) ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, fn func(*models.AuditEvent) error) error {
	const batchSize = 500
	cursor := sinceID
	for {
		events, err := l.events.ReplayFrom(ctx, orgID, cursor, batchSize)
		if err != nil {
			return fmt.Errorf("failed to read audit events after %d: %w", cursor, err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			if err := fn(event); err != nil {
				return err
			}
			cursor = event.ID
		}
		if len(events) < batchSize {
			return nil
		}
	}
}

// PurgeBefore deletes events older than cutoff under the organization's
// retention policy. The one sanctioned destruction of log data; the purge
// itself is recorded as a system audit event in the same transaction.
func (l *Log) PurgeBefore(ctx context.Context, orgID uuid.UUID, cutoff time.Time) (int64, error) {
	var removed int64
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = l.events.PurgeBeforeTx(ctx, tx, orgID, cutoff)
		if err != nil {
			return err
		}

		purgeEvent := &models.AuditEvent{
			OrganizationID: orgID,
			ActorID:        nil, // system action
			Action:         models.AuditActionPurge,
			ResourceType:   models.AuditResourceAuditLog,
			ResourceID:     orgID.String(),
			AfterState: models.Snapshot{
				"purged_count":  removed,
				"purged_before": cutoff.UTC().Format(time.RFC3339),
			},
		}
		_, err = l.events.AppendTx(ctx, tx, purgeEvent)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("purged_audit_events",
		zap.String("organization_id", orgID.String()),
		zap.Int64("removed", removed),
		zap.Time("cutoff", cutoff),
	)
	return removed, nil
}
