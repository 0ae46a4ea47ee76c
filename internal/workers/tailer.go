package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/database"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/queue"
	"go.uber.org/zap"
)

// EventConsumer is a derived-state maintainer fed from the audit log.
// HandleEvent must be idempotent: the tailer may redeliver an event after
// a crash between handling and checkpointing.
type EventConsumer interface {
	Name() string
	HandleEvent(ctx context.Context, event *models.AuditEvent) error
}

// Replayer streams audit events for one organization in id order.
type Replayer interface {
	ReplayFrom(ctx context.Context, orgID uuid.UUID, sinceID int64, fn func(*models.AuditEvent) error) error
}

// LogTailer advances registered consumers through the audit log. Queue
// notifications are wake-ups only: on each notice the tailer reads every
// event past the consumer's checkpoint, so dropped or reordered notices
// cost latency, never correctness.
type LogTailer struct {
	audit       Replayer
	checkpoints database.CheckpointRepositoryInterface
	consumers   []EventConsumer
	logger      *zap.Logger
}

// NewLogTailer creates a tailer over the given consumers.
func NewLogTailer(
	audit Replayer,
	checkpoints database.CheckpointRepositoryInterface,
	consumers []EventConsumer,
	logger *zap.Logger,
) *LogTailer {
	return &LogTailer{
		audit:       audit,
		checkpoints: checkpoints,
		consumers:   consumers,
		logger:      logger,
	}
}

// ProcessNotice handles one queue message: catch every consumer up for
// the notice's organization, then ack. Failures nack with requeue until
// the notice runs out of retries, after which it goes to the DLQ; the
// next notice for the org will cover the same events anyway.
func (t *LogTailer) ProcessNotice(ctx context.Context, msg queue.MessageInterface) error {
	notice := msg.GetNotification()
	if notice == nil {
		if nackErr := msg.Nack(false); nackErr != nil {
			t.logger.Warn("failed_to_nack_empty_notice", zap.Error(nackErr))
		}
		return fmt.Errorf("notice has no payload")
	}

	if err := t.CatchUp(ctx, notice.OrganizationID); err != nil {
		if notice.CanRetry() {
			notice.IncrementRetry()
			if nackErr := msg.Nack(true); nackErr != nil {
				t.logger.Warn("failed_to_nack_notice", zap.Error(nackErr))
			}
			return fmt.Errorf("catch-up failed (will retry): %w", err)
		}
		if nackErr := msg.Nack(false); nackErr != nil {
			t.logger.Warn("failed_to_nack_notice", zap.Error(nackErr))
		}
		return fmt.Errorf("catch-up failed (max retries, sent to DLQ): %w", err)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack notice: %w", ackErr)
	}
	return nil
}

// CatchUp reads every event past each consumer's checkpoint and applies
// it, advancing the checkpoint after each handled event.
func (t *LogTailer) CatchUp(ctx context.Context, orgID uuid.UUID) error {
	for _, consumer := range t.consumers {
		if err := t.catchUpConsumer(ctx, orgID, consumer); err != nil {
			return fmt.Errorf("consumer %s: %w", consumer.Name(), err)
		}
	}
	return nil
}

func (t *LogTailer) catchUpConsumer(ctx context.Context, orgID uuid.UUID, consumer EventConsumer) error {
	since, err := t.checkpoints.Get(ctx, consumer.Name(), orgID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var handled int
	err = t.audit.ReplayFrom(ctx, orgID, since, func(event *models.AuditEvent) error {
		if err := consumer.HandleEvent(ctx, event); err != nil {
			return fmt.Errorf("event %d: %w", event.ID, err)
		}
		if err := t.checkpoints.Set(ctx, consumer.Name(), orgID, event.ID); err != nil {
			return fmt.Errorf("failed to advance checkpoint past event %d: %w", event.ID, err)
		}
		handled++
		return nil
	})
	if err != nil {
		return err
	}

	if handled > 0 {
		t.logger.Debug("advanced_consumer_checkpoint",
			zap.String("consumer", consumer.Name()),
			zap.String("organization_id", orgID.String()),
			zap.Int("events_handled", handled),
		)
	}
	return nil
}
