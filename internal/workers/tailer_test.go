package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
	"github.com/taggov/engine/internal/queue"
	"go.uber.org/zap"
)

// memCheckpointRepo tracks per-consumer checkpoints in memory.
type memCheckpointRepo struct {
	mu          sync.Mutex
	checkpoints map[string]int64
}

func newMemCheckpointRepo() *memCheckpointRepo {
	return &memCheckpointRepo{checkpoints: make(map[string]int64)}
}

func (r *memCheckpointRepo) key(consumer string, orgID uuid.UUID) string {
	return consumer + "/" + orgID.String()
}

func (r *memCheckpointRepo) Get(ctx context.Context, consumer string, orgID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpoints[r.key(consumer, orgID)], nil
}

func (r *memCheckpointRepo) Set(ctx context.Context, consumer string, orgID uuid.UUID, lastEventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[r.key(consumer, orgID)] = lastEventID
	return nil
}

func (r *memCheckpointRepo) Reset(ctx context.Context, consumer string, orgID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, r.key(consumer, orgID))
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

// countingConsumer records handled event ids, optionally failing on one.
type countingConsumer struct {
	name    string
	failOn  int64
	handled []int64
}

func (c *countingConsumer) Name() string { return c.name }

func (c *countingConsumer) HandleEvent(ctx context.Context, event *models.AuditEvent) error {
	if c.failOn != 0 && event.ID == c.failOn {
		return errors.New("handler failure")
	}
	c.handled = append(c.handled, event.ID)
	return nil
}

// fakeMessage mimics a queue delivery.
type fakeMessage struct {
	notice  *queue.Notification
	acked   bool
	nacked  bool
	requeue bool
}

func (m *fakeMessage) Ack() error { m.acked = true; return nil }

func (m *fakeMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeue = requeue
	return nil
}

func (m *fakeMessage) GetNotification() *queue.Notification { return m.notice }

func orgEvents(orgID uuid.UUID, ids ...int64) []*models.AuditEvent {
	out := make([]*models.AuditEvent, len(ids))
	for i, id := range ids {
		out[i] = &models.AuditEvent{ID: id, OrganizationID: orgID, Action: models.AuditActionCreate}
	}
	return out
}

func TestCatchUpAdvancesCheckpoint(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	checkpoints := newMemCheckpointRepo()
	consumer := &countingConsumer{name: "analytics"}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1, 2, 3)}, checkpoints, []EventConsumer{consumer}, zap.NewNop())

	if err := tailer.CatchUp(context.Background(), orgID); err != nil {
		t.Fatalf("CatchUp() error = %v", err)
	}

	if len(consumer.handled) != 3 {
		t.Fatalf("handled %d events, want 3", len(consumer.handled))
	}
	cp, _ := checkpoints.Get(context.Background(), "analytics", orgID)
	if cp != 3 {
		t.Errorf("checkpoint = %d, want 3", cp)
	}
}

func TestCatchUpResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	checkpoints := newMemCheckpointRepo()
	_ = checkpoints.Set(context.Background(), "analytics", orgID, 2)
	consumer := &countingConsumer{name: "analytics"}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1, 2, 3, 4)}, checkpoints, []EventConsumer{consumer}, zap.NewNop())

	if err := tailer.CatchUp(context.Background(), orgID); err != nil {
		t.Fatal(err)
	}

	if len(consumer.handled) != 2 || consumer.handled[0] != 3 || consumer.handled[1] != 4 {
		t.Errorf("handled = %v, want [3 4]", consumer.handled)
	}
}

func TestCatchUpIndependentConsumers(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	checkpoints := newMemCheckpointRepo()
	// The second consumer is further along; it must not reprocess.
	_ = checkpoints.Set(context.Background(), "compliance", orgID, 3)
	analytics := &countingConsumer{name: "analytics"}
	compliance := &countingConsumer{name: "compliance"}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1, 2, 3)}, checkpoints, []EventConsumer{analytics, compliance}, zap.NewNop())

	if err := tailer.CatchUp(context.Background(), orgID); err != nil {
		t.Fatal(err)
	}

	if len(analytics.handled) != 3 {
		t.Errorf("analytics handled %d, want 3", len(analytics.handled))
	}
	if len(compliance.handled) != 0 {
		t.Errorf("compliance handled %d, want 0", len(compliance.handled))
	}
}

func TestCatchUpStopsAtFailureKeepingCheckpoint(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	checkpoints := newMemCheckpointRepo()
	consumer := &countingConsumer{name: "analytics", failOn: 2}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1, 2, 3)}, checkpoints, []EventConsumer{consumer}, zap.NewNop())

	err := tailer.CatchUp(context.Background(), orgID)
	if err == nil {
		t.Fatal("expected error from failing handler")
	}

	// Checkpoint stops at the last handled event so the failed one is
	// redelivered next time.
	cp, _ := checkpoints.Get(context.Background(), "analytics", orgID)
	if cp != 1 {
		t.Errorf("checkpoint = %d, want 1", cp)
	}
}

func TestProcessNoticeAcksOnSuccess(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1)}, newMemCheckpointRepo(), nil, zap.NewNop())
	msg := &fakeMessage{notice: queue.NewNotification(orgID, 1)}

	if err := tailer.ProcessNotice(context.Background(), msg); err != nil {
		t.Fatalf("ProcessNotice() error = %v", err)
	}
	if !msg.acked || msg.nacked {
		t.Errorf("expected ack only, got acked=%v nacked=%v", msg.acked, msg.nacked)
	}
}

func TestProcessNoticeRequeuesOnFailure(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	consumer := &countingConsumer{name: "analytics", failOn: 1}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1)}, newMemCheckpointRepo(), []EventConsumer{consumer}, zap.NewNop())

	notice := queue.NewNotification(orgID, 1)
	msg := &fakeMessage{notice: notice}

	if err := tailer.ProcessNotice(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
	if !msg.nacked || !msg.requeue {
		t.Errorf("expected nack with requeue, got nacked=%v requeue=%v", msg.nacked, msg.requeue)
	}
	if notice.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", notice.RetryCount)
	}
}

func TestProcessNoticeDeadLettersAfterMaxRetries(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	consumer := &countingConsumer{name: "analytics", failOn: 1}
	tailer := NewLogTailer(&sliceReplayer{events: orgEvents(orgID, 1)}, newMemCheckpointRepo(), []EventConsumer{consumer}, zap.NewNop())

	notice := queue.NewNotification(orgID, 1)
	notice.RetryCount = notice.MaxRetries
	msg := &fakeMessage{notice: notice}

	if err := tailer.ProcessNotice(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
	if !msg.nacked || msg.requeue {
		t.Errorf("expected nack without requeue, got nacked=%v requeue=%v", msg.nacked, msg.requeue)
	}
}

func TestProcessNoticeEmptyPayload(t *testing.T) {
	t.Parallel()

	tailer := NewLogTailer(&sliceReplayer{}, newMemCheckpointRepo(), nil, zap.NewNop())
	msg := &fakeMessage{notice: nil}

	if err := tailer.ProcessNotice(context.Background(), msg); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if !msg.nacked || msg.requeue {
		t.Errorf("empty payload should be dead-lettered, got nacked=%v requeue=%v", msg.nacked, msg.requeue)
	}
}
