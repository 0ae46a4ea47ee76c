package queue

import (
	"time"

	"github.com/google/uuid"
)

// Notification wakes asynchronous consumers after an audit event commits.
// It carries the org and the committed event id; consumers read the actual
// events from the log via their checkpoint, so a lost notification delays
// processing but never loses data.
type Notification struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	EventID        int64     `json:"event_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
}

// NewNotification creates a notification for a committed audit event.
func NewNotification(orgID uuid.UUID, eventID int64) *Notification {
	return &Notification{
		ID:             uuid.New(),
		OrganizationID: orgID,
		EventID:        eventID,
		EnqueuedAt:     time.Now().UTC(),
		RetryCount:     0,
		MaxRetries:     3,
	}
}

// CanRetry checks if the notification can be redelivered.
func (n *Notification) CanRetry() bool {
	return n.RetryCount < n.MaxRetries
}

// IncrementRetry increments the retry count.
func (n *Notification) IncrementRetry() {
	n.RetryCount++
}
