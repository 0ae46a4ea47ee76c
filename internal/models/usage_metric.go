package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounts is the incrementally maintained portion of a tag's usage
// metric. Day buckets are keyed by calendar day (YYYY-MM-DD) in the
// organization's configured time zone.
type UsageCounts struct {
	Total          int                  `json:"total"`
	ByResourceType map[ResourceType]int `json:"by_resource_type"`
	ByUser         map[string]int       `json:"by_user"` // keyed by actor UUID string
	ByDay          map[string]int       `json:"by_day"`
}

// NewUsageCounts returns zeroed counts with allocated maps.
func NewUsageCounts() UsageCounts {
	return UsageCounts{
		ByResourceType: make(map[ResourceType]int),
		ByUser:         make(map[string]int),
		ByDay:          make(map[string]int),
	}
}

// UsageMetric is the stored, derived usage state for one tag. Never the
// source of truth: it must be reproducible by replaying the audit log.
// Version implements optimistic concurrency on writes.
type UsageMetric struct {
	OrganizationID uuid.UUID   `json:"organization_id"`
	TagID          uuid.UUID   `json:"tag_id"`
	Counts         UsageCounts `json:"counts"`
	LastEventID    int64       `json:"last_event_id"`
	Version        int         `json:"version"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CoOccurrence pairs a related tag with an asymmetric confidence score:
// (resources tagged with both) / (total usage of the queried tag).
type CoOccurrence struct {
	TagID      uuid.UUID `json:"tag_id"`
	TagName    string    `json:"tag_name"`
	Count      int       `json:"count"`
	Confidence float64   `json:"confidence"`
}

// UsageReport is the query-time view of a tag's usage over a date range.
type UsageReport struct {
	TagID          uuid.UUID            `json:"tag_id"`
	Range          string               `json:"range"`
	Total          int                  `json:"total"`
	ByResourceType map[ResourceType]int `json:"by_resource_type"`
	ByUser         map[string]int       `json:"by_user"`
	ByDay          map[string]int       `json:"by_day"`
	CoOccurrences  []CoOccurrence       `json:"co_occurrences"`
	GeneratedAt    time.Time            `json:"generated_at"`
}
