package models

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType identifies the kind of content item a tag is applied to.
type ResourceType string

const (
	ResourceTypeTask        ResourceType = "task"
	ResourceTypeDocument    ResourceType = "document"
	ResourceTypeEmail       ResourceType = "email"
	ResourceTypeChatChannel ResourceType = "chat_channel"
	ResourceTypeChatMessage ResourceType = "chat_message"
)

// ResourceTypes lists every valid resource type, in enum order.
var ResourceTypes = []ResourceType{
	ResourceTypeTask,
	ResourceTypeDocument,
	ResourceTypeEmail,
	ResourceTypeChatChannel,
	ResourceTypeChatMessage,
}

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceTypeTask, ResourceTypeDocument, ResourceTypeEmail,
		ResourceTypeChatChannel, ResourceTypeChatMessage:
		return true
	}
	return false
}

// Tagging records that a content item carries a tag. The
// (TagID, ResourceType, ResourceID) triple is unique; re-applying an
// existing tagging is a no-op.
type Tagging struct {
	TagID          uuid.UUID    `json:"tag_id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	ResourceType   ResourceType `json:"resource_type"`
	ResourceID     string       `json:"resource_id"`
	TaggedBy       uuid.UUID    `json:"tagged_by"`
	TaggedAt       time.Time    `json:"tagged_at"`
}

// TaggedResource is one entry of a ResourcesForTag page.
type TaggedResource struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	TaggedBy     uuid.UUID    `json:"tagged_by"`
	TaggedAt     time.Time    `json:"tagged_at"`
}
