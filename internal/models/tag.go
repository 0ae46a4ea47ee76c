package models

import (
	"time"

	"github.com/google/uuid"
)

// ChildPolicy controls what happens to a deleted tag's children.
// The caller must choose explicitly; there is no default.
type ChildPolicy string

const (
	// ChildPolicyReparent moves children to the deleted tag's parent.
	ChildPolicyReparent ChildPolicy = "reparent_to_grandparent"
	// ChildPolicyCascade deletes children along with the tag.
	ChildPolicyCascade ChildPolicy = "cascade_delete"
)

// Tag is a node in an organization's tag forest. Position in the forest is
// carried by ParentID; a nil ParentID marks a root.
type Tag struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Name           string     `json:"name"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	Color          *string    `json:"color,omitempty"`
	Description    *string    `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TagNode is a tag plus its attached children, produced by the forest
// builder for tree listings. Children are ordered by name.
type TagNode struct {
	Tag
	UsageCount *int       `json:"usage_count,omitempty"`
	Children   []*TagNode `json:"children"`
}

// MaxTagNameLength caps tag names; MaxTagDescriptionLength caps descriptions.
const (
	MaxTagNameLength        = 100
	MaxTagDescriptionLength = 500
)
