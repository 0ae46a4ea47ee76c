package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taggov/engine/internal/models"
)

// TaggingRepository handles tagging database operations. It owns the
// taggings table exclusively; rows disappear only through RemoveTx or a
// tag deletion's DeleteByTagTx.
type TaggingRepository struct {
	db *DB
}

// NewTaggingRepository creates a new tagging repository.
func NewTaggingRepository(db *DB) *TaggingRepository {
	return &TaggingRepository{db: db}
}

// InsertTx inserts a tagging inside an existing transaction. Returns false
// when the triple already existed (idempotent apply).
func (r *TaggingRepository) InsertTx(ctx context.Context, tx *sql.Tx, tagging *models.Tagging) (bool, error) {
	query := `
		INSERT INTO taggings (tag_id, organization_id, resource_type, resource_id, tagged_by, tagged_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tag_id, resource_type, resource_id) DO NOTHING
	`

	if tagging.TaggedAt.IsZero() {
		tagging.TaggedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, query,
		tagging.TagID,
		tagging.OrganizationID,
		tagging.ResourceType,
		tagging.ResourceID,
		tagging.TaggedBy,
		tagging.TaggedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert tagging: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}
	return affected > 0, nil
}

// RemoveTx deletes a tagging inside an existing transaction, returning the
// removed row for audit snapshots. Returns (nil, nil) when the triple did
// not exist (idempotent remove).
func (r *TaggingRepository) RemoveTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID, resourceType models.ResourceType, resourceID string) (*models.Tagging, error) {
	query := `
		DELETE FROM taggings
		WHERE organization_id = $1 AND tag_id = $2 AND resource_type = $3 AND resource_id = $4
		RETURNING tag_id, organization_id, resource_type, resource_id, tagged_by, tagged_at
	`

	tagging := &models.Tagging{}
	err := tx.QueryRowContext(ctx, query, orgID, tagID, resourceType, resourceID).Scan(
		&tagging.TagID,
		&tagging.OrganizationID,
		&tagging.ResourceType,
		&tagging.ResourceID,
		&tagging.TaggedBy,
		&tagging.TaggedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove tagging: %w", err)
	}
	return tagging, nil
}

// DeleteByTagTx removes every tagging carrying tagID inside an existing
// transaction, returning the removed rows so each removal can be audited.
func (r *TaggingRepository) DeleteByTagTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) ([]*models.Tagging, error) {
	query := `
		DELETE FROM taggings
		WHERE organization_id = $1 AND tag_id = $2
		RETURNING tag_id, organization_id, resource_type, resource_id, tagged_by, tagged_at
	`

	rows, err := tx.QueryContext(ctx, query, orgID, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete taggings for tag: %w", err)
	}
	defer rows.Close()

	var removed []*models.Tagging
	for rows.Next() {
		tagging := &models.Tagging{}
		if err := rows.Scan(
			&tagging.TagID,
			&tagging.OrganizationID,
			&tagging.ResourceType,
			&tagging.ResourceID,
			&tagging.TaggedBy,
			&tagging.TaggedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan removed tagging: %w", err)
		}
		removed = append(removed, tagging)
	}
	return removed, rows.Err()
}

// ListByResource retrieves every tagging on a resource.
func (r *TaggingRepository) ListByResource(ctx context.Context, orgID uuid.UUID, resourceType models.ResourceType, resourceID string) ([]*models.Tagging, error) {
	query := `
		SELECT tag_id, organization_id, resource_type, resource_id, tagged_by, tagged_at
		FROM taggings
		WHERE organization_id = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY tagged_at
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list taggings: %w", err)
	}
	defer rows.Close()

	var taggings []*models.Tagging
	for rows.Next() {
		tagging := &models.Tagging{}
		if err := rows.Scan(
			&tagging.TagID,
			&tagging.OrganizationID,
			&tagging.ResourceType,
			&tagging.ResourceID,
			&tagging.TaggedBy,
			&tagging.TaggedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tagging: %w", err)
		}
		taggings = append(taggings, tagging)
	}
	return taggings, rows.Err()
}

// ListByTagPaginated retrieves a page of resources carrying a tag,
// optionally filtered by resource type, newest first.
func (r *TaggingRepository) ListByTagPaginated(ctx context.Context, orgID, tagID uuid.UUID, resourceType *models.ResourceType, page, pageSize int) ([]*models.TaggedResource, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	where := `WHERE organization_id = $1 AND tag_id = $2`
	args := []any{orgID, tagID}
	if resourceType != nil {
		where += ` AND resource_type = $3`
		args = append(args, *resourceType)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM taggings ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count taggings: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT resource_type, resource_id, tagged_by, tagged_at
		FROM taggings %s
		ORDER BY tagged_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list taggings for tag: %w", err)
	}
	defer rows.Close()

	var resources []*models.TaggedResource
	for rows.Next() {
		res := &models.TaggedResource{}
		if err := rows.Scan(&res.ResourceType, &res.ResourceID, &res.TaggedBy, &res.TaggedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tagged resource: %w", err)
		}
		resources = append(resources, res)
	}
	return resources, total, rows.Err()
}

// CountByTag returns the current number of taggings carrying a tag.
func (r *TaggingRepository) CountByTag(ctx context.Context, orgID, tagID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM taggings WHERE organization_id = $1 AND tag_id = $2`
	if err := r.db.QueryRowContext(ctx, query, orgID, tagID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count taggings: %w", err)
	}
	return count, nil
}

// CountsByTag returns tagging counts for every tag in an organization.
// Used by tree listings with usage counts.
func (r *TaggingRepository) CountsByTag(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]int, error) {
	query := `SELECT tag_id, COUNT(*) FROM taggings WHERE organization_id = $1 GROUP BY tag_id`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to count taggings by tag: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var tagID uuid.UUID
		var count int
		if err := rows.Scan(&tagID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tagging count: %w", err)
		}
		counts[tagID] = count
	}
	return counts, rows.Err()
}

// CoOccurrences returns, for each other tag sharing at least one resource
// with tagID, the number of shared resources. Highest counts first.
func (r *TaggingRepository) CoOccurrences(ctx context.Context, orgID, tagID uuid.UUID) ([]models.CoOccurrence, error) {
	query := `
		SELECT other.tag_id, t.name, COUNT(*) AS shared
		FROM taggings base
		JOIN taggings other
		  ON other.organization_id = base.organization_id
		 AND other.resource_type = base.resource_type
		 AND other.resource_id = base.resource_id
		 AND other.tag_id <> base.tag_id
		JOIN tags t ON t.id = other.tag_id
		WHERE base.organization_id = $1 AND base.tag_id = $2
		GROUP BY other.tag_id, t.name
		ORDER BY shared DESC, t.name
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to query co-occurrences: %w", err)
	}
	defer rows.Close()

	var out []models.CoOccurrence
	for rows.Next() {
		var co models.CoOccurrence
		if err := rows.Scan(&co.TagID, &co.TagName, &co.Count); err != nil {
			return nil, fmt.Errorf("failed to scan co-occurrence: %w", err)
		}
		out = append(out, co)
	}
	return out, rows.Err()
}
