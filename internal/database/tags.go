package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/taggov/engine/internal/models"
)

// TagRepository handles tag database operations.
type TagRepository struct {
	db *DB
}

// NewTagRepository creates a new tag repository.
func NewTagRepository(db *DB) *TagRepository {
	return &TagRepository{db: db}
}

const tagColumns = `id, organization_id, name, parent_id, color, description, created_at, created_by, updated_at`

// LockOrgTx takes the organization's advisory lock inside tx, serializing
// tag-forest mutations across server replicas. Uses the same key as the
// audit sequence lock, so a mutation holds it through its append and
// commit. Released when tx ends.
func (r *TagRepository) LockOrgTx(ctx context.Context, tx *sql.Tx, orgID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, orgID); err != nil {
		return fmt.Errorf("failed to acquire org mutation lock: %w", err)
	}
	return nil
}

func scanTag(row interface{ Scan(...any) error }) (*models.Tag, error) {
	tag := &models.Tag{}
	var parentID uuid.NullUUID
	var color, description sql.NullString

	err := row.Scan(
		&tag.ID,
		&tag.OrganizationID,
		&tag.Name,
		&parentID,
		&color,
		&description,
		&tag.CreatedAt,
		&tag.CreatedBy,
		&tag.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		tag.ParentID = &parentID.UUID
	}
	if color.Valid {
		tag.Color = &color.String
	}
	if description.Valid {
		tag.Description = &description.String
	}
	return tag, nil
}

// GetByID retrieves a tag by id within an organization.
func (r *TagRepository) GetByID(ctx context.Context, orgID, tagID uuid.UUID) (*models.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags WHERE organization_id = $1 AND id = $2`

	tag, err := scanTag(r.db.QueryRowContext(ctx, query, orgID, tagID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tag %s: %w", tagID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return tag, nil
}

// GetByIDs retrieves the tags in ids that exist within an organization.
func (r *TagRepository) GetByIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]*models.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + tagColumns + ` FROM tags WHERE organization_id = $1 AND id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, orgID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListByOrg retrieves every tag in an organization.
func (r *TagRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags WHERE organization_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// SiblingNameExists reports whether a tag with the given name (compared
// case-insensitively) already exists under parentID. excludeID, when set,
// ignores that tag so renames don't collide with themselves.
func (r *TagRepository) SiblingNameExists(ctx context.Context, orgID uuid.UUID, parentID *uuid.UUID, name string, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tags
			WHERE organization_id = $1
			  AND COALESCE(parent_id, '00000000-0000-0000-0000-000000000000'::uuid) = COALESCE($2, '00000000-0000-0000-0000-000000000000'::uuid)
			  AND LOWER(name) = LOWER($3)
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`

	var parent uuid.NullUUID
	if parentID != nil {
		parent = uuid.NullUUID{UUID: *parentID, Valid: true}
	}
	var exclude uuid.NullUUID
	if excludeID != nil {
		exclude = uuid.NullUUID{UUID: *excludeID, Valid: true}
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, orgID, parent, name, exclude).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check sibling name: %w", err)
	}
	return exists, nil
}

// CreateTx inserts a tag inside an existing transaction.
func (r *TagRepository) CreateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error {
	query := `
		INSERT INTO tags (id, organization_id, name, parent_id, color, description, created_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now().UTC()
	tag.CreatedAt = now
	tag.UpdatedAt = now

	_, err := tx.ExecContext(ctx, query,
		tag.ID,
		tag.OrganizationID,
		tag.Name,
		nullUUID(tag.ParentID),
		nullString(tag.Color),
		nullString(tag.Description),
		tag.CreatedAt,
		tag.CreatedBy,
		tag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}
	return nil
}

// UpdateTx writes a tag's mutable fields inside an existing transaction.
func (r *TagRepository) UpdateTx(ctx context.Context, tx *sql.Tx, tag *models.Tag) error {
	query := `
		UPDATE tags
		SET name = $1, parent_id = $2, color = $3, description = $4, updated_at = $5
		WHERE organization_id = $6 AND id = $7
	`

	tag.UpdatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx, query,
		tag.Name,
		nullUUID(tag.ParentID),
		nullString(tag.Color),
		nullString(tag.Description),
		tag.UpdatedAt,
		tag.OrganizationID,
		tag.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("tag %s: %w", tag.ID, ErrNotFound)
	}
	return nil
}

// DeleteTx removes a tag inside an existing transaction.
func (r *TagRepository) DeleteTx(ctx context.Context, tx *sql.Tx, orgID, tagID uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE organization_id = $1 AND id = $2`, orgID, tagID)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("tag %s: %w", tagID, ErrNotFound)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
