package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned by repositories when a record does not exist.
// Callers should test with errors.Is.
var ErrNotFound = errors.New("record not found")

// DB wraps the shared sql.DB connection pool.
type DB struct {
	*sql.DB
}

// New opens a PostgreSQL connection pool and verifies connectivity.
func New(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// TxRunner runs a function inside a transaction. Extracted as an interface
// so engine unit tests can substitute a no-op runner.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// WithTx runs fn in a transaction, committing on nil error and rolling
// back otherwise. The rollback error is ignored when fn already failed.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ TxRunner = (*DB)(nil)

// Migrate creates the engine's tables and indexes if they do not exist.
// Four logical record sets plus derived/bookkeeping tables, each keyed by
// organization first.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tags (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL,
			name TEXT NOT NULL,
			parent_id UUID REFERENCES tags(id),
			color TEXT,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			created_by UUID NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_org ON tags (organization_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_sibling_name
			ON tags (organization_id, COALESCE(parent_id, '00000000-0000-0000-0000-000000000000'::uuid), LOWER(name))`,
		`CREATE TABLE IF NOT EXISTS taggings (
			tag_id UUID NOT NULL REFERENCES tags(id),
			organization_id UUID NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			tagged_by UUID NOT NULL,
			tagged_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tag_id, resource_type, resource_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taggings_org_resource ON taggings (organization_id, resource_type, resource_id)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			organization_id UUID NOT NULL,
			id BIGINT NOT NULL,
			actor_id UUID,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			before_state JSONB,
			after_state JSONB,
			occurred_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (organization_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_occurred ON audit_events (organization_id, occurred_at DESC)`,
		`CREATE TABLE IF NOT EXISTS compliance_rules (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL,
			name TEXT NOT NULL,
			field TEXT NOT NULL,
			condition TEXT NOT NULL,
			value TEXT NOT NULL,
			severity TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			position INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_rules_org ON compliance_rules (organization_id, position)`,
		`CREATE TABLE IF NOT EXISTS compliance_violations (
			id UUID PRIMARY KEY,
			organization_id UUID NOT NULL,
			rule_id UUID NOT NULL,
			event_id BIGINT NOT NULL,
			severity TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			UNIQUE (rule_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_violations_org ON compliance_violations (organization_id, detected_at DESC)`,
		`CREATE TABLE IF NOT EXISTS usage_metrics (
			organization_id UUID NOT NULL,
			tag_id UUID NOT NULL,
			counts JSONB NOT NULL,
			last_event_id BIGINT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (organization_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS consumer_checkpoints (
			consumer TEXT NOT NULL,
			organization_id UUID NOT NULL,
			last_event_id BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (consumer, organization_id)
		)`,
		`CREATE TABLE IF NOT EXISTS org_settings (
			organization_id UUID PRIMARY KEY,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
