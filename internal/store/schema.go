package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL for the staging database. Tables are created
// idempotently at startup; the engine owns this database exclusively.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		seq             BIGSERIAL,
		project         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		source_id       TEXT NOT NULL,
		source_payload  JSONB NOT NULL,
		transformed     JSONB,
		warnings        JSONB,
		extracted_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		transformed_at  TIMESTAMPTZ,
		PRIMARY KEY (project, kind, source_id)
	)`,
	`CREATE INDEX IF NOT EXISTS entities_seq_idx ON entities (project, kind, seq)`,
	`CREATE TABLE IF NOT EXISTS identifier_map (
		project    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		source_id  TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (project, kind, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS migration_state (
		project       TEXT NOT NULL,
		phase         TEXT NOT NULL,
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (project, phase)
	)`,
	`CREATE TABLE IF NOT EXISTS entity_batch_state (
		project         TEXT NOT NULL,
		phase           TEXT NOT NULL,
		kind            TEXT NOT NULL,
		batch_number    INT NOT NULL,
		total_items     INT NOT NULL,
		processed_count INT NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ,
		PRIMARY KEY (project, phase, kind, batch_number)
	)`,
	`CREATE TABLE IF NOT EXISTS item_state (
		project      TEXT NOT NULL,
		phase        TEXT NOT NULL,
		kind         TEXT NOT NULL,
		source_id    TEXT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (project, phase, kind, source_id)
	)`,
}

// EnsureSchema creates the staging tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
