package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations are applied in order. Each statement is idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS import_tasks (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS import_tasks_created_idx ON import_tasks (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS import_task_files (
		task_id      TEXT PRIMARY KEY REFERENCES import_tasks (id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size         BIGINT NOT NULL,
		data         BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS import_records (
		seq        BIGSERIAL UNIQUE,
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL REFERENCES import_tasks (id) ON DELETE CASCADE,
		status     TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS import_records_task_status_idx ON import_records (task_id, status)`,
}

// Migrate applies the schema of the import task store.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range Migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
