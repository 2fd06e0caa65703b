package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create runs",
		sql: `CREATE TABLE IF NOT EXISTS runs (
			id             text PRIMARY KEY,
			source_name    text NOT NULL,
			status         text NOT NULL,
			chunked        boolean NOT NULL DEFAULT false,
			segments       int NOT NULL DEFAULT 0,
			duration_s     double precision NOT NULL DEFAULT 0,
			model          text NOT NULL DEFAULT '',
			transcript_key text NOT NULL DEFAULT '',
			text           text NOT NULL DEFAULT '',
			error_kind     text NOT NULL DEFAULT '',
			error          text NOT NULL DEFAULT '',
			created_at     timestamptz NOT NULL DEFAULT now(),
			finished_at    timestamptz
		)`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'runs')`,
	},
	{
		name:  "add runs created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_runs_created_at')`,
	},
	{
		name:  "add runs status index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_runs_status')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. A failed apply is returned as a
// *MigrationError; the history queries depend on the table existing.
func (db *DB) Migrate(ctx context.Context) error {
	pending, err := db.pendingMigrations(ctx)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// pendingMigrations returns the migrations whose check query does not report
// them as applied. A failing check counts as pending.
func (db *DB) pendingMigrations(ctx context.Context) ([]migration, error) {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			err := db.Pool.QueryRow(ctx, m.check).Scan(&exists)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart audioscribe.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
