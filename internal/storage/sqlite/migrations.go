package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	Func func(context.Context, *sql.DB) error
}

// migrationsList runs in order on every open.
var migrationsList = []Migration{
	{"kv_table", migrateKVTable},
	{"kv_updated_index", migrateKVUpdatedIndex},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func migrateKVTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, key)
		)
	`)
	return err
}

func migrateKVUpdatedIndex(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_kv_collection_updated ON kv(collection, updated_at)`)
	return err
}
