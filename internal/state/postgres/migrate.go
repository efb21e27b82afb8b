package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/muz"
	"github.com/rxtech-lab/rxflow/internal/config"
)

//go:embed migrations/*
var migrationFS embed.FS

// migrateTable derives the migration-bookkeeping table name.
func migrateTable(cfg config.Migrate, tablePrefix string) string {
	table := cfg.Table
	if table == "" {
		table = "migrations"
	}

	return tablePrefix + table
}

// migrateValues merges the configured template values with the table
// prefix, leaving the caller's map untouched.
func migrateValues(cfg config.Migrate, tablePrefix string) map[string]string {
	values := make(map[string]string, len(cfg.Values)+1)
	for k, v := range cfg.Values {
		values[k] = v
	}
	values["TABLE_PREFIX"] = tablePrefix

	return values
}

// migrateDB applies the state-table migrations on the pool New opens,
// keeping both SQL backends on the same single-connection convention.
func migrateDB(ctx context.Context, db *sql.DB, table string, values map[string]string) error {
	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    values,
	}

	driver := muz.NewPostgresDriver(db, table, slog.Default())

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
