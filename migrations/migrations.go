// Package migrations embeds the SQL schema files applied by
// pkg/datastore's Postgres backend, grounded on the teacher's
// internal/db.applyMigrations embed-and-apply pattern.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"
)

//go:embed *.sql
var FS embed.FS

// Apply runs every migration file in FS not yet recorded in
// schema_migrations, in filename order. Shared by pkg/datastore's
// production PostgresStore and internal/testutil's test-database setup so
// both exercise the exact same schema.
func Apply(db *sql.DB) error {
	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query schema_migrations: %w", err)
	}
	applied := map[string]struct{}{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = struct{}{}
	}
	rows.Close()

	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		name := e.Name()
		if _, ok := applied[name]; ok {
			continue
		}
		sqlBytes, err := FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, name, time.Now()); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}
	return nil
}
