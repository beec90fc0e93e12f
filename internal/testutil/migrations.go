package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cedricziel/gluepoint/migrations"
)

// ApplyMigrations runs migrations.Apply against db, so test databases use
// the exact schema PostgresStore applies in production.
func ApplyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	require.NoError(t, migrations.Apply(db), "applying migrations")
}

// ApplyMigrationsWithTestData applies migrations and seeds a couple of
// workflow rows, for tests that need a non-empty tenant to query against.
func ApplyMigrationsWithTestData(t *testing.T, db *sql.DB) {
	t.Helper()
	ApplyMigrations(t, db)

	const seed = `
		INSERT INTO workflows (id, org_id, integration_ids, data) VALUES
		('11111111-1111-1111-1111-111111111111', 'test-org', '{}', '{"id":"11111111-1111-1111-1111-111111111111","name":"Test Workflow 1"}'),
		('22222222-2222-2222-2222-222222222222', 'test-org', '{}', '{"id":"22222222-2222-2222-2222-222222222222","name":"Test Workflow 2"}')
		ON CONFLICT (org_id, id) DO NOTHING`
	_, err := db.Exec(seed)
	require.NoError(t, err, "seeding test workflows")
}
