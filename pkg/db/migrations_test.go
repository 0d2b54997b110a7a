package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMigrations_Order(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql":  {Data: []byte("SELECT 1;")},
		"m/002_second.SQL": {Data: []byte("SELECT 1;")},
		"m/001_first.sql":  {Data: []byte("SELECT 1;")},
		"m/README.md":      {Data: []byte("docs")},
	}
	got, err := findMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "001_first", got[0].Version)
	assert.Equal(t, "002_second", got[1].Version)
	assert.Equal(t, "010_later", got[2].Version)
}

func TestFindMigrations_EmptyFile(t *testing.T) {
	fsys := fstest.MapFS{"m/001_empty.sql": {Data: []byte("  \n")}}
	_, err := findMigrations(fsys, "m")
	assert.ErrorContains(t, err, "empty")
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "001_init", normalizeVersion("001_init.sql"))
	assert.Equal(t, "001_init", normalizeVersion("001_init.SQL"))
	assert.Equal(t, "001_init", normalizeVersion("001_init"))
	assert.Equal(t, ".sql", normalizeVersion(".sql"))
}

func TestEmbeddedDialectsMatch(t *testing.T) {
	pg, err := findMigrations(embedded, "migrations/postgres")
	require.NoError(t, err)
	lite, err := findMigrations(embedded, "migrations/sqlite")
	require.NoError(t, err)

	require.Equal(t, len(pg), len(lite))
	for i := range pg {
		assert.Equal(t, pg[i].Version, lite[i].Version)
	}
}

func TestSQLiteMigrator(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	m, err := NewSQLiteMigrator(db)
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Applied)
	assert.Len(t, status.Pending, len(m.Migrations()))

	res, err := m.UpTo(ctx, "001_meetings")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_meetings"}, res.Applied)

	res, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_meetings"}, res.Skipped)
	assert.Len(t, res.Applied, len(m.Migrations())-1)

	res, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Applied, "second run is a no-op")

	for _, table := range []string{"meetings", "users", "sync_runs"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES ('999_removed.sql', '2024-01-01T00:00:00Z')")
	require.NoError(t, err)

	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Pending)
	require.Len(t, status.Drift, 1)
	assert.Equal(t, "999_removed", status.Drift[0].Version)
	require.NotNil(t, status.Applied[0].AppliedAt)
}

func TestMigrator_UnknownTarget(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	m, err := NewSQLiteMigrator(db)
	require.NoError(t, err)
	_, err = m.UpTo(context.Background(), "042_nope")
	assert.ErrorContains(t, err, "not found")
}

func TestNewMigrator_NilHandles(t *testing.T) {
	_, err := NewPostgresMigrator(nil)
	assert.Error(t, err)
	_, err = NewSQLiteMigrator(nil)
	assert.Error(t, err)
}
