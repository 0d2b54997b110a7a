package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedded embed.FS

// Migration represents a single embedded migration file.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
}

// MigrationStatusEntry represents a single migration in a status report.
type MigrationStatusEntry struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"` // nil for pending
}

// MigrationStatus represents the complete status of migrations.
type MigrationStatus struct {
	Applied []MigrationStatusEntry `json:"applied"` // applied and embedded
	Pending []MigrationStatusEntry `json:"pending"` // embedded but not applied
	Drift   []MigrationStatusEntry `json:"drift"`   // applied but unknown to this binary
}

// migrationTarget is the dialect-specific half of the migrator.
type migrationTarget interface {
	ensureTable(ctx context.Context) error
	applied(ctx context.Context) (map[string]time.Time, error)
	apply(ctx context.Context, m Migration) error
}

// Migrator applies the embedded schema to one database.
type Migrator struct {
	target     migrationTarget
	migrations []Migration
}

// NewPostgresMigrator returns a Migrator for a PostgreSQL pool.
func NewPostgresMigrator(pool *pgxpool.Pool) (*Migrator, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return newMigrator(&pgTarget{pool: pool}, "migrations/postgres")
}

// NewSQLiteMigrator returns a Migrator for a SQLite handle.
func NewSQLiteMigrator(db *sql.DB) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return newMigrator(&sqliteTarget{db: db}, "migrations/sqlite")
}

func newMigrator(t migrationTarget, dir string) (*Migrator, error) {
	migrations, err := findMigrations(embedded, dir)
	if err != nil {
		return nil, err
	}
	return &Migrator{target: t, migrations: migrations}, nil
}

// Migrations returns the embedded migrations in order.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

// Up applies all pending migrations in order, stopping at the first failure.
func (m *Migrator) Up(ctx context.Context) (*MigrationResult, error) {
	if len(m.migrations) == 0 {
		return &MigrationResult{}, nil
	}
	return m.UpTo(ctx, m.migrations[len(m.migrations)-1].Version)
}

// UpTo applies pending migrations up to and including target.
func (m *Migrator) UpTo(ctx context.Context, target string) (*MigrationResult, error) {
	targetIndex := -1
	for i, mig := range m.migrations {
		if mig.Version == normalizeVersion(target) {
			targetIndex = i
			break
		}
	}
	if targetIndex < 0 {
		return nil, fmt.Errorf("target version %s not found", target)
	}

	if err := m.target.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := m.target.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	result := &MigrationResult{}
	for _, mig := range m.migrations[:targetIndex+1] {
		if _, ok := applied[mig.Version]; ok {
			result.Skipped = append(result.Skipped, mig.Version)
			continue
		}
		if err := m.target.apply(ctx, mig); err != nil {
			return result, fmt.Errorf("migration %s failed: %w", mig.Version, err)
		}
		result.Applied = append(result.Applied, mig.Version)
	}
	return result, nil
}

// Status reports applied, pending and drifted migrations.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.target.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}
	appliedMap, err := m.target.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}
	known := make(map[string]bool, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = true
		if at, ok := appliedMap[mig.Version]; ok {
			at := at
			status.Applied = append(status.Applied, MigrationStatusEntry{Version: mig.Version, Name: mig.Name, AppliedAt: &at})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{Version: mig.Version, Name: mig.Name})
		}
	}
	for version, at := range appliedMap {
		if known[version] {
			continue
		}
		at := at
		status.Drift = append(status.Drift, MigrationStatusEntry{Version: version, Name: version + ".sql", AppliedAt: &at})
	}
	sort.Slice(status.Drift, func(i, j int) bool { return status.Drift[i].Version < status.Drift[j].Version })
	return status, nil
}

// findMigrations reads the .sql files of dir in version order.
func findMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		migrations = append(migrations, Migration{
			Version: normalizeVersion(name),
			Name:    name,
			SQL:     string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// normalizeVersion strips a .sql suffix (any case).
func normalizeVersion(v string) string {
	if len(v) > 4 && strings.EqualFold(v[len(v)-4:], ".sql") {
		return v[:len(v)-4]
	}
	return v
}

type pgTarget struct {
	pool *pgxpool.Pool
}

func (t *pgTarget) ensureTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

func (t *pgTarget) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := t.pool.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		applied[normalizeVersion(version)] = appliedAt
	}
	return applied, rows.Err()
}

func (t *pgTarget) apply(ctx context.Context, m Migration) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type sqliteTarget struct {
	db *sql.DB
}

func (t *sqliteTarget) ensureTable(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	return err
}

func (t *sqliteTarget) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		at, _ := time.Parse(time.RFC3339, appliedAt)
		applied[normalizeVersion(version)] = at
	}
	return applied, rows.Err()
}

func (t *sqliteTarget) apply(ctx context.Context, m Migration) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
