package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SQLDirectory reads the users table of a PostgreSQL database, which may be a
// separate HR database from the meetings store. Resolve and Upsert also work
// against the SQLite schema; ResolveMany needs PostgreSQL.
type SQLDirectory struct {
	db *sql.DB
}

// OpenSQL connects to dsn with a small connection pool.
func OpenSQL(dsn string) (*SQLDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening directory database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &SQLDirectory{db: db}, nil
}

// NewSQL wraps an existing connection.
func NewSQL(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// Close closes the database connection.
func (d *SQLDirectory) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Resolve implements Directory.
func (d *SQLDirectory) Resolve(ctx context.Context, email string) (OrgInfo, error) {
	key := NormalizeEmail(email)
	info := OrgInfo{Email: key, Known: true}
	var division, department, subdepartment sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT division, department, subdepartment, is_manager
		FROM users WHERE lower(email) = $1`, key,
	).Scan(&division, &department, &subdepartment, &info.IsManager)
	if errors.Is(err, sql.ErrNoRows) {
		return UnknownOrg(key), nil
	}
	if err != nil {
		return UnknownOrg(key), fmt.Errorf("resolving %s: %w", key, err)
	}
	info.Division = division.String
	info.Department = department.String
	info.Subdepartment = subdepartment.String
	return info.Normalize(), nil
}

// ResolveMany looks up many addresses in one query. Misses are absent from the result.
func (d *SQLDirectory) ResolveMany(ctx context.Context, emails []string) (map[string]OrgInfo, error) {
	keys := make([]string, 0, len(emails))
	for _, e := range emails {
		keys = append(keys, NormalizeEmail(e))
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT lower(email), division, department, subdepartment, is_manager
		FROM users WHERE lower(email) = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("resolving %d emails: %w", len(keys), err)
	}
	defer rows.Close()

	out := make(map[string]OrgInfo, len(keys))
	for rows.Next() {
		var info OrgInfo
		var division, department, subdepartment sql.NullString
		if err := rows.Scan(&info.Email, &division, &department, &subdepartment, &info.IsManager); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		info.Division = division.String
		info.Department = department.String
		info.Subdepartment = subdepartment.String
		info.Known = true
		out[info.Email] = info.Normalize()
	}
	return out, rows.Err()
}

// Upsert inserts or updates users in one transaction and returns how many rows were written.
func (d *SQLDirectory) Upsert(ctx context.Context, users []OrgInfo) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (email, division, department, subdepartment, is_manager, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			division = EXCLUDED.division,
			department = EXCLUDED.department,
			subdepartment = EXCLUDED.subdepartment,
			is_manager = EXCLUDED.is_manager,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range users {
		u = u.Normalize()
		if _, err := stmt.ExecContext(ctx, u.Email, u.Division, u.Department, u.Subdepartment, u.IsManager, now); err != nil {
			return 0, fmt.Errorf("upserting %s: %w", u.Email, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing users: %w", err)
	}
	return len(users), nil
}

// Stats returns the number of users and of distinct known departments.
func (d *SQLDirectory) Stats(ctx context.Context) (users, departments int, err error) {
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT CASE WHEN department <> '' AND department <> $1 THEN department END)
		FROM users`, Unknown).Scan(&users, &departments)
	if err != nil {
		return 0, 0, fmt.Errorf("counting users: %w", err)
	}
	return users, departments, nil
}

// DeleteAll removes every user and returns how many rows were deleted.
func (d *SQLDirectory) DeleteAll(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM users`)
	if err != nil {
		return 0, fmt.Errorf("deleting users: %w", err)
	}
	return res.RowsAffected()
}
