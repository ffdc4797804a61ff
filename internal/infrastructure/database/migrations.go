package database

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// Migration is one forward-only schema change.
//
// Files are named VERSION_description.sql, where VERSION sorts
// lexically (e.g. 20260301_120000_snapshots.sql). Files without a
// version prefix are ignored.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Migrate applies every migration in fsys that is not yet recorded in
// schema_migrations, oldest first. Each migration runs in its own
// transaction; a failure leaves earlier migrations committed.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem holding the .sql files at its root
//
// Returns:
//   - int: Number of migrations applied
//   - error: If loading or applying a migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return i, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

// MigrationStatus lists the applied versions and the migrations still pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []string, pending []Migration, err error) {
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	applied, err = db.appliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, m := range all {
		if !slices.Contains(applied, m.Version) {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// LoadMigrations reads the migrations at the root of fsys, sorted by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	var out []Migration
	for _, name := range names {
		version, desc, ok := parseMigrationName(name)
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: desc, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %s", out[i].Version)
		}
	}
	return out, nil
}

// parseMigrationName splits "20260301_120000_snapshots.sql" into
// version "20260301_120000" and name "snapshots".
func parseMigrationName(file string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if strings.Trim(parts[0]+parts[1], "0123456789") != "" {
		return "", "", false
	}

	version = parts[0] + "_" + parts[1]
	if len(parts) == 3 {
		name = parts[2]
	}
	return version, name, true
}

func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}
