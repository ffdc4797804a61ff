package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_users.sql": {Data: []byte(`
			CREATE TABLE test_users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
			CREATE INDEX idx_test_users_name ON test_users(name);
		`)},
		"20260102_000000_roles.sql": {Data: []byte(`CREATE TABLE test_roles (id INTEGER PRIMARY KEY);`)},
		"README.md":                 {Data: []byte("not a migration")},
		"notes.sql":                 {Data: []byte("not versioned")},
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	n, err := db.Migrate(ctx, fsys)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}

	for _, table := range []string{"test_users", "test_roles"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%v pending=%v, want 2 applied, 0 pending", applied, pending)
	}

	n, err = db.Migrate(ctx, fsys)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.sql":     {Data: []byte(`CREATE TABLE ok_table (id INTEGER);`)},
		"20260102_000000_broken.sql": {Data: []byte(`CREATE TABLE broken (id INTEGER); THIS IS NOT SQL;`)},
	}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d before failing, want 1", n)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='broken'",
	).Scan(&count); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("table from failed migration was committed")
	}
}

func TestMigrate_NilFS(t *testing.T) {
	db := openTestDB(t)
	n, err := db.Migrate(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("Migrate(nil) = %d, %v; want 0, nil", n, err)
	}
}

func TestLoadMigrations_Duplicate(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_a.sql": {Data: []byte("SELECT 1;")},
		"20260101_000000_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() error = nil, want duplicate version error")
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20260301_120000_snapshots.sql", "20260301_120000", "snapshots", true},
		{"20260301_120000_add_index_on_query.sql", "20260301_120000", "add_index_on_query", true},
		{"20260301_120000.sql", "20260301_120000", "", true},
		{"snapshots.sql", "", "", false},
		{"v1_init_schema.sql", "", "", false},
		{"20260301_120000_snapshots.txt", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, ok := parseMigrationName(tt.file)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationName(%q) = %q, %q, %v; want %q, %q, %v",
					tt.file, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
