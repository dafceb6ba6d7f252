package database

import (
	"context"
	"embed"
	"testing"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at the testdata migrations for
// the duration of one test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='test_fixture'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("table test_fixture not created: %v", err)
	}

	pending, err := db.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d migrations, want 0", len(pending))
	}

	// Second run must be a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_fixture'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("table test_fixture should have been dropped")
	}

	pending, err := db.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d migrations after rollback, want 1", len(pending))
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS = embed.FS{}
	MigrationsDir = "."
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestPending_BeforeMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.ensureVersionTable(ctx); err != nil {
		t.Fatalf("ensureVersionTable() error = %v", err)
	}

	pending, err := db.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d migrations, want 1", len(pending))
	}
	if pending[0].Name != "test_fixture" || pending[0].Version != "20260101_000000" {
		t.Errorf("pending[0] = %s/%s, want 20260101_000000/test_fixture",
			pending[0].Version, pending[0].Name)
	}
	if pending[0].UpSQL == "" || pending[0].DownSQL == "" {
		t.Error("pending migration missing SQL bodies")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{
			name:        "up migration",
			filename:    "20260831_100000_command_log.up.sql",
			wantVersion: "20260831_100000",
			wantName:    "command_log",
			wantUp:      true,
			wantOk:      true,
		},
		{
			name:        "down migration",
			filename:    "20260831_100000_command_log.down.sql",
			wantVersion: "20260831_100000",
			wantName:    "command_log",
			wantOk:      true,
		},
		{
			name:     "not sql",
			filename: "readme.txt",
		},
		{
			name:     "missing direction",
			filename: "20260831_100000_command_log.sql",
		},
		{
			name:     "no version fields",
			filename: "invalid.up.sql",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("parsed %s/%s up=%v, want %s/%s up=%v",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
