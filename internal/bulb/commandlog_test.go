package bulb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupCommandLogTestDB creates an in-memory SQLite database with the
// command_log table.
func setupCommandLogTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE command_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			bulb        TEXT    NOT NULL,
			transport   TEXT    NOT NULL,
			action      TEXT    NOT NULL,
			success     INTEGER NOT NULL,
			error       TEXT,
			latency_ms  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE INDEX idx_command_log_bulb ON command_log (bulb, created_at);
		CREATE INDEX idx_command_log_created_at ON command_log (created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestCommandLog_RecordAndRecent(t *testing.T) {
	db := setupCommandLogTestDB(t)
	log := NewSQLiteCommandLog(db)
	ctx := context.Background()

	records := []CommandRecord{
		{Bulb: "lamp", Transport: "relay-a", Action: "on", Success: true, Latency: 120 * time.Millisecond},
		{Bulb: "lamp", Transport: "relay-a", Action: "brightness", Success: false, Error: "wire cut", Latency: 10 * time.Second},
		{Bulb: "porch", Transport: "relay-b", Action: "off", Success: true, Latency: 90 * time.Millisecond},
	}
	for _, rec := range records {
		if err := log.Record(ctx, rec); err != nil {
			t.Fatalf("Record(%+v) error = %v", rec, err)
		}
	}

	got, err := log.Recent(ctx, "lamp", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(lamp) returned %d records, want 2", len(got))
	}
	// Newest first.
	if got[0].Action != "brightness" || got[0].Success {
		t.Errorf("got[0] = %+v, want failed brightness", got[0])
	}
	if got[0].Error != "wire cut" {
		t.Errorf("Error = %q, want wire cut", got[0].Error)
	}
	if got[0].Latency != 10*time.Second {
		t.Errorf("Latency = %v, want 10s", got[0].Latency)
	}
	if got[1].Action != "on" || !got[1].Success {
		t.Errorf("got[1] = %+v, want successful on", got[1])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestCommandLog_RecentAllBulbs(t *testing.T) {
	db := setupCommandLogTestDB(t)
	log := NewSQLiteCommandLog(db)
	ctx := context.Background()

	for _, bulbName := range []string{"lamp", "porch", "strip"} {
		if err := log.Record(ctx, CommandRecord{Bulb: bulbName, Transport: "relay-a", Action: "on", Success: true}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := log.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Recent(all) returned %d records, want 3", len(got))
	}
}

func TestCommandLog_RecordRequiresBulb(t *testing.T) {
	db := setupCommandLogTestDB(t)
	log := NewSQLiteCommandLog(db)

	if err := log.Record(context.Background(), CommandRecord{Transport: "relay-a", Action: "on"}); err == nil {
		t.Error("Record() should reject empty bulb name")
	}
}

func TestCommandLog_LimitClamped(t *testing.T) {
	db := setupCommandLogTestDB(t)
	log := NewSQLiteCommandLog(db)
	ctx := context.Background()

	for i := 0; i < maxLogLimit+20; i++ {
		if err := log.Record(ctx, CommandRecord{Bulb: "lamp", Transport: "relay-a", Action: "on", Success: true}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := log.Recent(ctx, "lamp", maxLogLimit+100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != maxLogLimit {
		t.Errorf("Recent() returned %d records, want clamped to %d", len(got), maxLogLimit)
	}
}
