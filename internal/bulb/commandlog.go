package bulb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// SQLiteCommandLog implements CommandLog using the command_log table.
//
// Only the actuation journal is persisted. The bulb → transport
// binding itself is never stored; it is rebuilt from a live scan on
// every startup and rescan.
type SQLiteCommandLog struct {
	db *sql.DB
}

// NewSQLiteCommandLog creates a command log backed by an open SQLite
// connection.
func NewSQLiteCommandLog(db *sql.DB) *SQLiteCommandLog {
	return &SQLiteCommandLog{db: db}
}

// Record inserts one dispatched command.
func (l *SQLiteCommandLog) Record(ctx context.Context, rec CommandRecord) error {
	if rec.Bulb == "" {
		return fmt.Errorf("bulb name is required")
	}

	success := 0
	if rec.Success {
		success = 1
	}

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO command_log (bulb, transport, action, success, error, latency_ms) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Bulb,
		rec.Transport,
		rec.Action,
		success,
		nullString(rec.Error),
		rec.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// Recent returns the latest entries for a bulb, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - bulbName: Bulb to query; empty returns entries for all bulbs
//   - limit: Maximum entries (default 50, max 200)
func (l *SQLiteCommandLog) Recent(ctx context.Context, bulbName string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	query := "SELECT id, bulb, transport, action, success, COALESCE(error, ''), latency_ms, created_at FROM command_log"
	args := []any{}
	if bulbName != "" {
		query += " WHERE bulb = ?"
		args = append(args, bulbName)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var (
			rec       CommandRecord
			success   int
			latencyMS int64
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Bulb, &rec.Transport, &rec.Action,
			&success, &rec.Error, &latencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log row: %w", err)
		}
		rec.Success = success != 0
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log rows: %w", err)
	}
	return records, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
