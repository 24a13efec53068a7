package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps events in SQLite. ":memory:" gives a per-process log.
type SQLiteStore struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// OpenSQLite opens path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database lives only as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO audit_events (id, at_unix_ms, actor, station, message) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.At.UnixMilli(), string(ev.Actor), ev.Station, ev.Message)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, at_unix_ms, actor, station, message FROM audit_events ORDER BY at_unix_ms DESC, rowid DESC LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev    Event
			ms    int64
			actor string
		)
		if err := rows.Scan(&ev.ID, &ms, &actor, &ev.Station, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.At = time.UnixMilli(ms).UTC()
		ev.Actor = Actor(actor)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
