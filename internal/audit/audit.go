// Package audit keeps the controller-facing log of what the system did:
// refreshes, planning runs, safety checks and operator actions.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/saarathi/internal/logging"
)

// Actor is who an audit event is attributed to.
type Actor string

const (
	ActorSystem       Actor = "System"
	ActorPlanner      Actor = "Planner"
	ActorSafetyShield Actor = "SafetyShield"
	ActorController   Actor = "Controller"
)

// Event is one audit log line.
type Event struct {
	ID      string    `json:"id"`
	At      time.Time `json:"timestamp"`
	Actor   Actor     `json:"user"`
	Station string    `json:"station,omitempty"`
	Message string    `json:"event"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, ev Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Log stamps events and writes them to a Store. Store failures are logged
// and never surface to the caller; auditing must not break planning.
type Log struct {
	store Store
	log   logging.Logger
	now   func() time.Time
}

// NewLog wraps store. now defaults to time.Now.
func NewLog(store Store, log logging.Logger, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{store: store, log: logging.OrNoop(log), now: now}
}

// Record appends a formatted event.
func (l *Log) Record(ctx context.Context, actor Actor, station, format string, args ...any) {
	if l == nil || l.store == nil {
		return
	}
	ev := Event{
		ID:      uuid.NewString(),
		At:      l.now().UTC(),
		Actor:   actor,
		Station: strings.ToUpper(station),
		Message: fmt.Sprintf(format, args...),
	}
	if err := l.store.Append(ctx, ev); err != nil {
		l.log.Warn(ctx, "audit append failed", logging.Err(err), logging.String("actor", string(actor)))
	}
}

// Recent returns the newest events.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.Recent(ctx, limit)
}

// Open picks a store from dsn: postgres:// and postgresql:// URLs use
// Postgres, anything else is a SQLite path. An empty dsn is an in-memory
// SQLite database.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case dsn == "":
		return OpenSQLite(ctx, ":memory:")
	default:
		return OpenSQLite(ctx, dsn)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
