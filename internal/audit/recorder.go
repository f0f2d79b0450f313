// Package audit provides PostgreSQL-backed storage for connection lifecycle
// events. Each row captures who connected or disconnected, from where, and
// why, giving operators a queryable trail for abuse investigations.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event types recorded in the audit trail.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventRejected   = "rejected"
)

// Event is one connection lifecycle event to be persisted.
type Event struct {
	Type         string // connect | disconnect | rejected
	ConnectionID string
	UserID       string
	RemoteIP     string
	Reason       string // disconnect reason or rejection cause, empty for connects
}

// Recorder writes audit events to PostgreSQL. Writes are best effort: a
// failing database must never affect message routing, so callers use
// Record, which logs and swallows errors.
type Recorder struct {
	db *sql.DB
}

// Open connects to PostgreSQL, applies pending schema migrations, and
// returns a ready recorder.
func Open(dsn string) (*Recorder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: database unreachable: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Recorder{db: db}, nil
}

// runMigrations applies the embedded schema migrations.
func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: migration setup: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: apply migrations: %w", err)
	}
	return nil
}

// Record persists one event, logging and swallowing any failure.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if err := r.insert(ctx, ev); err != nil {
		log.Printf("[audit] failed to record %s event for conn=%s: %v",
			ev.Type, ev.ConnectionID, err)
	}
}

func (r *Recorder) insert(ctx context.Context, ev Event) error {
	const query = `
		INSERT INTO connection_events (event_type, connection_id, user_id, remote_ip, reason)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		ev.Type,
		ev.ConnectionID,
		ev.UserID,
		ev.RemoteIP,
		ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of events of the given type recorded for a
// user within the time window. Useful for spotting reconnect storms.
func (r *Recorder) CountRecent(ctx context.Context, userID, eventType string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM connection_events
		WHERE user_id = $1
		  AND event_type = $2
		  AND created_at >= NOW() - $3::interval`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, eventType, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}
