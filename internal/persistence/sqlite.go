package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database at path.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}

	if err := j.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connection_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			rtt_us INTEGER NOT NULL DEFAULT 0,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_occurred_at ON connection_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_session ON connection_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_kind ON connection_events(kind)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// RecordEvent appends an event.
func (j *SQLiteJournal) RecordEvent(ctx context.Context, event ConnectionEvent) error {
	query := `INSERT INTO connection_events (id, session_id, kind, attempt, detail, rtt_us, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		event.ID,
		event.SessionID,
		string(event.Kind),
		event.Attempt,
		event.Detail,
		event.RTT.Microseconds(),
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}

	return nil
}

// RecentEvents returns the newest events first.
func (j *SQLiteJournal) RecentEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	query := `SELECT id, session_id, kind, attempt, detail, rtt_us, occurred_at
		FROM connection_events ORDER BY occurred_at DESC, rowid DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// SessionEvents returns one session's events in order.
func (j *SQLiteJournal) SessionEvents(ctx context.Context, sessionID string) ([]ConnectionEvent, error) {
	query := `SELECT id, session_id, kind, attempt, detail, rtt_us, occurred_at
		FROM connection_events WHERE session_id = ? ORDER BY occurred_at, rowid`

	rows, err := j.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// CountByKind counts events per kind since the given time.
func (j *SQLiteJournal) CountByKind(ctx context.Context, since time.Time) (map[EventKind]int, error) {
	query := `SELECT kind, COUNT(*) FROM connection_events WHERE occurred_at >= ? GROUP BY kind`

	rows, err := j.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[EventKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[EventKind(kind)] = n
	}

	return counts, rows.Err()
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanEvents(rows *sql.Rows) ([]ConnectionEvent, error) {
	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		var kind string
		var rttMicros int64

		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Attempt, &e.Detail, &rttMicros, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Kind = EventKind(kind)
		e.RTT = time.Duration(rttMicros) * time.Microsecond

		events = append(events, e)
	}

	return events, rows.Err()
}

var _ Journal = (*SQLiteJournal)(nil)
