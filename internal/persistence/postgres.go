package persistence

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MinConns int
	MaxConns int
}

// BuildConnString builds a postgres:// URL from cfg.
func BuildConnString(cfg PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// PostgresJournal implements Journal on a pgx connection pool.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal connects, pings and migrates.
func NewPostgresJournal(ctx context.Context, cfg PostgresConfig) (*PostgresJournal, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &PostgresJournal{pool: pool}
	if err := j.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Migrate runs database migrations.
func (j *PostgresJournal) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connection_events (
			seq BIGSERIAL,
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			rtt_us BIGINT NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_occurred_at ON connection_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_session ON connection_events(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := j.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// RecordEvent appends an event.
func (j *PostgresJournal) RecordEvent(ctx context.Context, event ConnectionEvent) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO connection_events (id, session_id, kind, attempt, detail, rtt_us, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		event.ID,
		event.SessionID,
		string(event.Kind),
		event.Attempt,
		event.Detail,
		event.RTT.Microseconds(),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func (j *PostgresJournal) RecentEvents(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id::text, session_id, kind, attempt, detail, rtt_us, occurred_at
		FROM connection_events ORDER BY occurred_at DESC, seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return collectEvents(rows)
}

// SessionEvents returns one session's events in order.
func (j *PostgresJournal) SessionEvents(ctx context.Context, sessionID string) ([]ConnectionEvent, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id::text, session_id, kind, attempt, detail, rtt_us, occurred_at
		FROM connection_events WHERE session_id = $1 ORDER BY occurred_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	return collectEvents(rows)
}

// CountByKind counts events per kind since the given time.
func (j *PostgresJournal) CountByKind(ctx context.Context, since time.Time) (map[EventKind]int, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT kind, COUNT(*) FROM connection_events WHERE occurred_at >= $1 GROUP BY kind`, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[EventKind]int)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[EventKind(kind)] = int(n)
	}
	return counts, rows.Err()
}

// Close closes the pool.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

func collectEvents(rows pgx.Rows) ([]ConnectionEvent, error) {
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConnectionEvent, error) {
		var e ConnectionEvent
		var kind string
		var rttMicros int64
		err := row.Scan(&e.ID, &e.SessionID, &kind, &e.Attempt, &e.Detail, &rttMicros, &e.OccurredAt)
		e.Kind = EventKind(kind)
		e.RTT = time.Duration(rttMicros) * time.Microsecond
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return events, nil
}

var _ Journal = (*PostgresJournal)(nil)
