// Package persistence provides the connection event journal.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Journal records connection lifecycle events.
type Journal interface {
	RecordEvent(ctx context.Context, event ConnectionEvent) error
	RecentEvents(ctx context.Context, limit int) ([]ConnectionEvent, error)
	SessionEvents(ctx context.Context, sessionID string) ([]ConnectionEvent, error)
	CountByKind(ctx context.Context, since time.Time) (map[EventKind]int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// EventKind identifies what happened to the connection.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventConnectRefused    EventKind = "connect_refused"
	EventConnectTolerated  EventKind = "connect_tolerated"
	EventConnectFatal      EventKind = "connect_fatal"
	EventCampaignExhausted EventKind = "campaign_exhausted"
	EventCampaignAborted   EventKind = "campaign_aborted"
	EventProbeAlive        EventKind = "probe_alive"
	EventProbeLost         EventKind = "probe_lost"
	EventProbeReconnect    EventKind = "probe_reconnect"
)

// ConnectionEvent is one journal entry.
type ConnectionEvent struct {
	ID         string
	SessionID  string
	Kind       EventKind
	Attempt    int
	Detail     string
	RTT        time.Duration
	OccurredAt time.Time
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(sessionID string, kind EventKind, attempt int, detail string) ConnectionEvent {
	return ConnectionEvent{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       kind,
		Attempt:    attempt,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Supported journal drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a journal backend.
type Config struct {
	Driver   string
	Path     string
	Postgres PostgresConfig
}

// Open returns the configured journal, or nil for DriverNone.
func Open(ctx context.Context, cfg Config) (Journal, error) {
	switch cfg.Driver {
	case DriverNone, "":
		return nil, nil
	case DriverSQLite:
		return NewSQLiteJournal(cfg.Path)
	case DriverPostgres:
		return NewPostgresJournal(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
