package keepalive

import (
	"context"
	"log/slog"
	"time"

	"github.com/tathienbao/ibwatch/internal/metrics"
	"github.com/tathienbao/ibwatch/internal/persistence"
)

const journalTimeout = 5 * time.Second

// eventSink writes journal entries. Journal failures are logged and counted,
// never surfaced to the control loops.
type eventSink struct {
	journal  persistence.Journal
	recorder *metrics.Recorder
	logger   *slog.Logger
}

func (s eventSink) record(ctx context.Context, event persistence.ConnectionEvent) {
	if s.journal == nil {
		return
	}

	// Outlive the caller's cancellation so the final event of an aborted loop is kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := s.journal.RecordEvent(ctx, event); err != nil {
		s.logger.Warn("failed to journal connection event",
			"kind", event.Kind,
			"session_id", event.SessionID,
			"err", err,
		)
		s.recorder.RecordError("journal")
	}
}
