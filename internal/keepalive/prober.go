package keepalive

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tathienbao/ibwatch/internal/broker"
	"github.com/tathienbao/ibwatch/internal/metrics"
	"github.com/tathienbao/ibwatch/internal/persistence"
)

// ProbeConfig tunes one heartbeat cycle.
type ProbeConfig struct {
	// Timeout is how long each attempt waits for the current-time reply.
	Timeout time.Duration
	// MaxAttempts is the number of failed attempts tolerated; the cycle fails
	// on the one after it.
	MaxAttempts int
	// ReconnectPause is slept between teardown and reconnect.
	ReconnectPause time.Duration
	// MaxReconnects bounds reconnects inside a single cycle.
	MaxReconnects int
}

// DefaultProbeConfig returns the standard heartbeat settings.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout:        time.Second,
		MaxAttempts:    10,
		ReconnectPause: 100 * time.Millisecond,
		MaxReconnects:  5,
	}
}

// Connector re-establishes a broker connection.
type Connector interface {
	SafeConnect(ctx context.Context) bool
}

// ProbeResult describes the last completed heartbeat cycle.
type ProbeResult struct {
	Alive      bool
	Attempts   int // requests sent
	Reconnects int
	RTT        time.Duration
	ServerTime time.Time
	CheckedAt  time.Time
}

type attemptOutcome int

const (
	outcomePending attemptOutcome = iota
	outcomeAcked
	outcomeTimedOut
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeAcked:
		return "acked"
	case outcomeTimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// heartbeatAttempt lives for one send/wait round.
type heartbeatAttempt struct {
	index    int
	sentAt   time.Time
	deadline time.Time
	outcome  attemptOutcome
}

// Prober checks that a transport still answers current-time requests.
// Concurrent callers share a single in-flight probe.
type Prober struct {
	transport broker.Transport
	connector Connector
	cfg       ProbeConfig
	events    eventSink
	recorder  *metrics.Recorder
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error

	group singleflight.Group

	mu   sync.RWMutex
	last ProbeResult
}

// NewProber creates a prober. connector is used when the transport reports
// it is not connected.
func NewProber(transport broker.Transport, connector Connector, cfg ProbeConfig, journal persistence.Journal, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := metrics.NewRecorder()

	return &Prober{
		transport: transport,
		connector: connector,
		cfg:       cfg,
		events:    eventSink{journal: journal, recorder: recorder, logger: logger},
		recorder:  recorder,
		logger:    logger.With("component", "prober"),
		sleep:     sleepContext,
	}
}

// CheckConnection reports whether the broker answered a heartbeat.
func (p *Prober) CheckConnection(ctx context.Context) bool {
	return p.Probe(ctx).Alive
}

// Probe runs a heartbeat cycle, or joins the one already running.
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	v, _, _ := p.group.Do("probe", func() (any, error) {
		return p.probe(ctx), nil
	})
	return v.(ProbeResult)
}

// LastResult returns the most recent completed cycle.
func (p *Prober) LastResult() ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func (p *Prober) probe(ctx context.Context) ProbeResult {
	cycleID := uuid.NewString()
	logger := p.logger.With("cycle_id", cycleID)

	replies := make(chan broker.Message, 1)
	sub := p.transport.Subscribe(broker.KindCurrentTime, func(msg broker.Message) {
		select {
		case replies <- msg:
		default:
		}
	})
	defer p.transport.Unsubscribe(sub)

	var result ProbeResult
	failed := 0

	finish := func(alive bool, reason string) ProbeResult {
		result.Alive = alive
		result.CheckedAt = time.Now()

		p.mu.Lock()
		p.last = result
		p.mu.Unlock()

		p.recorder.RecordProbe(alive, result.Attempts)
		kind := persistence.EventProbeAlive
		if !alive {
			kind = persistence.EventProbeLost
			logger.Warn("heartbeat lost", "reason", reason, "attempts", result.Attempts, "reconnects", result.Reconnects)
		}
		event := persistence.NewEvent(cycleID, kind, result.Attempts, reason)
		event.RTT = result.RTT
		p.events.record(ctx, event)
		return result
	}

	for {
		attempt := heartbeatAttempt{index: result.Attempts + 1}
		result.Attempts++

		if err := p.transport.Send(ctx, broker.RequestCurrentTime()); err != nil {
			class, action := Decide(PhaseProbe, err)
			switch action {
			case ActionRetry:
				failed++
				logger.Debug("heartbeat send failed", "attempt", attempt.index, "outcome", attempt.outcome, "class", class, "err", err)
				if failed > p.cfg.MaxAttempts {
					return finish(false, "send failed: "+class.String())
				}
				continue

			case ActionReconnect:
				if result.Reconnects >= p.cfg.MaxReconnects {
					return finish(false, "reconnect limit reached")
				}
				result.Reconnects++
				p.recorder.RecordProbeReconnect()

				if derr := p.transport.Disconnect(); derr != nil {
					logger.Debug("disconnect before reconnect failed", "err", derr)
				}
				logger.Info("broker not connected, reconnecting", "reconnect", result.Reconnects, "class", class)
				p.events.record(ctx, persistence.NewEvent(cycleID, persistence.EventProbeReconnect, result.Reconnects, err.Error()))

				if serr := p.sleep(ctx, p.cfg.ReconnectPause); serr != nil {
					return finish(false, "canceled")
				}
				if !p.connector.SafeConnect(ctx) {
					return finish(false, "reconnect failed")
				}
				failed = 0
				continue

			default:
				return finish(false, "send failed: "+class.String())
			}
		}

		// The reply window starts once Send returns, after any rate-limit wait.
		attempt.sentAt = time.Now()
		attempt.deadline = attempt.sentAt.Add(p.cfg.Timeout)

		timer := time.NewTimer(time.Until(attempt.deadline))
		select {
		case msg := <-replies:
			timer.Stop()
			attempt.outcome = outcomeAcked
			result.RTT = time.Since(attempt.sentAt)
			if ts, ok := parseServerTime(msg); ok {
				result.ServerTime = ts
			}
			p.recorder.RecordHeartbeat(result.RTT, result.ServerTime)
			logger.Debug("heartbeat acknowledged", "attempt", attempt.index, "outcome", attempt.outcome, "rtt", result.RTT)
			return finish(true, "")

		case <-timer.C:
			attempt.outcome = outcomeTimedOut
			failed++
			logger.Debug("heartbeat timed out", "attempt", attempt.index, "outcome", attempt.outcome, "failed", failed)
			if failed > p.cfg.MaxAttempts {
				return finish(false, "no reply")
			}

		case <-ctx.Done():
			timer.Stop()
			return finish(false, "canceled")
		}
	}
}

// parseServerTime reads the epoch seconds from a CURRENT_TIME message
// (fields: version, time).
func parseServerTime(msg broker.Message) (time.Time, bool) {
	if len(msg.Fields) < 2 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(msg.Fields[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
