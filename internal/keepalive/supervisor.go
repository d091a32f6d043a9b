package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/tathienbao/ibwatch/internal/alerting"
	"github.com/tathienbao/ibwatch/internal/broker"
	"github.com/tathienbao/ibwatch/internal/metrics"
	"github.com/tathienbao/ibwatch/internal/persistence"
)

// Campaign results, as reported to metrics.
const (
	campaignConnected = "connected"
	campaignTolerated = "tolerated"
	campaignExhausted = "exhausted"
	campaignFatal     = "fatal"
	campaignAborted   = "aborted"
)

// SupervisorConfig bounds reconnect campaigns.
type SupervisorConfig struct {
	MaxRetries          int
	BaseDelay           time.Duration
	EscalatedDelay      time.Duration
	EscalationThreshold int
}

// DefaultSupervisorConfig returns 100 retries, 10s apart for the first 50 and
// 60s apart after that.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRetries:          100,
		BaseDelay:           10 * time.Second,
		EscalatedDelay:      60 * time.Second,
		EscalationThreshold: 50,
	}
}

// Supervisor establishes the broker connection, retrying refusals.
type Supervisor struct {
	transport broker.Transport
	cfg       SupervisorConfig
	events    eventSink
	alerter   alerting.Alerter
	recorder  *metrics.Recorder
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error

	// one campaign at a time
	mu sync.Mutex
}

// NewSupervisor creates a supervisor. journal and alerter may be nil.
func NewSupervisor(transport broker.Transport, cfg SupervisorConfig, journal persistence.Journal, alerter alerting.Alerter, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := metrics.NewRecorder()

	return &Supervisor{
		transport: transport,
		cfg:       cfg,
		events:    eventSink{journal: journal, recorder: recorder, logger: logger},
		alerter:   alerter,
		recorder:  recorder,
		logger:    logger.With("component", "supervisor"),
		sleep:     sleepContext,
	}
}

// SafeConnect connects with the configured retry limit.
func (s *Supervisor) SafeConnect(ctx context.Context) bool {
	return s.SafeConnectWithRetries(ctx, s.cfg.MaxRetries)
}

// SafeConnectWithRetries connects, retrying refused and timed-out attempts up to
// maxRetries times. It returns false when the address is unusable, the retries
// run out, or ctx is done.
func (s *Supervisor) SafeConnectWithRetries(ctx context.Context, maxRetries int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID)
	budget := NewRetryBudget(maxRetries, s.cfg.BaseDelay, s.cfg.EscalatedDelay, s.cfg.EscalationThreshold)

	for {
		err := s.transport.Connect(ctx)
		class, action := Decide(PhaseConnect, err)
		s.recorder.RecordConnectAttempt(class.String())

		switch action {
		case ActionSucceed:
			logger.Info("connected to broker", "retries", budget.Attempts())
			s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventConnected, budget.Attempts(), ""))
			s.recorder.RecordCampaign(campaignConnected, budget.Attempts())
			return true

		case ActionTolerate:
			// The socket is up; callers find out through the next heartbeat.
			logger.Warn("protocol error while connecting, continuing", "err", err)
			s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventConnectTolerated, budget.Attempts(), err.Error()))
			s.recorder.RecordCampaign(campaignTolerated, budget.Attempts())
			return true

		case ActionRetry:
			retry := budget.Attempts()
			delay := budget.NextBackOff()
			s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventConnectRefused, retry+1, err.Error()))

			if delay == backoff.Stop {
				logger.Error("giving up connecting to broker",
					"retries", retry,
					"max_retries", maxRetries,
					"err", err,
				)
				s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventCampaignExhausted, retry, err.Error()))
				s.recorder.RecordCampaign(campaignExhausted, retry)
				s.alert(ctx, alerting.EventReconnectFailed, "gave up reconnecting to broker",
					"retries", retry,
					"session_id", sessionID,
				)
				return false
			}

			if retry == 0 {
				logger.Warn("broker connection failed, retrying", "class", class, "delay", delay, "err", err)
			} else {
				logger.Warn("broker connection still failing",
					"class", class,
					"retry", retry,
					"max_retries", maxRetries,
					"delay", delay,
				)
			}

			if err := s.sleep(ctx, delay); err != nil {
				logger.Info("reconnect campaign canceled", "retries", budget.Attempts())
				s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventCampaignAborted, budget.Attempts(), err.Error()))
				s.recorder.RecordCampaign(campaignAborted, budget.Attempts())
				return false
			}

		case ActionAbort:
			logger.Info("reconnect campaign canceled", "retries", budget.Attempts(), "err", err)
			s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventCampaignAborted, budget.Attempts(), err.Error()))
			s.recorder.RecordCampaign(campaignAborted, budget.Attempts())
			return false

		default:
			logger.Error("cannot connect to broker", "class", class, "err", err)
			s.events.record(ctx, persistence.NewEvent(sessionID, persistence.EventConnectFatal, budget.Attempts(), err.Error()))
			s.recorder.RecordCampaign(campaignFatal, budget.Attempts())

			event := alerting.EventReconnectFailed
			if class == ClassHostUnreachable || class == ClassAddress {
				event = alerting.EventFatalConfig
			}
			s.alert(ctx, event, "cannot connect to broker", "class", class.String(), "err", err.Error())
			return false
		}
	}
}

func (s *Supervisor) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if err := alerting.SendEvent(ctx, s.alerter, event, message, fields...); err != nil {
		s.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}
