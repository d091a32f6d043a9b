package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tathienbao/ibwatch/internal/alerting"
	"github.com/tathienbao/ibwatch/internal/metrics"
)

// Checker reports whether the broker connection is alive.
type Checker interface {
	CheckConnection(ctx context.Context) bool
}

// MonitorConfig controls the heartbeat schedule.
type MonitorConfig struct {
	Interval time.Duration
	// CampaignBackoff spaces reconnect campaigns after one fails.
	CampaignBackoff    time.Duration
	MaxCampaignBackoff time.Duration
}

// DefaultMonitorConfig returns a 30s heartbeat with campaign spacing from 1m up to 15m.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:           30 * time.Second,
		CampaignBackoff:    time.Minute,
		MaxCampaignBackoff: 15 * time.Minute,
	}
}

// MonitorStatus is a snapshot of the monitor's view of the connection.
type MonitorStatus struct {
	Connected    bool
	LastCheck    time.Time
	LostSince    time.Time
	Campaigns    int
	NextCampaign time.Time
	FailedChecks int
}

// Monitor probes the connection on a schedule and reconnects when it is lost.
type Monitor struct {
	checker   Checker
	connector Connector
	alerter   alerting.Alerter
	cfg       MonitorConfig
	recorder  *metrics.Recorder
	logger    *slog.Logger
	backoff   *backoff.ExponentialBackOff
	now       func() time.Time

	mu     sync.RWMutex
	status MonitorStatus
	seen   bool
}

// NewMonitor creates a monitor. alerter may be nil.
func NewMonitor(checker Checker, connector Connector, alerter alerting.Alerter, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.CampaignBackoff
	b.MaxInterval = cfg.MaxCampaignBackoff
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()

	return &Monitor{
		checker:   checker,
		connector: connector,
		alerter:   alerter,
		cfg:       cfg,
		recorder:  metrics.NewRecorder(),
		logger:    logger.With("component", "monitor"),
		backoff:   b,
		now:       time.Now,
	}
}

// Run ticks every Interval until ctx is done. The first check runs immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "interval", m.cfg.Interval)
	m.alert(ctx, alerting.EventMonitorStarted, "connection monitor started", "interval", m.cfg.Interval.String())

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			m.alert(context.WithoutCancel(ctx), alerting.EventMonitorStopped, "connection monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat and, if it fails, at most one reconnect campaign.
// It reports whether the connection is alive afterwards.
func (m *Monitor) Tick(ctx context.Context) bool {
	if m.checker.CheckConnection(ctx) {
		m.markAlive(ctx)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	m.markLost(ctx)

	m.mu.RLock()
	next := m.status.NextCampaign
	m.mu.RUnlock()

	now := m.now()
	if now.Before(next) {
		m.logger.Debug("waiting before next reconnect campaign", "next_campaign", next)
		return false
	}

	m.mu.Lock()
	m.status.Campaigns++
	m.mu.Unlock()

	if m.connector.SafeConnect(ctx) && m.checker.CheckConnection(ctx) {
		m.markAlive(ctx)
		return true
	}

	delay := m.backoff.NextBackOff()
	m.mu.Lock()
	m.status.NextCampaign = m.now().Add(delay)
	m.mu.Unlock()
	m.logger.Warn("reconnect campaign failed", "next_campaign_in", delay)
	return false
}

// Status returns a snapshot of the connection state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// HealthCheck reports the monitor's view for the metrics server.
func (m *Monitor) HealthCheck() metrics.Check {
	st := m.Status()
	switch {
	case st.LastCheck.IsZero():
		return metrics.Check{Status: metrics.StatusUnhealthy, Message: "no heartbeat yet"}
	case st.Connected:
		return metrics.Check{Status: metrics.StatusHealthy, Message: fmt.Sprintf("last heartbeat %s", st.LastCheck.Format(time.RFC3339))}
	default:
		return metrics.Check{
			Status:  metrics.StatusUnhealthy,
			Message: fmt.Sprintf("connection lost since %s, %d failed checks", st.LostSince.Format(time.RFC3339), st.FailedChecks),
		}
	}
}

func (m *Monitor) markAlive(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	wasLost := m.seen && !m.status.Connected
	lostSince := m.status.LostSince
	m.seen = true
	m.status = MonitorStatus{Connected: true, LastCheck: now, Campaigns: m.status.Campaigns}
	m.mu.Unlock()

	m.backoff.Reset()
	if wasLost {
		downtime := now.Sub(lostSince).Round(time.Second)
		m.logger.Info("connection restored", "downtime", downtime)
		m.alert(ctx, alerting.EventConnectionRestored, "broker connection restored", "downtime", downtime.String())
	}
}

func (m *Monitor) markLost(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	first := !m.seen || m.status.Connected
	m.seen = true
	m.status.Connected = false
	m.status.LastCheck = now
	m.status.FailedChecks++
	if first {
		m.status.LostSince = now
	}
	m.mu.Unlock()

	m.recorder.RecordBrokerStatus(false)
	if first {
		m.logger.Warn("connection lost")
		m.alert(ctx, alerting.EventConnectionLost, "broker heartbeat lost")
	}
}

func (m *Monitor) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if err := alerting.SendEvent(ctx, m.alerter, event, message, fields...); err != nil {
		m.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}
