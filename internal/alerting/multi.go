package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultChannelTimeout bounds a single channel's delivery.
const DefaultChannelTimeout = 15 * time.Second

// MultiAlerter fans an alert out to every channel concurrently. A slow channel
// cannot hold up the others past its timeout.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		timeout:  DefaultChannelTimeout,
		logger:   logger,
	}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// SetChannelTimeout changes the per-channel delivery timeout.
func (m *MultiAlerter) SetChannelTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// AddAlerter adds a channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert delivers to every channel and joins the failures, each prefixed with
// the channel name. Throttled channels are not counted as failures.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	timeout := m.timeout
	m.mu.RUnlock()

	errs := make([]error, len(alerters))
	var wg sync.WaitGroup
	for i, a := range alerters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := a.Alert(actx, severity, message, fields...)
			switch {
			case err == nil:
			case errors.Is(err, ErrAlertThrottled):
				m.logger.Debug("alert throttled", "alerter", a.Name(), "severity", severity.String())
			default:
				m.logger.Error("alerter failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errs[i] = fmt.Errorf("%s: %w", a.Name(), err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return SendEvent(ctx, m, event, message, fields...)
}
