package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/ibwatch/internal/alerting"
	"github.com/tathienbao/ibwatch/internal/broker"
	"github.com/tathienbao/ibwatch/internal/broker/ibkr"
	"github.com/tathienbao/ibwatch/internal/broker/paper"
	"github.com/tathienbao/ibwatch/internal/config"
	"github.com/tathienbao/ibwatch/internal/keepalive"
	"github.com/tathienbao/ibwatch/internal/persistence"
	"github.com/tathienbao/ibwatch/internal/ui"
)

// transport is what the app needs from a broker session.
type transport interface {
	broker.Transport
	Shutdown(ctx context.Context) error
}

// app holds the wired components.
type app struct {
	transport  transport
	journal    persistence.Journal
	alerter    alerting.Alerter
	supervisor *keepalive.Supervisor
	prober     *keepalive.Prober
	monitor    *keepalive.Monitor
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	t := newTransport(cfg, logger)

	journal, err := persistence.Open(ctx, cfg.ToPersistenceConfig())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	alerter := newAlerter(cfg, logger)

	supervisor := keepalive.NewSupervisor(t, cfg.ToSupervisorConfig(), journal, alerter, logger)
	prober := keepalive.NewProber(t, supervisor, cfg.ToProbeConfig(), journal, logger)
	monitor := keepalive.NewMonitor(prober, supervisor, alerter, cfg.ToMonitorConfig(), logger)

	return &app{
		transport:  t,
		journal:    journal,
		alerter:    alerter,
		supervisor: supervisor,
		prober:     prober,
		monitor:    monitor,
	}, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) transport {
	if cfg.Broker.Type == "paper" {
		return paper.NewBroker(cfg.ToPaperConfig(), logger)
	}
	return ibkr.NewClient(cfg.ToIBKRConfig(), logger)
}

// newAlerter builds the configured channels. Console is always included so
// alerts reach the log even when alerting is disabled.
func newAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	multi := alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger))
	if !cfg.Alerting.Enabled {
		return multi
	}

	for _, ch := range cfg.Alerting.Channels {
		if ch.Type != "telegram" {
			continue
		}
		telegram := alerting.NewTelegramAlerter(alerting.TelegramConfig{
			BotToken:    ch.BotToken,
			ChatID:      ch.ChatID,
			MinInterval: time.Duration(ch.MinIntervalSec) * time.Second,
		})
		multi.AddAlerter(alerting.NewEventFilter(telegram, func(e alerting.AlertEvent) bool {
			return cfg.IsAlertEventEnabled(string(e))
		}))
	}

	return multi
}

func (a *app) closeTransport(ctx context.Context) error {
	return a.transport.Shutdown(ctx)
}

// boardFeeder copies new probe results and monitor status onto a status board.
type boardFeeder struct {
	board   *ui.StatusBoard
	prober  *keepalive.Prober
	monitor *keepalive.Monitor
	seen    time.Time
}

// update adds the latest probe cycle if it has not been drawn yet and redraws.
func (f *boardFeeder) update() {
	if r := f.prober.LastResult(); !r.CheckedAt.IsZero() && r.CheckedAt.After(f.seen) {
		f.seen = r.CheckedAt
		f.board.AddSample(ui.Sample{At: r.CheckedAt, Alive: r.Alive, RTT: r.RTT, Attempts: r.Attempts})
	}
	st := f.monitor.Status()
	f.board.SetStatus(ui.Status{Connected: st.Connected, LostSince: st.LostSince, Campaigns: st.Campaigns})
	f.board.Render()
}

// run redraws every refresh until ctx is done.
func (f *boardFeeder) run(ctx context.Context, refresh time.Duration) error {
	f.board.Start()
	defer f.board.Stop()

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		f.update()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
