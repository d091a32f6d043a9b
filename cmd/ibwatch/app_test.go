package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tathienbao/ibwatch/internal/broker/ibkr"
	"github.com/tathienbao/ibwatch/internal/broker/paper"
	"github.com/tathienbao/ibwatch/internal/config"
	"github.com/tathienbao/ibwatch/internal/persistence"
	"github.com/tathienbao/ibwatch/internal/ui"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewTransport(t *testing.T) {
	if _, ok := newTransport(config.Default(), testLogger()).(*ibkr.Client); !ok {
		t.Error("default transport should be the TWS client")
	}

	cfg := loadTestConfig(t, "broker:\n  type: paper\n")
	if _, ok := newTransport(cfg, testLogger()).(*paper.Broker); !ok {
		t.Error("paper transport expected for broker.type=paper")
	}
}

func TestNewAlerter(t *testing.T) {
	if got := newAlerter(config.Default(), testLogger()).Name(); got != "multi" {
		t.Errorf("Name() = %q, want multi", got)
	}

	cfg := loadTestConfig(t, `
alerting:
  enabled: true
  channels:
    - type: telegram
      bot_token: token
      chat_id: "1"
`)
	if newAlerter(cfg, testLogger()) == nil {
		t.Error("expected alerter")
	}
}

// The paper broker lets the whole stack run in-process.
func TestApp_PaperEndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	cfg := loadTestConfig(t, `
broker:
  type: paper
heartbeat:
  timeout_ms: 200
persistence:
  enabled: true
  type: sqlite
  path: `+dbPath+`
`)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.journal.Close()
	defer a.closeTransport(ctx)

	if !a.supervisor.SafeConnect(ctx) {
		t.Fatal("SafeConnect() = false on paper broker")
	}
	if !a.monitor.Tick(ctx) {
		t.Fatal("Tick() = false on paper broker")
	}

	counts, err := a.journal.CountByKind(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountByKind() error = %v", err)
	}
	if counts[persistence.EventConnected] != 1 || counts[persistence.EventProbeAlive] != 1 {
		t.Errorf("journal counts = %v, want one connected and one probe_alive", counts)
	}
}

func TestBoardFeeder_DrawsEachCycleOnce(t *testing.T) {
	cfg := loadTestConfig(t, "broker:\n  type: paper\nheartbeat:\n  timeout_ms: 200\n")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.closeTransport(ctx)

	var out bytes.Buffer
	feeder := &boardFeeder{
		board:   ui.NewStatusBoard(&out, "paper"),
		prober:  a.prober,
		monitor: a.monitor,
	}

	feeder.update()
	if !strings.Contains(out.String(), "waiting for first heartbeat") {
		t.Errorf("board before first probe:\n%s", out.String())
	}

	if !a.supervisor.SafeConnect(ctx) || !a.monitor.Tick(ctx) {
		t.Fatal("paper broker should connect and answer")
	}

	feeder.update()
	first := feeder.seen
	if first.IsZero() {
		t.Fatal("probe result not picked up")
	}
	if !strings.Contains(out.String(), "CONNECTED") || !strings.Contains(out.String(), "Alive: 100.0%") {
		t.Errorf("board after probe:\n%s", out.String())
	}

	feeder.update()
	if feeder.seen != first {
		t.Error("same probe result drawn twice")
	}
}
