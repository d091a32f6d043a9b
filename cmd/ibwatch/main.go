// Package main is the entry point for the IBKR connection watchdog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tathienbao/ibwatch/internal/config"
	"github.com/tathienbao/ibwatch/internal/keepalive"
	"github.com/tathienbao/ibwatch/internal/metrics"
	"github.com/tathienbao/ibwatch/internal/persistence"
	"github.com/tathienbao/ibwatch/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "check":
		os.Exit(cmdCheck(os.Args[2:]))
	case "events":
		cmdEvents(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ibwatch - IBKR TWS/Gateway connection watchdog

Usage:
  ibwatch <command> [options]

Commands:
  run        Connect, probe on a schedule and reconnect on loss
  check      Connect once and send one heartbeat (exit 0 if alive)
  events     Show recent connection events from the journal
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  ibwatch run --config ibwatch.yaml
  ibwatch run --config ibwatch.yaml --ui 2>ibwatch.log
  ibwatch check --config ibwatch.yaml --retries 3
  ibwatch events --config ibwatch.yaml --limit 50

Use "ibwatch <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("ibwatch version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

// loadConfig loads path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "ibwatch.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ib := cfg.ToIBKRConfig()
	sup := cfg.ToSupervisorConfig()
	probe := cfg.ToProbeConfig()

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Broker: %s %s:%d (client %d)\n", cfg.Broker.Type, ib.Host, ib.Port, ib.ClientID)
	fmt.Printf("  Heartbeat: every %ds, %v timeout, %d attempts\n", cfg.Heartbeat.IntervalSec, probe.Timeout, probe.MaxAttempts+1)
	fmt.Printf("  Reconnect: %d retries, %v then %v after %d\n", sup.MaxRetries, sup.BaseDelay, sup.EscalatedDelay, sup.EscalationThreshold)
	fmt.Printf("  Journal: %s\n", cfg.ToPersistenceConfig().Driver)
}

func newLogger(out io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "ibwatch.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Debug logging")
	board := fs.Bool("ui", false, "Draw a live heartbeat board on stdout (logs go to stderr)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	level := cfg.LogLevel()
	if *verbose {
		level = slog.LevelDebug
	}
	logOut := os.Stdout
	if *board {
		logOut = os.Stderr
	}
	logger := newLogger(logOut, cfg.Logging.Format, level)
	slog.SetDefault(logger)

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("ibwatch starting",
		"version", Version,
		"broker", cfg.Broker.Type,
		"interval", cfg.ToMonitorConfig().Interval,
	)
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		os.Exit(1)
	}

	var server *metrics.Server
	if cfg.Metrics.Enabled {
		server = metrics.NewServer(cfg.ToMetricsConfig(), logger)
		server.RegisterHealthCheck("broker", app.monitor.HealthCheck)
		if err := server.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !app.supervisor.SafeConnect(gctx) {
			slog.Warn("initial connection failed, monitor will keep retrying")
		}
		return app.monitor.Run(gctx)
	})
	if *board {
		target := cfg.ToIBKRConfig().Address()
		if cfg.Broker.Type == "paper" {
			target = "paper"
		}
		feeder := &boardFeeder{
			board:   ui.NewStatusBoard(os.Stdout, target),
			prober:  app.prober,
			monitor: app.monitor,
		}
		g.Go(func() error { return feeder.run(gctx, time.Second) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("monitor exited", "err", err)
	}
	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout(),
	)
	defer cancel()

	if err := shutdown(shutdownCtx, cfg, app, server); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("ibwatch shutdown complete")
}

func shutdown(ctx context.Context, cfg *config.Config, app *app, server *metrics.Server) error {
	slog.Info("starting graceful shutdown",
		"timeout", cfg.ShutdownTimeout(),
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop metrics server", func() error {
			if server == nil {
				return nil
			}
			return server.Shutdown(ctx)
		}},
		{"close broker connection", func() error {
			return app.closeTransport(ctx)
		}},
		{"close journal", func() error {
			if app.journal == nil {
				return nil
			}
			return app.journal.Close()
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	return nil
}

func cmdCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (defaults when empty)")
	retries := fs.Int("retries", 0, "Connect retries (0 = fail on first refusal)")
	verbose := fs.Bool("verbose", false, "Debug logging")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, "text", level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Initialization error: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		_ = app.closeTransport(closeCtx)
		if app.journal != nil {
			_ = app.journal.Close()
		}
	}()

	ib := cfg.ToIBKRConfig()
	start := time.Now()
	if !app.supervisor.SafeConnectWithRetries(ctx, *retries) {
		fmt.Printf("FAIL  could not connect to %s:%d\n", ib.Host, ib.Port)
		return 1
	}

	result := app.prober.Probe(ctx)
	if !result.Alive {
		fmt.Printf("FAIL  connected to %s:%d but no heartbeat after %d attempts\n", ib.Host, ib.Port, result.Attempts)
		return 1
	}

	fmt.Printf("OK    %s:%d rtt=%v attempts=%d elapsed=%v\n",
		ib.Host, ib.Port, result.RTT.Round(time.Microsecond), result.Attempts, time.Since(start).Round(time.Millisecond))
	if !result.ServerTime.IsZero() {
		fmt.Printf("      server time %s (skew %v)\n",
			result.ServerTime.UTC().Format(time.RFC3339), time.Since(result.ServerTime).Round(time.Second))
	}
	return 0
}

func cmdEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	configPath := fs.String("config", "ibwatch.yaml", "Path to configuration file")
	limit := fs.Int("limit", 20, "Number of events to show")
	session := fs.String("session", "", "Show one campaign or probe cycle")
	since := fs.Duration("since", 24*time.Hour, "Window for the per-kind summary")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	journal, err := persistence.Open(ctx, cfg.ToPersistenceConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	if journal == nil {
		fmt.Fprintln(os.Stderr, "persistence is disabled in this configuration")
		os.Exit(1)
	}
	defer journal.Close()

	var events []persistence.ConnectionEvent
	if *session != "" {
		events, err = journal.SessionEvents(ctx, *session)
	} else {
		events, err = journal.RecentEvents(ctx, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tKIND\tATTEMPT\tRTT\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
			e.OccurredAt.Local().Format("2006-01-02 15:04:05"),
			shortID(e.SessionID), e.Kind, e.Attempt, e.RTT, e.Detail)
	}
	_ = w.Flush()

	if *session != "" {
		return
	}

	counts, err := journal.CountByKind(ctx, time.Now().Add(-*since))
	if err != nil {
		fmt.Fprintf(os.Stderr, "count events: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %v:\n", *since)
	for _, kind := range []persistence.EventKind{
		persistence.EventProbeAlive,
		persistence.EventProbeLost,
		persistence.EventProbeReconnect,
		persistence.EventConnected,
		persistence.EventConnectRefused,
		persistence.EventConnectTolerated,
		persistence.EventConnectFatal,
		persistence.EventCampaignExhausted,
		persistence.EventCampaignAborted,
	} {
		if n := counts[kind]; n > 0 {
			fmt.Printf("  %-20s %d\n", kind, n)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Ensure the monitor's collaborators satisfy the interfaces it expects.
var (
	_ keepalive.Checker   = (*keepalive.Prober)(nil)
	_ keepalive.Connector = (*keepalive.Supervisor)(nil)
)
