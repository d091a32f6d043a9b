package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts into the structured log, next to the probe and
// campaign records of the same session.
type ConsoleAlerter struct {
	logger      *slog.Logger
	minSeverity Severity
}

// NewConsoleAlerter creates a console alerter that logs every severity.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger, minSeverity: SeverityInfo}
}

// WithMinSeverity drops alerts below min.
func (c *ConsoleAlerter) WithMinSeverity(min Severity) *ConsoleAlerter {
	c.minSeverity = min
	return c
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at the slog level matching its severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if severity < c.minSeverity {
		return nil
	}

	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	c.logger.Log(ctx, severityLevel(severity), "alert: "+message, attrs...)
	return nil
}

// severityLevel maps an alert severity onto a log level.
func severityLevel(s Severity) slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
