// Package alerting delivers connection alerts to operators.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventConnectionLost is sent when a heartbeat cycle fails.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when a lost connection comes back.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventReconnectFailed is sent when a reconnect campaign runs out of retries.
	EventReconnectFailed AlertEvent = "reconnect_failed"
	// EventFatalConfig is sent when the gateway address is unusable.
	EventFatalConfig AlertEvent = "fatal_config"
	// EventMonitorStarted is sent when the monitor starts.
	EventMonitorStarted AlertEvent = "monitor_started"
	// EventMonitorStopped is sent when the monitor stops.
	EventMonitorStopped AlertEvent = "monitor_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventFatalConfig:
		return SeverityCritical
	case EventReconnectFailed:
		return SeverityHigh
	case EventConnectionLost:
		return SeverityWarning
	case EventConnectionRestored, EventMonitorStarted, EventMonitorStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// SendEvent sends message through a at the event's default severity.
// A nil alerter is a no-op.
func SendEvent(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return a.Alert(ctx, EventSeverity(event), message, fields...)
}
