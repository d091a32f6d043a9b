package alerting

import "context"

// EventFilter forwards only alerts whose event passes allow. Alerts sent
// without an event field are always forwarded.
type EventFilter struct {
	next  Alerter
	allow func(AlertEvent) bool
}

// NewEventFilter wraps next.
func NewEventFilter(next Alerter, allow func(AlertEvent) bool) *EventFilter {
	return &EventFilter{next: next, allow: allow}
}

// Name returns the wrapped alerter's name.
func (f *EventFilter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert unless its event is filtered out.
func (f *EventFilter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if event, ok := eventOf(fields); ok && !f.allow(event) {
		return nil
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

func eventOf(fields []any) (AlertEvent, bool) {
	if len(fields) < 2 || fields[0] != "event" {
		return "", false
	}
	s, ok := fields[1].(string)
	return AlertEvent(s), ok
}
