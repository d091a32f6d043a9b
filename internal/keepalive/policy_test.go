package keepalive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tathienbao/ibwatch/internal/broker"
)

func TestDecide(t *testing.T) {
	protoErr := &broker.ProtocolError{Op: "handshake", Err: errors.New("bad version")}

	tests := []struct {
		name       string
		phase      Phase
		err        error
		wantClass  FailureClass
		wantAction Action
	}{
		{"connect ok", PhaseConnect, nil, ClassNone, ActionSucceed},
		{"connect refused", PhaseConnect, broker.ErrConnectionRefused, ClassRefused, ActionRetry},
		{"connect refused wrapped", PhaseConnect, fmt.Errorf("dial: %w", broker.ErrConnectionRefused), ClassRefused, ActionRetry},
		{"connect timeout", PhaseConnect, broker.ErrConnectionTimeout, ClassTimeout, ActionRetry},
		{"connect unreachable", PhaseConnect, broker.ErrHostUnreachable, ClassHostUnreachable, ActionFatal},
		{"connect address", PhaseConnect, broker.ErrAddress, ClassAddress, ActionFatal},
		{"connect protocol", PhaseConnect, protoErr, ClassProtocol, ActionTolerate},
		{"connect canceled", PhaseConnect, context.Canceled, ClassCanceled, ActionAbort},
		{"connect unknown", PhaseConnect, errors.New("boom"), ClassUnknown, ActionFatal},
		{"probe ok", PhaseProbe, nil, ClassNone, ActionSucceed},
		{"probe io", PhaseProbe, broker.ErrTransport, ClassTransport, ActionRetry},
		{"probe refused", PhaseProbe, broker.ErrConnectionRefused, ClassRefused, ActionRetry},
		{"probe not connected", PhaseProbe, broker.ErrNotConnected, ClassNotConnected, ActionReconnect},
		{"probe protocol", PhaseProbe, protoErr, ClassProtocol, ActionReconnect},
		{"probe deadline", PhaseProbe, context.DeadlineExceeded, ClassCanceled, ActionAbort},
		{"probe unknown", PhaseProbe, errors.New("boom"), ClassUnknown, ActionAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, action := Decide(tt.phase, tt.err)
			if class != tt.wantClass {
				t.Errorf("class = %v, want %v", class, tt.wantClass)
			}
			if action != tt.wantAction {
				t.Errorf("action = %v, want %v", action, tt.wantAction)
			}
		})
	}
}

func TestFailureClass_String(t *testing.T) {
	tests := []struct {
		class FailureClass
		want  string
	}{
		{ClassNone, "none"},
		{ClassRefused, "refused"},
		{ClassNotConnected, "not_connected"},
		{ClassHostUnreachable, "host_unreachable"},
		{FailureClass(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("FailureClass(%d).String() = %q, want %q", int(tt.class), got, tt.want)
		}
	}
}

func TestRetryBudget(t *testing.T) {
	b := NewRetryBudget(4, 10*time.Second, 60*time.Second, 2)

	want := []time.Duration{10 * time.Second, 10 * time.Second, 60 * time.Second, 60 * time.Second, backoff.Stop}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, w)
		}
	}
	if b.Attempts() != 4 {
		t.Errorf("Attempts() = %d, want 4", b.Attempts())
	}

	// Exhausted budgets stay exhausted and never exceed the limit.
	if got := b.NextBackOff(); got != backoff.Stop {
		t.Errorf("NextBackOff() after stop = %v, want Stop", got)
	}
	if b.Attempts() > b.MaxAttempts() {
		t.Errorf("Attempts() = %d exceeds MaxAttempts() = %d", b.Attempts(), b.MaxAttempts())
	}

	b.Reset()
	if b.Attempts() != 0 || b.NextBackOff() != 10*time.Second {
		t.Error("Reset() did not restore the budget")
	}
}

func TestRetryBudget_ZeroRetries(t *testing.T) {
	b := NewRetryBudget(0, time.Second, time.Minute, 50)
	if got := b.NextBackOff(); got != backoff.Stop {
		t.Errorf("NextBackOff() = %v, want Stop", got)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return on cancellation")
	}
}
