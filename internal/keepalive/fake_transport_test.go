package keepalive

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tathienbao/ibwatch/internal/broker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sendStep scripts one Send: the error to return and whether TWS answers it.
type sendStep struct {
	err   error
	reply bool
	// replyAfter delivers the reply asynchronously once Send has returned.
	replyAfter time.Duration
}

// fakeTransport is a scripted broker.Transport backed by a real dispatcher.
type fakeTransport struct {
	dispatcher *broker.Dispatcher

	mu             sync.Mutex
	connectErrs    []error
	connectDefault error
	sendSteps      []sendStep
	sendDefault    sendStep
	sendHook       func(n int)
	connects       int
	disconnects    int
	sends          int
	calls          []string
	state          broker.ConnectionState
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		dispatcher: broker.NewDispatcher(),
		state:      broker.StateConnected,
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	f.calls = append(f.calls, "connect")

	err := f.connectDefault
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	if err == nil {
		f.state = broker.StateConnected
	}
	return err
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnects++
	f.calls = append(f.calls, "disconnect")
	f.state = broker.StateDisconnected
	return nil
}

func (f *fakeTransport) State() broker.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Send(ctx context.Context, req broker.Request) error {
	f.mu.Lock()
	f.sends++
	n := f.sends
	f.calls = append(f.calls, "send")
	step := f.sendDefault
	if len(f.sendSteps) > 0 {
		step = f.sendSteps[0]
		f.sendSteps = f.sendSteps[1:]
	}
	hook := f.sendHook
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if step.err != nil {
		return step.err
	}
	if step.replyAfter > 0 {
		time.AfterFunc(step.replyAfter, f.reply)
		return nil
	}
	if step.reply {
		f.reply()
	}
	return nil
}

func (f *fakeTransport) reply() {
	f.dispatcher.Dispatch(broker.Message{
		Kind:       broker.KindCurrentTime,
		Fields:     []string{"1", "1760621400"},
		ReceivedAt: time.Now(),
	})
}

func (f *fakeTransport) Subscribe(kind broker.MessageKind, h broker.Handler) broker.Subscription {
	return f.dispatcher.Subscribe(kind, h)
}

func (f *fakeTransport) Unsubscribe(sub broker.Subscription) {
	f.dispatcher.Unsubscribe(sub)
}

func (f *fakeTransport) counts() (connects, disconnects, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.sends
}

func (f *fakeTransport) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// silent returns n steps with neither error nor reply.
func silent(n int) []sendStep {
	return make([]sendStep, n)
}

var _ broker.Transport = (*fakeTransport)(nil)

// sleepRecorder replaces the real sleep and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}
