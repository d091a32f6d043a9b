// Package paper provides a simulated TWS session for dry runs and drills.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/ibwatch/internal/broker"
)

// Config holds simulation settings.
type Config struct {
	// ReplyDelay is how long the simulated server takes to answer a request.
	ReplyDelay time.Duration
	// ClockOffset is added to local time in current-time replies.
	ClockOffset time.Duration
}

// DefaultConfig returns default simulation config.
func DefaultConfig() Config {
	return Config{
		ReplyDelay: 5 * time.Millisecond,
	}
}

// Broker is an in-memory broker.Transport. Faults can be injected to rehearse
// outages without a running TWS.
type Broker struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *broker.Dispatcher

	state atomic.Int32

	// Faults
	faultMu      sync.RWMutex
	connectErr   error
	sendErr      error
	dropReplies  bool
	connectCount int
	sendCount    int

	// Shutdown
	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewBroker creates a new simulated broker.
func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broker{
		cfg:        cfg,
		logger:     logger.With("broker", "paper"),
		dispatcher: broker.NewDispatcher(),
		done:       make(chan struct{}),
	}
	b.state.Store(int32(broker.StateDisconnected))
	return b
}

// Connect simulates connecting to TWS. It fails with the injected connect error, if any.
func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.faultMu.Lock()
	b.connectCount++
	err := b.connectErr
	b.faultMu.Unlock()

	if err != nil {
		b.state.Store(int32(broker.StateError))
		return fmt.Errorf("paper connect: %w", err)
	}

	b.mu.Lock()
	select {
	case <-b.done:
		b.done = make(chan struct{})
	default:
	}
	b.mu.Unlock()

	b.state.Store(int32(broker.StateConnected))
	b.logger.Info("paper broker connected")
	return nil
}

// Disconnect simulates disconnecting. Pending replies are discarded.
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.state.Store(int32(broker.StateDisconnected))
	b.logger.Info("paper broker disconnected")
	return nil
}

// State returns connection state.
func (b *Broker) State() broker.ConnectionState {
	return broker.ConnectionState(b.state.Load())
}

// IsConnected returns true if connected.
func (b *Broker) IsConnected() bool {
	return b.State() == broker.StateConnected
}

// Send accepts a request. Current-time requests are answered after ReplyDelay.
func (b *Broker) Send(ctx context.Context, req broker.Request) error {
	if !b.IsConnected() {
		return broker.ErrNotConnected
	}

	b.faultMu.Lock()
	b.sendCount++
	err := b.sendErr
	drop := b.dropReplies
	b.faultMu.Unlock()

	if err != nil {
		return err
	}
	if req.Kind != broker.ReqCurrentTime || drop {
		return nil
	}

	b.mu.Lock()
	done := b.done
	select {
	case <-done:
		b.mu.Unlock()
		return broker.ErrNotConnected
	default:
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		timer := time.NewTimer(b.cfg.ReplyDelay)
		defer timer.Stop()

		select {
		case <-done:
			return
		case <-timer.C:
		}

		now := time.Now().Add(b.cfg.ClockOffset)
		b.dispatcher.Dispatch(broker.Message{
			Kind:       broker.KindCurrentTime,
			Fields:     []string{"1", strconv.FormatInt(now.Unix(), 10)},
			ReceivedAt: time.Now(),
		})
	}()

	return nil
}

// Subscribe registers a handler for a message kind.
func (b *Broker) Subscribe(kind broker.MessageKind, h broker.Handler) broker.Subscription {
	return b.dispatcher.Subscribe(kind, h)
}

// Unsubscribe removes a handler.
func (b *Broker) Unsubscribe(sub broker.Subscription) {
	b.dispatcher.Unsubscribe(sub)
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Broker) SubscriptionCount() int {
	return b.dispatcher.Count()
}

// SimulateOutage drops the session: Send reports not connected and Connect
// fails with err until SimulateRecovery. A nil err refuses the connection.
func (b *Broker) SimulateOutage(err error) {
	if err == nil {
		err = broker.ErrConnectionRefused
	}

	b.faultMu.Lock()
	b.connectErr = err
	b.faultMu.Unlock()

	b.logger.Warn("simulating outage", "err", err)
	_ = b.Disconnect()
}

// SimulateRecovery clears the injected connect error.
func (b *Broker) SimulateRecovery() {
	b.faultMu.Lock()
	b.connectErr = nil
	b.faultMu.Unlock()
	b.logger.Info("simulating recovery")
}

// SetSendError makes every Send fail with err; nil clears it.
func (b *Broker) SetSendError(err error) {
	b.faultMu.Lock()
	defer b.faultMu.Unlock()
	b.sendErr = err
}

// SetDropReplies stops (or resumes) answering current-time requests.
func (b *Broker) SetDropReplies(drop bool) {
	b.faultMu.Lock()
	defer b.faultMu.Unlock()
	b.dropReplies = drop
}

// Counts returns how many connects and sends were attempted.
func (b *Broker) Counts() (connects, sends int) {
	b.faultMu.RLock()
	defer b.faultMu.RUnlock()
	return b.connectCount, b.sendCount
}

// Shutdown disconnects.
func (b *Broker) Shutdown(ctx context.Context) error {
	return b.Disconnect()
}

// Ensure Broker implements broker.Transport
var _ broker.Transport = (*Broker)(nil)
