package ibkr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/ibwatch/internal/broker"
	"golang.org/x/time/rate"
)

const writeTimeout = 5 * time.Second

// Client implements broker.Transport over a TWS/Gateway socket.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	// lifecycleMu serializes Connect and Disconnect.
	lifecycleMu sync.Mutex
	state       atomic.Int32

	// mu guards the fields of the live session.
	mu            sync.RWMutex
	conn          net.Conn
	done          chan struct{}
	serverVersion int
	connectedAt   time.Time
	lastError     error

	writeMu sync.Mutex
	limiter *rate.Limiter

	dispatcher *broker.Dispatcher

	wg sync.WaitGroup
}

// NewClient creates a new IBKR client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultConfig().MaxRequestsPerSecond
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		dial:       dialer.DialContext,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		dispatcher: broker.NewDispatcher(),
	}

	c.state.Store(int32(broker.StateDisconnected))

	return c
}

// Connect establishes connection to TWS/Gateway and performs the API handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.State() == broker.StateConnected {
		return nil
	}

	c.state.Store(int32(broker.StateConnecting))

	addr := c.cfg.Address()
	c.logger.Info("connecting to IBKR",
		"addr", addr,
		"client_id", c.cfg.ClientID,
		"paper", c.cfg.PaperTrading,
	)

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		err = classifyDialError(err)
		c.fail(err)
		return err
	}

	reader := bufio.NewReader(conn)
	version, err := c.handshake(conn, reader)
	if err != nil {
		_ = conn.Close()
		err = &broker.ProtocolError{Op: "handshake", Err: err}
		c.fail(err)
		return err
	}

	c.start(conn, reader, version)

	c.logger.Info("connected to IBKR",
		"server_version", version,
		"connected_at", c.ConnectedAt(),
	)

	return nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
	c.state.Store(int32(broker.StateError))
}

// handshake performs the IB API connection handshake and returns the server version.
func (c *Client) handshake(conn net.Conn, r *bufio.Reader) (int, error) {
	if _, err := conn.Write(handshakePrefix(c.cfg.MinVersion, c.cfg.MaxVersion)); err != nil {
		return 0, fmt.Errorf("write handshake: %w", err)
	}

	timeout := c.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().HandshakeTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	fields, err := readFrame(r)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return 0, fmt.Errorf("read handshake response: %w", err)
	}

	// Response: server version, connection time
	if len(fields) < 1 {
		return 0, errors.New("empty handshake response")
	}
	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse server version %q: %w", fields[0], err)
	}
	if version < c.cfg.MinVersion {
		return 0, fmt.Errorf("server version %d below minimum %d", version, c.cfg.MinVersion)
	}

	var connTime string
	if len(fields) > 1 {
		connTime = fields[1]
	}
	c.logger.Debug("handshake response", "server_version", version, "connection_time", connTime)

	// START_API: msg id, version, client id, optional capabilities
	startAPI := encodeMessage(strconv.Itoa(int(broker.ReqStartAPI)), "2", strconv.Itoa(c.cfg.ClientID), "")
	if _, err := conn.Write(startAPI); err != nil {
		return 0, fmt.Errorf("write startAPI: %w", err)
	}

	return version, nil
}

// start installs conn as the live session and launches the reader.
func (c *Client) start(conn net.Conn, r *bufio.Reader, version int) {
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.serverVersion = version
	c.connectedAt = time.Now()
	c.lastError = nil
	c.mu.Unlock()

	c.state.Store(int32(broker.StateConnected))

	c.wg.Add(1)
	go c.readLoop(conn, r, done)
}

// readLoop reads framed messages until the connection fails or is closed.
func (c *Client) readLoop(conn net.Conn, r *bufio.Reader, done chan struct{}) {
	defer c.wg.Done()

	for {
		fields, err := readFrame(r)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			if errors.Is(err, io.EOF) {
				c.logger.Warn("IBKR closed the connection")
			} else {
				c.logger.Error("read error", "err", err)
			}
			c.handleDisconnect(conn, err)
			return
		}

		c.processMessage(fields)
	}
}

// processMessage decodes and dispatches one inbound message.
func (c *Client) processMessage(fields []string) {
	if len(fields) == 0 {
		c.logger.Debug("received empty message")
		return
	}

	msgID, err := strconv.Atoi(fields[0])
	if err != nil {
		c.logger.Debug("invalid message ID", "data", fields[0])
		return
	}

	msg := broker.Message{
		Kind:       broker.MessageKind(msgID),
		Fields:     fields[1:],
		ReceivedAt: time.Now(),
	}

	if msg.Kind == broker.KindError {
		c.handleErrorMessage(msg)
	}

	if n := c.dispatcher.Dispatch(msg); n == 0 {
		c.logger.Debug("unhandled message type", "msg_id", msgID, "fields", len(msg.Fields))
	}
}

// handleErrorMessage logs a server-side error notice.
func (c *Client) handleErrorMessage(msg broker.Message) {
	// Format: version, reqID, code, message
	if len(msg.Fields) < 4 {
		return
	}

	code, _ := strconv.Atoi(msg.Fields[2])
	text := msg.Fields[3]

	switch {
	case isConnectivityLoss(code):
		c.logger.Warn("IBKR connectivity lost", "code", code, "message", text)
	case isConnectivityRestored(code):
		c.logger.Info("IBKR connectivity restored", "code", code, "message", text)
	case code >= 2100 && code < 2200:
		c.logger.Debug("IBKR notice", "code", code, "message", text)
	default:
		c.logger.Warn("IBKR error", "req_id", msg.Fields[1], "code", code, "message", text)
	}
}

// handleDisconnect handles connection loss detected by the reader.
func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Session already replaced or torn down.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.lastError = cause
	c.mu.Unlock()

	_ = conn.Close()
	c.state.Store(int32(broker.StateDisconnected))
	c.logger.Warn("disconnected from IBKR")
}

// Send writes a request to TWS/Gateway.
func (c *Client) Send(ctx context.Context, req broker.Request) error {
	if c.State() != broker.StateConnected {
		return broker.ErrNotConnected
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return broker.ErrNotConnected
	}

	fields := append([]string{strconv.Itoa(int(req.Kind))}, req.Fields...)
	data := encodeMessage(fields...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(data); err != nil {
		return classifyWriteError(err)
	}

	return nil
}

// Subscribe registers h for inbound messages of the given kind.
func (c *Client) Subscribe(kind broker.MessageKind, h broker.Handler) broker.Subscription {
	return c.dispatcher.Subscribe(kind, h)
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(sub broker.Subscription) {
	c.dispatcher.Unsubscribe(sub)
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	return c.dispatcher.Count()
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()

	if conn == nil {
		c.state.Store(int32(broker.StateDisconnected))
		return nil
	}

	close(done)
	_ = conn.Close()
	c.wg.Wait()

	c.state.Store(int32(broker.StateDisconnected))
	c.logger.Info("disconnected from IBKR")
	return nil
}

// Shutdown gracefully shuts down the client.
func (c *Client) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down IBKR client")

	errCh := make(chan error, 1)
	go func() { errCh <- c.Disconnect() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// ServerVersion returns the version negotiated during the last handshake.
func (c *Client) ServerVersion() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// ConnectedAt returns when the current session was established.
func (c *Client) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// LastError returns the error that ended the last session or connect attempt.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Ensure Client implements broker.Transport
var _ broker.Transport = (*Client)(nil)
