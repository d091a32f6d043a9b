// Package broker defines the transport capability the keepalive layer runs on.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common broker errors.
var (
	ErrNotConnected      = errors.New("broker not connected")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectionRefused = errors.New("connection refused")
	ErrHostUnreachable   = errors.New("host unreachable")
	ErrAddress           = errors.New("invalid or unresolvable address")
	ErrTransport         = errors.New("transport i/o error")
)

// ProtocolError is a TWS-level failure reported after the socket itself was usable,
// e.g. a rejected handshake or an unsupported server version.
type ProtocolError struct {
	Op   string
	Code int
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("protocol %s (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageKind identifies an inbound TWS message by its message id.
type MessageKind int

// Inbound message ids used by this client.
const (
	KindError           MessageKind = 4
	KindNextValidID     MessageKind = 9
	KindManagedAccounts MessageKind = 15
	KindCurrentTime     MessageKind = 49
)

func (k MessageKind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindNextValidID:
		return "next_valid_id"
	case KindManagedAccounts:
		return "managed_accounts"
	case KindCurrentTime:
		return "current_time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is a decoded inbound message. Fields excludes the leading message id.
type Message struct {
	Kind       MessageKind
	Fields     []string
	ReceivedAt time.Time
}

// RequestKind identifies an outbound TWS request.
type RequestKind int

// Outbound request ids.
const (
	ReqStartAPI    RequestKind = 71
	ReqCurrentTime RequestKind = 49
)

// Request is an outbound message.
type Request struct {
	Kind   RequestKind
	Fields []string
}

// RequestCurrentTime builds the REQ_CURRENT_TIME heartbeat request.
func RequestCurrentTime() Request {
	return Request{Kind: ReqCurrentTime, Fields: []string{"1"}}
}

// Handler receives inbound messages for a subscription. Handlers run on the
// transport's read goroutine and must not block.
type Handler func(Message)

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id   uint64
	kind MessageKind
}

// Kind returns the message kind the subscription listens to.
func (s Subscription) Kind() MessageKind {
	return s.kind
}

// Transport is the capability the supervisor and prober need from a connection.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	Send(ctx context.Context, req Request) error
	Subscribe(kind MessageKind, h Handler) Subscription
	Unsubscribe(sub Subscription)
}
