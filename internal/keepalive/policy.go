// Package keepalive keeps a broker transport usable: a heartbeat prober that
// round-trips a current-time request, and a supervisor that re-establishes the
// connection with bounded, escalating retries.
package keepalive

import (
	"context"
	"errors"

	"github.com/tathienbao/ibwatch/internal/broker"
)

// FailureClass groups transport errors by how they should be handled.
type FailureClass int

const (
	ClassNone FailureClass = iota
	ClassTransport
	ClassRefused
	ClassTimeout
	ClassNotConnected
	ClassHostUnreachable
	ClassAddress
	ClassProtocol
	ClassCanceled
	ClassUnknown
)

func (c FailureClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransport:
		return "transport"
	case ClassRefused:
		return "refused"
	case ClassTimeout:
		return "timeout"
	case ClassNotConnected:
		return "not_connected"
	case ClassHostUnreachable:
		return "host_unreachable"
	case ClassAddress:
		return "address"
	case ClassProtocol:
		return "protocol"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Action is what a control loop does next for a failure class.
type Action int

const (
	ActionSucceed Action = iota
	ActionRetry
	ActionReconnect
	ActionFatal
	ActionTolerate
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionSucceed:
		return "succeed"
	case ActionRetry:
		return "retry"
	case ActionReconnect:
		return "reconnect"
	case ActionFatal:
		return "fatal"
	case ActionTolerate:
		return "tolerate"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Phase is the operation an error was raised from.
type Phase int

const (
	PhaseConnect Phase = iota
	PhaseProbe
)

// policy maps each phase and failure class to an action. Classes missing from a
// phase fall back to that phase's default.
var policy = map[Phase]map[FailureClass]Action{
	PhaseConnect: {
		ClassNone:            ActionSucceed,
		ClassRefused:         ActionRetry,
		ClassTimeout:         ActionRetry,
		ClassHostUnreachable: ActionFatal,
		ClassAddress:         ActionFatal,
		// Under review: TWS may report a benign warning here, or a real failure.
		ClassProtocol:        ActionTolerate,
		ClassCanceled:        ActionAbort,
	},
	PhaseProbe: {
		ClassNone:         ActionSucceed,
		ClassTransport:    ActionRetry,
		ClassRefused:      ActionRetry,
		ClassTimeout:      ActionRetry,
		ClassNotConnected: ActionReconnect,
		ClassProtocol:     ActionReconnect,
		ClassCanceled:     ActionAbort,
	},
}

var defaultAction = map[Phase]Action{
	PhaseConnect: ActionFatal,
	PhaseProbe:   ActionAbort,
}

// Classify maps an error onto a failure class.
func Classify(err error) FailureClass {
	var pe *broker.ProtocolError
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, broker.ErrNotConnected):
		return ClassNotConnected
	case errors.Is(err, broker.ErrConnectionRefused):
		return ClassRefused
	case errors.Is(err, broker.ErrHostUnreachable):
		return ClassHostUnreachable
	case errors.Is(err, broker.ErrAddress):
		return ClassAddress
	case errors.Is(err, broker.ErrConnectionTimeout):
		return ClassTimeout
	case errors.As(err, &pe):
		return ClassProtocol
	case errors.Is(err, broker.ErrTransport):
		return ClassTransport
	default:
		return ClassUnknown
	}
}

// Decide classifies err and looks up the action for phase.
func Decide(phase Phase, err error) (FailureClass, Action) {
	class := Classify(err)
	if action, ok := policy[phase][class]; ok {
		return class, action
	}
	return class, defaultAction[phase]
}
