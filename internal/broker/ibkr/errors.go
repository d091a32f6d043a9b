package ibkr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/tathienbao/ibwatch/internal/broker"
)

// TWS error codes that describe connectivity rather than a request failure.
const (
	codeNotConnected          = 504
	codeConnectivityLost      = 1100
	codeConnectivityRestored  = 1101
	codeConnectivityRestored2 = 1102
	codeFarmDisconnected      = 2110
)

// classifyDialError maps a dial failure onto the broker error taxonomy.
func classifyDialError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", broker.ErrConnectionRefused, err)
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%w: %v", broker.ErrHostUnreachable, err)
	case errors.As(err, &dnsErr), errors.As(err, &addrErr):
		return fmt.Errorf("%w: %v", broker.ErrAddress, err)
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Errorf("%w: %v", broker.ErrConnectionTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", broker.ErrTransport, err)
	}
}

// classifyWriteError maps a socket write failure onto the broker error taxonomy.
func classifyWriteError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", broker.ErrNotConnected, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", broker.ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %v", broker.ErrTransport, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectivityLoss(code int) bool {
	return code == codeConnectivityLost || code == codeFarmDisconnected || code == codeNotConnected
}

func isConnectivityRestored(code int) bool {
	return code == codeConnectivityRestored || code == codeConnectivityRestored2
}
