// Package ibkr provides Interactive Brokers TWS/Gateway connectivity.
package ibkr

import (
	"net"
	"strconv"
	"time"
)

// Config holds IBKR connection configuration.
type Config struct {
	// Connection settings
	Host     string
	Port     int
	ClientID int

	// Timeouts
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration

	// Rate limiting
	MaxRequestsPerSecond int

	// API version range offered during the handshake
	MinVersion int
	MaxVersion int

	// Paper trading
	PaperTrading bool
}

// DefaultConfig returns default IBKR configuration.
func DefaultConfig() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 7497, // Paper trading port
		ClientID:             1,
		ConnectTimeout:       10 * time.Second,
		HandshakeTimeout:     5 * time.Second,
		MaxRequestsPerSecond: 45, // IB limit is 50/sec
		MinVersion:           100,
		MaxVersion:           176,
		PaperTrading:         true,
	}
}

// LiveConfig returns configuration for live trading.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 7496 // Live trading port
	cfg.PaperTrading = false
	return cfg
}

// GatewayConfig returns configuration for IB Gateway.
func GatewayConfig(paper bool) Config {
	cfg := DefaultConfig()
	if paper {
		cfg.Port = 4002 // Gateway paper port
	} else {
		cfg.Port = 4001 // Gateway live port
	}
	cfg.PaperTrading = paper
	return cfg
}

// Address returns host:port for dialing.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
