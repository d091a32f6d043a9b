// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tathienbao/ibwatch/internal/broker/ibkr"
	"github.com/tathienbao/ibwatch/internal/broker/paper"
	"github.com/tathienbao/ibwatch/internal/keepalive"
	"github.com/tathienbao/ibwatch/internal/metrics"
	"github.com/tathienbao/ibwatch/internal/persistence"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the full application configuration.
type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// BrokerConfig holds broker settings.
type BrokerConfig struct {
	Type                string `yaml:"type"`    // ibkr, paper
	Preset              string `yaml:"preset"`  // tws_paper, tws_live, gateway_paper, gateway_live
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ClientID            int    `yaml:"client_id"`
	ConnectTimeoutSec   int    `yaml:"connect_timeout_sec"`
	HandshakeTimeoutSec int    `yaml:"handshake_timeout_sec"`
	RateLimitPerSecond  int    `yaml:"rate_limit_per_second"`

	Paper PaperConfig `yaml:"paper"`
}

// PaperConfig tunes the simulated broker used when type is paper.
type PaperConfig struct {
	ReplyDelayMs   int `yaml:"reply_delay_ms"`
	ClockOffsetSec int `yaml:"clock_offset_sec"`
}

// HeartbeatConfig holds prober and monitor settings.
type HeartbeatConfig struct {
	IntervalSec      int `yaml:"interval_sec"`
	TimeoutMs        int `yaml:"timeout_ms"`
	MaxAttempts      int `yaml:"max_attempts"`
	ReconnectPauseMs int `yaml:"reconnect_pause_ms"`
	MaxReconnects    int `yaml:"max_reconnects"`
}

// ReconnectConfig holds supervisor settings.
type ReconnectConfig struct {
	MaxRetries            *int `yaml:"max_retries"` // nil means the default; 0 disables retries
	BaseDelaySec          int  `yaml:"base_delay_sec"`
	EscalatedDelaySec     int  `yaml:"escalated_delay_sec"`
	EscalationThreshold   int  `yaml:"escalation_threshold"`
	CampaignBackoffSec    int  `yaml:"campaign_backoff_sec"`
	MaxCampaignBackoffSec int  `yaml:"max_campaign_backoff_sec"`
}

// PersistenceConfig holds journal settings.
type PersistenceConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Type     string         `yaml:"type"` // sqlite | postgres
	Path     string         `yaml:"path"` // for sqlite
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type           string `yaml:"type"` // telegram | console
	BotToken       string `yaml:"bot_token"`
	ChatID         string `yaml:"chat_id"`
	MinIntervalSec int    `yaml:"min_interval_sec"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// Validate fills defaults and validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Broker
	if c.Broker.Type == "" {
		c.Broker.Type = "ibkr"
	}
	if c.Broker.Type != "ibkr" && c.Broker.Type != "paper" {
		errs = append(errs, "broker.type must be 'ibkr' or 'paper'")
	}
	if _, ok := brokerPresets[c.Broker.Preset]; !ok {
		errs = append(errs, fmt.Sprintf("broker.preset '%s' is not supported", c.Broker.Preset))
	}
	if c.Broker.Port < 0 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 0 and 65535")
	}
	if c.Broker.ClientID < 0 {
		errs = append(errs, "broker.client_id must not be negative")
	}
	if c.Broker.Paper.ReplyDelayMs < 0 {
		errs = append(errs, "broker.paper.reply_delay_ms must not be negative")
	}
	if c.Broker.RateLimitPerSecond > 50 {
		errs = append(errs, "broker.rate_limit_per_second must not exceed 50")
	}

	// Heartbeat
	if c.Heartbeat.IntervalSec <= 0 {
		c.Heartbeat.IntervalSec = 30
	}
	if c.Heartbeat.TimeoutMs <= 0 {
		c.Heartbeat.TimeoutMs = 1000
	}
	if c.Heartbeat.MaxAttempts <= 0 {
		c.Heartbeat.MaxAttempts = 10
	}
	if c.Heartbeat.ReconnectPauseMs <= 0 {
		c.Heartbeat.ReconnectPauseMs = 100
	}
	if c.Heartbeat.MaxReconnects <= 0 {
		c.Heartbeat.MaxReconnects = 5
	}

	// Reconnect
	if c.Reconnect.MaxRetries == nil {
		retries := 100
		c.Reconnect.MaxRetries = &retries
	}
	if *c.Reconnect.MaxRetries < 0 {
		errs = append(errs, "reconnect.max_retries must not be negative")
	}
	if c.Reconnect.BaseDelaySec <= 0 {
		c.Reconnect.BaseDelaySec = 10
	}
	if c.Reconnect.EscalatedDelaySec <= 0 {
		c.Reconnect.EscalatedDelaySec = 60
	}
	if c.Reconnect.EscalationThreshold <= 0 {
		c.Reconnect.EscalationThreshold = 50
	}
	if c.Reconnect.EscalatedDelaySec < c.Reconnect.BaseDelaySec {
		errs = append(errs, "reconnect.escalated_delay_sec must be >= base_delay_sec")
	}
	if c.Reconnect.CampaignBackoffSec <= 0 {
		c.Reconnect.CampaignBackoffSec = 60
	}
	if c.Reconnect.MaxCampaignBackoffSec <= 0 {
		c.Reconnect.MaxCampaignBackoffSec = 900
	}

	// Persistence
	if c.Persistence.Enabled {
		if c.Persistence.Type != persistence.DriverSQLite && c.Persistence.Type != persistence.DriverPostgres {
			errs = append(errs, "persistence.type must be 'sqlite' or 'postgres'")
		}
		if c.Persistence.Type == persistence.DriverSQLite && c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
		if c.Persistence.Type == persistence.DriverPostgres {
			if c.Persistence.Postgres.Host == "" || c.Persistence.Postgres.Name == "" {
				errs = append(errs, "persistence.postgres.host and name are required for postgres")
			}
			if c.Persistence.Postgres.Port == 0 {
				c.Persistence.Postgres.Port = 5432
			}
		}
	}

	// Alerting
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unsupported type '%s'", i, ch.Type))
			}
		}
	}

	// Metrics
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, "logging.format must be 'json' or 'text'")
	}

	// Shutdown
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 10
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

var brokerPresets = map[string]func() ibkr.Config{
	"":              ibkr.DefaultConfig,
	"tws_paper":     ibkr.DefaultConfig,
	"tws_live":      ibkr.LiveConfig,
	"gateway_paper": func() ibkr.Config { return ibkr.GatewayConfig(true) },
	"gateway_live":  func() ibkr.Config { return ibkr.GatewayConfig(false) },
}

// ToIBKRConfig converts to ibkr.Config, starting from the preset and applying overrides.
func (c *Config) ToIBKRConfig() ibkr.Config {
	preset, ok := brokerPresets[c.Broker.Preset]
	if !ok {
		preset = ibkr.DefaultConfig
	}
	cfg := preset()

	if c.Broker.Host != "" {
		cfg.Host = c.Broker.Host
	}
	if c.Broker.Port != 0 {
		cfg.Port = c.Broker.Port
	}
	if c.Broker.ClientID != 0 {
		cfg.ClientID = c.Broker.ClientID
	}
	if c.Broker.ConnectTimeoutSec > 0 {
		cfg.ConnectTimeout = time.Duration(c.Broker.ConnectTimeoutSec) * time.Second
	}
	if c.Broker.HandshakeTimeoutSec > 0 {
		cfg.HandshakeTimeout = time.Duration(c.Broker.HandshakeTimeoutSec) * time.Second
	}
	if c.Broker.RateLimitPerSecond > 0 {
		cfg.MaxRequestsPerSecond = c.Broker.RateLimitPerSecond
	}
	return cfg
}

// ToPaperConfig converts to paper.Config. Unset values keep the simulator defaults.
func (c *Config) ToPaperConfig() paper.Config {
	cfg := paper.DefaultConfig()
	if c.Broker.Paper.ReplyDelayMs > 0 {
		cfg.ReplyDelay = time.Duration(c.Broker.Paper.ReplyDelayMs) * time.Millisecond
	}
	cfg.ClockOffset = time.Duration(c.Broker.Paper.ClockOffsetSec) * time.Second
	return cfg
}

// ToProbeConfig converts to keepalive.ProbeConfig.
func (c *Config) ToProbeConfig() keepalive.ProbeConfig {
	return keepalive.ProbeConfig{
		Timeout:        time.Duration(c.Heartbeat.TimeoutMs) * time.Millisecond,
		MaxAttempts:    c.Heartbeat.MaxAttempts,
		ReconnectPause: time.Duration(c.Heartbeat.ReconnectPauseMs) * time.Millisecond,
		MaxReconnects:  c.Heartbeat.MaxReconnects,
	}
}

// ToSupervisorConfig converts to keepalive.SupervisorConfig.
func (c *Config) ToSupervisorConfig() keepalive.SupervisorConfig {
	return keepalive.SupervisorConfig{
		MaxRetries:          *c.Reconnect.MaxRetries,
		BaseDelay:           time.Duration(c.Reconnect.BaseDelaySec) * time.Second,
		EscalatedDelay:      time.Duration(c.Reconnect.EscalatedDelaySec) * time.Second,
		EscalationThreshold: c.Reconnect.EscalationThreshold,
	}
}

// ToMonitorConfig converts to keepalive.MonitorConfig.
func (c *Config) ToMonitorConfig() keepalive.MonitorConfig {
	return keepalive.MonitorConfig{
		Interval:           time.Duration(c.Heartbeat.IntervalSec) * time.Second,
		CampaignBackoff:    time.Duration(c.Reconnect.CampaignBackoffSec) * time.Second,
		MaxCampaignBackoff: time.Duration(c.Reconnect.MaxCampaignBackoffSec) * time.Second,
	}
}

// ToPersistenceConfig converts to persistence.Config.
func (c *Config) ToPersistenceConfig() persistence.Config {
	if !c.Persistence.Enabled {
		return persistence.Config{Driver: persistence.DriverNone}
	}
	pg := c.Persistence.Postgres
	return persistence.Config{
		Driver: c.Persistence.Type,
		Path:   c.Persistence.Path,
		Postgres: persistence.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Name:     pg.Name,
			SSLMode:  pg.SSLMode,
			MinConns: pg.MinConns,
			MaxConns: pg.MaxConns,
		},
	}
}

// ToMetricsConfig converts to metrics.ServerConfig.
func (c *Config) ToMetricsConfig() metrics.ServerConfig {
	return metrics.ServerConfig{
		Port:        c.Metrics.Port,
		MetricsPath: c.Metrics.Path,
		HealthPath:  "/health",
	}
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level '%s' is not supported", s)
	}
	return level, nil
}
