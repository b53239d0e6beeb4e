package bote

import (
	"time"
)

// Default configuration values.
const (
	// DefaultDataDir is the default data directory.
	DefaultDataDir = "pboted"

	// DefaultPOP3Addr is the default POP3 listen address.
	DefaultPOP3Addr = "127.0.0.1:110"

	// DefaultCheckInterval is how often the worker reconciles running
	// tasks against the identity set.
	DefaultCheckInterval = 60 * time.Second

	// DefaultSendInterval is how often the outbox is scanned.
	DefaultSendInterval = 5 * time.Minute

	// DefaultDeliveryInterval is how often sent mail is checked for
	// delivery confirmation.
	DefaultDeliveryInterval = 5 * time.Minute

	// DefaultFetchTimeout bounds one DHT retrieval batch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultHashcash is the proof-of-work token attached to store
	// requests. Peers currently accept a fixed token.
	DefaultHashcash = "1:20:1303030600:admin@example.com::McMybZIhxKXu57jd:FOvXX"
)

// Config holds the node configuration. All fields have defaults that
// can be overridden by flags.
type Config struct {
	// DataDir is the root of the mailbox and cache directories.
	DataDir string

	// POP3Addr is the TCP address the POP3 server listens on, empty to
	// disable the server.
	POP3Addr string

	// POP3User and POP3Pass are the credentials every POP3 session must
	// present.
	POP3User string
	POP3Pass string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Intervals holds the worker timer settings.
	Intervals IntervalConfig
}

// IntervalConfig holds the worker timer settings.
type IntervalConfig struct {
	// Check is the task reconcile period.
	Check time.Duration

	// Send is the outbox scan period.
	Send time.Duration

	// Delivery is the delivery confirmation period.
	Delivery time.Duration

	// FetchTimeout bounds a single DHT batch.
	FetchTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir,
		POP3Addr: DefaultPOP3Addr,
		POP3User: "pboted",
		POP3Pass: "pboted",
		LogLevel: "info",
		Intervals: IntervalConfig{
			Check:        DefaultCheckInterval,
			Send:         DefaultSendInterval,
			Delivery:     DefaultDeliveryInterval,
			FetchTimeout: DefaultFetchTimeout,
		},
	}
}

// Validate checks the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &ConfigError{Field: "DataDir", Message: "cannot be empty"}
	}
	if c.POP3Addr != "" && c.POP3User == "" {
		return &ConfigError{Field: "POP3User", Message: "cannot be empty when POP3 is enabled"}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "LogLevel", Message: "must be debug, info, warn or error"}
	}
	if c.Intervals.Check <= 0 {
		return &ConfigError{Field: "Intervals.Check", Message: "must be positive"}
	}
	if c.Intervals.Send <= 0 {
		return &ConfigError{Field: "Intervals.Send", Message: "must be positive"}
	}
	if c.Intervals.Delivery <= 0 {
		return &ConfigError{Field: "Intervals.Delivery", Message: "must be positive"}
	}
	if c.Intervals.FetchTimeout <= 0 {
		return &ConfigError{Field: "Intervals.FetchTimeout", Message: "must be positive"}
	}
	return nil
}

// WithDataDir returns a copy of the config with the data directory set.
func (c *Config) WithDataDir(dir string) *Config {
	newCfg := *c
	newCfg.DataDir = dir
	return &newCfg
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
