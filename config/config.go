package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/pkg/retry"
)

// Config is the complete natspad configuration
type Config struct {
	NATS    NATSConfig    `json:"nats"    yaml:"nats"`
	Session SessionConfig `json:"session" yaml:"session"`
	Output  OutputConfig  `json:"output"  yaml:"output"`
	Log     LogConfig     `json:"log"     yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// NATSConfig defines how connections are opened
type NATSConfig struct {
	Name           string      `json:"name,omitempty"     yaml:"name,omitempty"`
	Username       string      `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string      `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string      `json:"token,omitempty"    yaml:"token,omitempty"`
	TLS            TLSConfig   `json:"tls"                yaml:"tls"`
	ConnectTimeout Duration    `json:"connect_timeout"    yaml:"connect_timeout"`
	DrainTimeout   Duration    `json:"drain_timeout"      yaml:"drain_timeout"`
	MaxReconnects  int         `json:"max_reconnects"     yaml:"max_reconnects"`
	ReconnectWait  Duration    `json:"reconnect_wait"     yaml:"reconnect_wait"`
	ConnectRetry   RetryConfig `json:"connect_retry"      yaml:"connect_retry"`
}

// TLSConfig for secure NATS connections
type TLSConfig struct {
	Enabled  bool   `json:"enabled"             yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"   yaml:"ca_file,omitempty"`
}

// RetryConfig is the backoff applied to connection attempts
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts"  yaml:"max_attempts"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"     yaml:"max_delay"`
}

// Retry converts to the retry package's configuration
func (r RetryConfig) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = r.MaxAttempts
	cfg.InitialDelay = r.InitialDelay.Std()
	cfg.MaxDelay = r.MaxDelay.Std()
	return cfg
}

// SessionConfig defines session behavior
type SessionConfig struct {
	// Server is used by actions and commands that name none.
	Server              string   `json:"server"               yaml:"server"`
	RequestTimeout      Duration `json:"request_timeout"      yaml:"request_timeout"`
	PullBatch           int      `json:"pull_batch"           yaml:"pull_batch"`
	PullTimeout         Duration `json:"pull_timeout"         yaml:"pull_timeout"`
	RecoveryConcurrency int      `json:"recovery_concurrency" yaml:"recovery_concurrency"`
}

// OutputConfig defines where log blocks are written
type OutputConfig struct {
	// AutoReveal shows a channel every time a block is written to it.
	AutoReveal bool `json:"auto_reveal" yaml:"auto_reveal"`
	// Directory receives one file per channel; empty writes to stdout.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	MainLabel string `json:"main_label"          yaml:"main_label"`
}

// LogConfig defines process logging
type LogConfig struct {
	Level  string `json:"level"  yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			Name:           "natspad",
			ConnectTimeout: Duration(5 * time.Second),
			DrainTimeout:   Duration(5 * time.Second),
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			ConnectRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: Duration(100 * time.Millisecond),
				MaxDelay:     Duration(2 * time.Second),
			},
		},
		Session: SessionConfig{
			Server:              "nats://localhost:4222",
			RequestTimeout:      Duration(15 * time.Second),
			PullBatch:           10,
			PullTimeout:         Duration(5 * time.Second),
			RecoveryConcurrency: 8,
		},
		Output: OutputConfig{
			MainLabel: "NATS",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate checks the configuration and normalizes case-insensitive fields
func (c *Config) Validate() error {
	if c.NATS.ConnectTimeout <= 0 {
		return invalid("nats.connect_timeout must be positive")
	}
	if c.NATS.DrainTimeout < 0 {
		return invalid("nats.drain_timeout cannot be negative")
	}
	if c.NATS.ConnectRetry.MaxAttempts < 1 {
		return invalid("nats.connect_retry.max_attempts must be at least 1")
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
	}

	if c.Session.RequestTimeout <= 0 {
		return invalid("session.request_timeout must be positive")
	}
	if c.Session.PullBatch < 1 {
		return invalid("session.pull_batch must be at least 1")
	}
	if c.Session.PullTimeout <= 0 {
		return invalid("session.pull_timeout must be positive")
	}
	if c.Session.RecoveryConcurrency < 1 {
		return invalid("session.recovery_concurrency must be at least 1")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be one of: debug, info, warn, error", c.Log.Level))
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("log.format %q must be one of: text, json", c.Log.Format))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
	}

	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "validate configuration")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	copied := *c
	return &copied
}

// String returns a JSON representation with secrets redacted
func (c *Config) String() string {
	redacted := c.Clone()
	for _, s := range []*string{&redacted.NATS.Password, &redacted.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration time.Duration

// Std returns the standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String formats as a Go duration string
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the duration as a string such as "15s"
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or integer nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(int64(val))
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", val)
	}
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
