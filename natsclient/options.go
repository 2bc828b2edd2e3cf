package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/natspad/pkg/retry"
)

// Option is a functional option for configuring the NATSConnector
type Option func(*NATSConnector) error

// WithLogger sets the logger used for connection lifecycle events
func WithLogger(logger *slog.Logger) Option {
	return func(c *NATSConnector) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "natsclient")
		return nil
	}
}

// WithMaxReconnects sets the maximum number of transport reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) Option {
	return func(c *NATSConnector) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between transport reconnection attempts
func WithReconnectWait(d time.Duration) Option {
	return func(c *NATSConnector) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the ping interval for connection health checks
func WithPingInterval(d time.Duration) Option {
	return func(c *NATSConnector) error {
		c.pingInterval = d
		return nil
	}
}

// WithTimeout sets the dial timeout of a single connection attempt
func WithTimeout(d time.Duration) Option {
	return func(c *NATSConnector) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets how long Close waits for a drain (0 closes immediately)
func WithDrainTimeout(d time.Duration) Option {
	return func(c *NATSConnector) error {
		c.drainTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout used for requests without a deadline
func WithRequestTimeout(d time.Duration) Option {
	return func(c *NATSConnector) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", d)
		}
		c.requestTimeout = d
		return nil
	}
}

// WithPendingLimit sets the buffer size of each subscription channel
func WithPendingLimit(n int) Option {
	return func(c *NATSConnector) error {
		if n < 1 {
			return fmt.Errorf("pending limit must be at least 1, got %d", n)
		}
		c.pendingLimit = n
		return nil
	}
}

// WithRetry sets the backoff policy for connection attempts
func WithRetry(cfg retry.Config) Option {
	return func(c *NATSConnector) error {
		c.retry = cfg
		return nil
	}
}

// WithCredentials sets username and password used when the server spec has none
func WithCredentials(username, password string) Option {
	return func(c *NATSConnector) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets a token used when the server spec carries no credentials
func WithToken(token string) Option {
	return func(c *NATSConnector) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS with optional certificate paths
func WithTLS(certFile, keyFile, caFile string) Option {
	return func(c *NATSConnector) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("TLS client certificate requires both cert and key files")
		}
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		c.tlsCAFile = caFile
		c.tlsEnabled = true
		return nil
	}
}

// WithName sets the client name reported to the server
func WithName(name string) Option {
	return func(c *NATSConnector) error {
		if name != "" {
			c.clientName = name
		}
		return nil
	}
}
