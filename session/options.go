package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/variables"
)

// Defaults applied when no option overrides them.
const (
	DefaultRequestTimeout      = 15 * time.Second
	DefaultPullBatch           = 10
	DefaultPullTimeout         = 5 * time.Second
	DefaultRecoveryConcurrency = 8
)

// Option is a functional option for configuring a Session
type Option func(*Session) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics records session activity; nil disables metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) error {
		s.metrics = m
		return nil
	}
}

// WithResolver sets the variable resolver applied to servers, subjects,
// payloads, headers and reply templates
func WithResolver(r variables.Resolver) Option {
	return func(s *Session) error {
		if r == nil {
			return fmt.Errorf("resolver cannot be nil")
		}
		s.resolver = r
		return nil
	}
}

// WithRequestTimeout sets the timeout of requests that specify none
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", d)
		}
		s.requestTimeout = d
		return nil
	}
}

// WithClock sets the time source used for block timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Session) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.clock = now
		return nil
	}
}

// WithPullDefaults sets the batch size and wait used by pulls that specify none
func WithPullDefaults(batch int, wait time.Duration) Option {
	return func(s *Session) error {
		if batch < 1 {
			return fmt.Errorf("pull batch must be at least 1, got %d", batch)
		}
		if wait <= 0 {
			return fmt.Errorf("pull timeout must be positive, got %v", wait)
		}
		s.pullBatch = batch
		s.pullTimeout = wait
		return nil
	}
}

// WithRecoveryConcurrency bounds how many keys are restarted in parallel
// after a reconnect
func WithRecoveryConcurrency(n int) Option {
	return func(s *Session) error {
		if n < 1 {
			return fmt.Errorf("recovery concurrency must be at least 1, got %d", n)
		}
		s.recoveryConcurrency = n
		return nil
	}
}

// WithStopHook registers fn to run whenever a subscription or reply handler
// key is stopped, including by Reset. Callers use it to release the key's sink.
func WithStopHook(fn func(key string)) Option {
	return func(s *Session) error {
		s.onStop = fn
		return nil
	}
}
