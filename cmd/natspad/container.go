package main

import (
	"fmt"
	"log/slog"

	"go.uber.org/dig"

	"github.com/c360/natspad/config"
	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
	"github.com/c360/natspad/session"
	"github.com/c360/natspad/variables"
)

// app holds the resolved singletons a command works with.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	vars     *variables.Store
	channels *logsink.ChannelRegistry
	session  *session.Session
}

// buildApp wires the application from the CLI flags.
func (c *cli) buildApp() (*app, error) {
	d := dig.New()

	providers := []any{
		c.loadConfig,
		c.newLogger,
		metric.NewMetricsRegistry,
		c.newConnector,
		c.newVariables,
		c.newChannels,
		newSession,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, fmt.Errorf("provide: %w", err)
		}
	}

	var a *app
	err := d.Invoke(func(
		cfg *config.Config,
		logger *slog.Logger,
		metrics *metric.MetricsRegistry,
		vars *variables.Store,
		channels *logsink.ChannelRegistry,
		s *session.Session,
	) {
		a = &app{
			cfg:      cfg,
			logger:   logger,
			metrics:  metrics,
			vars:     vars,
			channels: channels,
			session:  s,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return a, nil
}

// close resets the session and disposes every channel
func (a *app) close() {
	if err := a.session.Close(); err != nil {
		a.logger.Warn("Session close failed", "error", err)
	}
	a.channels.DisposeAll()
}

// loadConfig layers the config file, environment and flags over the defaults.
func (c *cli) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if c.configPath != "" {
		loader.AddLayer(c.configPath)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	if c.server != "" {
		cfg.Session.Server = c.server
	}
	if c.outDir != "" {
		cfg.Output.Directory = c.outDir
	}
	if c.metricsPort > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = c.metricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *cli) newLogger(cfg *config.Config) *slog.Logger {
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format, c.stderr)
	slog.SetDefault(logger)
	return logger
}

// newConnector returns the injected connector or a nats.go connector built
// from the nats section.
func (c *cli) newConnector(cfg *config.Config, logger *slog.Logger) (natsclient.Connector, error) {
	if c.connector != nil {
		return c.connector, nil
	}

	n := cfg.NATS
	opts := []natsclient.Option{
		natsclient.WithLogger(logger),
		natsclient.WithName(n.Name),
		natsclient.WithTimeout(n.ConnectTimeout.Std()),
		natsclient.WithDrainTimeout(n.DrainTimeout.Std()),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Std()),
		natsclient.WithRequestTimeout(cfg.Session.RequestTimeout.Std()),
		natsclient.WithRetry(n.ConnectRetry.Retry()),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}

	return natsclient.NewConnector(opts...)
}

func (c *cli) newVariables() (*variables.Store, error) {
	store := variables.NewStore(nil)
	if c.varsFile != "" {
		if err := store.LoadFile(c.varsFile); err != nil {
			return nil, err
		}
	}
	sets, err := parseAssignments("set", c.sets)
	if err != nil {
		return nil, err
	}
	for name, value := range sets {
		if err := store.Set(name, value); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (c *cli) newChannels(cfg *config.Config, logger *slog.Logger) *logsink.ChannelRegistry {
	factory := logsink.WriterFactory(c.stdout)
	if cfg.Output.Directory != "" {
		factory = logsink.FileFactory(cfg.Output.Directory)
	}
	return logsink.NewChannelRegistry(factory, cfg.Output.MainLabel, logger)
}

func newSession(
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.MetricsRegistry,
	connector natsclient.Connector,
	vars *variables.Store,
	channels *logsink.ChannelRegistry,
) (*session.Session, error) {
	return session.New(connector,
		session.WithLogger(logger),
		session.WithMetrics(metrics.Session()),
		session.WithResolver(vars),
		session.WithRequestTimeout(cfg.Session.RequestTimeout.Std()),
		session.WithPullDefaults(cfg.Session.PullBatch, cfg.Session.PullTimeout.Std()),
		session.WithRecoveryConcurrency(cfg.Session.RecoveryConcurrency),
		session.WithStopHook(channels.Release),
	)
}
