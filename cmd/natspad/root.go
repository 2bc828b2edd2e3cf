package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
)

// cli holds the persistent flags and the I/O every command shares.
type cli struct {
	configPath  string
	logLevel    string
	logFormat   string
	server      string
	outDir      string
	varsFile    string
	sets        []string
	metricsPort int

	stdout io.Writer
	stderr io.Writer

	// connector replaces the nats.go connector when set
	connector natsclient.Connector
}

func newRootCmd(stdout, stderr io.Writer, connector natsclient.Connector) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr, connector: connector}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Scratchpad for NATS request, publish, subscribe and reply",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", getEnv("NATSPAD_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: NATSPAD_CONFIG)")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&c.logFormat, "log-format", "", "Log format: json, text")
	pf.StringVarP(&c.server, "server", "s", "", "Server used when an action names none")
	pf.StringVar(&c.outDir, "out-dir", "", "Write each channel to its own file in this directory")
	pf.StringVar(&c.varsFile, "vars", "", "YAML file of variables for {{name}} placeholders")
	pf.StringArrayVar(&c.sets, "set", nil, "Set a variable, name=value (repeatable)")
	pf.IntVar(&c.metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port while holding")

	root.AddCommand(
		c.pubCmd(),
		c.reqCmd(),
		c.subCmd(),
		c.replyCmd(),
		c.pullCmd(),
		c.runCmd(),
		c.versionCmd(),
	)
	return root
}

// withApp builds the application, runs fn and tears everything down.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := c.buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Debug("Session ready", "session", a.session.ID(), "server", a.cfg.Session.Server)
	return fn(cmd.Context(), a)
}

// serverFor picks the action's server, falling back to the configured one.
func (a *app) serverFor(server string) string {
	if server != "" {
		return server
	}
	return a.cfg.Session.Server
}

// emit writes block to the main channel.
func (a *app) emit(block *logsink.Block) error {
	ch, err := a.channels.Main()
	if err != nil {
		return err
	}
	logsink.Append(ch, block)
	if a.cfg.Output.AutoReveal {
		ch.Show()
	}
	return nil
}

// oneShot writes the block of a completed request, publish or pull.
func (a *app) oneShot(block *logsink.Block, err error) error {
	if err != nil {
		return err
	}
	return a.emit(block)
}

// emitError records a failed operation on the main channel.
func (a *app) emitError(op string, err error) {
	block := logsink.NewBlock(time.Now()).Add(op+" failed", err.Error(), nil)
	if emitErr := a.emit(block); emitErr != nil {
		a.logger.Error("Failed to write output", "error", emitErr)
	}
}

// hold keeps running loops alive until a signal arrives or d elapses.
// While holding, metrics are served when enabled.
func (a *app) hold(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		srv := metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics)
		srv.SetHealth(a.session.Health)
		a.logger.Info("Serving metrics", "address", srv.Address(), "path", a.cfg.Metrics.Path)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	a.logger.Info("Holding subscriptions, press Ctrl+C to stop",
		"subscriptions", len(a.session.ListSubscriptions()),
		"reply_handlers", len(a.session.ListReplyHandlers()))
	return g.Wait()
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		},
	}
}
