// Package natsclient provides the broker transport for natspad: endpoint
// normalization, the connection contracts the session depends on, and a
// nats.go backed Connector.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/pkg/retry"
)

// DefaultRequestTimeout bounds requests whose context carries no deadline.
const DefaultRequestTimeout = 10 * time.Second

// NATSConnector opens nats.go connections.
type NATSConnector struct {
	logger *slog.Logger

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	requestTimeout time.Duration
	pendingLimit   int
	retry          retry.Config

	// Authentication applied when the endpoint carries none
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string
}

// NewConnector creates a connector with optional configuration
func NewConnector(opts ...Option) (*NATSConnector, error) {
	c := &NATSConnector{
		logger:         slog.Default(),
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		pingInterval:   30 * time.Second,
		timeout:        5 * time.Second,
		drainTimeout:   5 * time.Second,
		requestTimeout: DefaultRequestTimeout,
		pendingLimit:   512,
		retry:          retry.DefaultConfig(),
		clientName:     "natspad",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "NATSConnector", "NewConnector", "apply option")
		}
	}

	return c, nil
}

// buildOptions builds nats.go options for one connection
func (c *NATSConnector) buildOptions(ep Endpoint, client *Client) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(client.handleDisconnect),
		nats.ReconnectHandler(client.handleReconnect),
		nats.ClosedHandler(client.handleClosed),
		nats.ErrorHandler(client.handleError),
	}

	switch {
	case ep.Username != "":
		opts = append(opts, nats.UserInfo(ep.Username, ep.Password))
	case ep.Token != "":
		opts = append(opts, nats.Token(ep.Token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	}

	if c.tlsEnabled {
		if c.tlsCertFile != "" && c.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}

	return opts
}

// Connect dials ep, retrying transient failures with backoff.
func (c *NATSConnector) Connect(ctx context.Context, ep Endpoint) (Conn, error) {
	if ep.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrServerRequired, "NATSConnector", "Connect", "check endpoint")
	}

	logger := c.logger.With("server", ep.Address)

	client, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*Client, error) {
		logger.Debug("Connecting to NATS", "url", ep.URL)
		client, err := c.dial(ctx, ep, logger)
		if err != nil {
			logger.Debug("Connection attempt failed", "error", err)
			if stderrors.Is(err, nats.ErrAuthorization) || stderrors.Is(err, nats.ErrAuthExpired) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return client, nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSConnector", "Connect", fmt.Sprintf("connect to %s", ep.Address))
	}

	logger.Info("Connected to NATS", "connection", client.Describe())
	return client, nil
}

// dial performs one connection attempt bounded by ctx.
func (c *NATSConnector) dial(ctx context.Context, ep Endpoint, logger *slog.Logger) (*Client, error) {
	client := &Client{
		endpoint:       ep,
		logger:         logger,
		drainTimeout:   c.drainTimeout,
		requestTimeout: c.requestTimeout,
		pendingLimit:   c.pendingLimit,
		closedCh:       make(chan struct{}),
	}
	client.status.Store(StatusDisconnected)
	opts := c.buildOptions(ep, client)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(ep.URL, opts...)
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		client.conn = res.conn
		client.status.Store(StatusConnected)
		return client, nil
	case <-ctx.Done():
		// The dial goroutine may still succeed; close whatever it produces.
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Client is one nats.go connection exposed through the Conn contract.
type Client struct {
	endpoint Endpoint
	conn     *nats.Conn
	logger   *slog.Logger
	status   atomic.Value // stores ConnectionStatus

	jsOnce sync.Once
	js     jetstream.JetStream
	jsErr  error

	drainTimeout   time.Duration
	requestTimeout time.Duration
	pendingLimit   int

	mu       sync.RWMutex
	onStatus func(ConnectionStatus, error)

	closeOnce  sync.Once
	closedOnce sync.Once
	closedCh   chan struct{}
}

var (
	_ Conn           = (*Client)(nil)
	_ Describer      = (*Client)(nil)
	_ JetStreamer    = (*Client)(nil)
	_ StatusNotifier = (*Client)(nil)
)

// Endpoint returns the endpoint the client is connected to
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// NativeConn returns the underlying nats.go connection
func (c *Client) NativeConn() *nats.Conn {
	return c.conn
}

// Describe returns "[client_id@server_address]" for log output
func (c *Client) Describe() string {
	id, err := c.conn.GetClientID()
	addr := c.conn.ConnectedAddr()
	if addr == "" {
		addr = c.endpoint.Address
	}
	if err != nil {
		return fmt.Sprintf("[%s]", addr)
	}
	return fmt.Sprintf("[%d@%s]", id, addr)
}

// OnStatusChange registers fn to be called when the transport reports a
// connectivity change. Only the last registered function is kept.
func (c *Client) OnStatusChange(fn func(status ConnectionStatus, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Subscribe subscribes to subject and delivers messages on a dedicated channel.
func (c *Client) Subscribe(subject string) (Subscription, error) {
	if !c.conn.IsConnected() {
		return nil, errors.ErrNoConnection
	}

	ch := make(chan *nats.Msg, c.pendingLimit)
	sub, err := c.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}
	return &chanSubscription{sub: sub, ch: ch}, nil
}

// Publish publishes data on subject with optional headers.
func (c *Client) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: BuildHeader(headers)}
	if err := c.conn.PublishMsg(msg); err != nil {
		return errors.Wrap(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Request sends a request and waits for the first response. When ctx has no
// deadline the client's default request timeout applies.
func (c *Client) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: BuildHeader(headers)}
	resp, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		switch {
		case stderrors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: %s", errors.ErrNoResponders, subject)
		case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s", errors.ErrRequestTimeout, subject)
		}
		return nil, errors.Wrap(err, "Client", "Request", fmt.Sprintf("request on %s", subject))
	}
	return resp, nil
}

// JetStream returns a JetStream handle bound to this connection
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.jsOnce.Do(func() {
		c.js, c.jsErr = jetstream.New(c.conn)
	})
	if c.jsErr != nil {
		return nil, errors.WrapTransient(c.jsErr, "Client", "JetStream", "initialize JetStream")
	}
	return c.js, nil
}

// Close drains the connection, bounded by the drain timeout, then closes it.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		if c.conn.IsClosed() {
			return
		}
		if c.drainTimeout > 0 && c.conn.IsConnected() {
			if err := c.conn.Drain(); err != nil {
				closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
			} else {
				select {
				case <-c.closedCh:
				case <-time.After(c.drainTimeout):
					c.logger.Warn("Drain timeout, force closing", "timeout", c.drainTimeout)
				}
			}
		}
		c.conn.Close()
		c.status.Store(StatusDisconnected)
	})
	return closeErr
}

func (c *Client) notify(status ConnectionStatus, err error) {
	c.status.Store(status)

	c.mu.RLock()
	fn := c.onStatus
	c.mu.RUnlock()

	if fn != nil {
		fn(status, err)
	}
}

// Event handlers for the NATS connection
func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.logger.Warn("NATS disconnected", "error", err)
	c.notify(StatusReconnecting, err)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.logger.Info("NATS reconnected")
	c.notify(StatusConnected, nil)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.closedOnce.Do(func() { close(c.closedCh) })
	c.notify(StatusDisconnected, errors.ErrConnectionLost)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

// chanSubscription adapts a nats channel subscription.
type chanSubscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

func (s *chanSubscription) Messages() <-chan *nats.Msg {
	return s.ch
}

func (s *chanSubscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}
