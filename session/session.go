package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
	"github.com/c360/natspad/variables"
)

// Session is the single entry point of the core. It owns the connection
// registry, both loop managers and the recovery coordinator. Construct one
// with New and tear it down with Close.
type Session struct {
	id string

	logger              *slog.Logger
	metrics             *metric.Metrics
	resolver            variables.Resolver
	requestTimeout      time.Duration
	clock               func() time.Time
	pullBatch           int
	pullTimeout         time.Duration
	recoveryConcurrency int
	onStop              func(key string)

	conns    *ConnectionRegistry
	subs     *SubscriptionManager
	replies  *ReplyManager
	exec     *executor
	recovery *recoveryCoordinator
}

// New creates a session that opens connections through connector.
func New(connector natsclient.Connector, opts ...Option) (*Session, error) {
	if connector == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Session", "New", "check connector")
	}

	s := &Session{
		id:                  uuid.NewString(),
		logger:              slog.Default(),
		resolver:            variables.Passthrough{},
		requestTimeout:      DefaultRequestTimeout,
		clock:               time.Now,
		pullBatch:           DefaultPullBatch,
		pullTimeout:         DefaultPullTimeout,
		recoveryConcurrency: DefaultRecoveryConcurrency,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.WrapInvalid(err, "Session", "New", "apply option")
		}
	}
	s.logger = s.logger.With("session", s.id)

	s.conns = newConnectionRegistry(connector, s.logger, s.metrics, s.clock)
	s.subs = newSubscriptionManager(s.conns, s.logger, s.metrics, s.clock)
	s.replies = newReplyManager(s.conns, s.resolver, s.logger, s.metrics, s.clock)
	if s.onStop != nil {
		s.subs.table.stopped = s.onStop
		s.replies.table.stopped = s.onStop
	}
	s.exec = &executor{
		conns:          s.conns,
		logger:         s.logger.With("component", "executor"),
		metrics:        s.metrics,
		clock:          s.clock,
		requestTimeout: s.requestTimeout,
		pullBatch:      s.pullBatch,
		pullTimeout:    s.pullTimeout,
	}
	s.recovery = &recoveryCoordinator{
		managers:    []restarter{s.subs, s.replies},
		logger:      s.logger.With("component", "recovery"),
		metrics:     s.metrics,
		concurrency: s.recoveryConcurrency,
	}
	s.conns.onReconnected = s.recovery.recover

	return s, nil
}

// ID returns the session identifier attached to every log record
func (s *Session) ID() string {
	return s.id
}

// StartSubscription subscribes key to subject on server and writes every
// message to sink. A subscription already running for key is replaced.
func (s *Session) StartSubscription(ctx context.Context, server, subject string, sink logsink.Sink, key string) error {
	server = s.resolver.ResolveText(server)
	subject = s.resolver.ResolveText(subject)
	return s.record(s.subs.Start(ctx, server, subject, sink, key))
}

// StopSubscription stops the subscription for key; unknown keys are ignored.
func (s *Session) StopSubscription(key string) {
	s.subs.Stop(key)
}

// StartReplyHandler answers requests on opts.Subject for key. A handler
// already running for key is replaced.
func (s *Session) StartReplyHandler(ctx context.Context, opts ReplyOptions, sink logsink.Sink, key string) error {
	opts.Server = s.resolver.ResolveText(opts.Server)
	opts.Subject = s.resolver.ResolveText(opts.Subject)
	if opts.Payload != nil {
		payload := s.resolver.ResolveText(*opts.Payload)
		opts.Payload = &payload
	}
	opts.Headers = s.resolver.ResolveHeaders(opts.Headers)
	return s.record(s.replies.Start(ctx, opts, sink, key))
}

// StopReplyHandler stops the handler for key; unknown keys are ignored.
func (s *Session) StopReplyHandler(key string) {
	s.replies.Stop(key)
}

// SendRequest sends payload to subject and returns the exchange. A missing
// responder or an expired timeout yields a timeout error.
func (s *Session) SendRequest(ctx context.Context, server, subject, payload string, opts RequestOptions, headers map[string]string) (*logsink.Block, error) {
	block, err := s.exec.request(ctx,
		s.resolver.ResolveText(server),
		s.resolver.ResolveText(subject),
		s.resolver.ResolveText(payload),
		opts,
		s.resolver.ResolveHeaders(headers))
	return block, s.record(err)
}

// Publish sends payload to subject without waiting for receivers.
func (s *Session) Publish(ctx context.Context, server, subject, payload string, headers map[string]string) (*logsink.Block, error) {
	block, err := s.exec.publish(ctx,
		s.resolver.ResolveText(server),
		s.resolver.ResolveText(subject),
		s.resolver.ResolveText(payload),
		s.resolver.ResolveHeaders(headers))
	return block, s.record(err)
}

// Pull fetches a batch from a JetStream consumer on server.
func (s *Session) Pull(ctx context.Context, server string, opts PullOptions) (*logsink.Block, error) {
	opts.Subject = s.resolver.ResolveText(opts.Subject)
	opts.Stream = s.resolver.ResolveText(opts.Stream)
	opts.Consumer = s.resolver.ResolveText(opts.Consumer)
	block, err := s.exec.pull(ctx, s.resolver.ResolveText(server), opts)
	return block, s.record(err)
}

// ReconnectConnection recreates the connection for server and restarts every
// subscription and reply handler bound to it. It returns how many were
// restored; keys that failed are reported as joined recovery errors.
func (s *Session) ReconnectConnection(ctx context.Context, server string) (int, error) {
	n, err := s.conns.Reconnect(ctx, s.resolver.ResolveText(server))
	return n, s.record(err)
}

// Reset stops every loop, closes every connection and clears all registries.
// The session stays usable afterwards.
func (s *Session) Reset() {
	s.subs.table.stopAll()
	s.replies.table.stopAll()
	s.conns.Reset()
	s.logger.Info("Session reset")
}

// Close tears the session down
func (s *Session) Close() error {
	s.Reset()
	return nil
}

// ListConnections returns a snapshot of the connection registry
func (s *Session) ListConnections() []ConnectionInfo {
	return s.conns.List()
}

// ListSubscriptions returns the registered subscriptions
func (s *Session) ListSubscriptions() []SubscriptionInfo {
	return s.subs.List()
}

// ListReplyHandlers returns the registered reply handlers
func (s *Session) ListReplyHandlers() []ReplyInfo {
	return s.replies.List()
}

// IsSubscribed reports whether key has a registered subscription
func (s *Session) IsSubscribed(key string) bool {
	return s.subs.IsActive(key)
}

// IsReplyHandlerActive reports whether key has a registered reply handler
func (s *Session) IsReplyHandlerActive(key string) bool {
	return s.replies.IsActive(key)
}

// ConnectionCount returns the number of live connections
func (s *Session) ConnectionCount() int {
	return s.conns.Count()
}

// record counts err by kind and passes it through.
func (s *Session) record(err error) error {
	if err != nil {
		s.metrics.RecordError(errors.KindOf(err).String())
	}
	return err
}
