package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
	"github.com/c360/natspad/variables"
)

// ReplyOptions configures a reply handler. At least one of Template or
// Payload is required; Template wins when both are set.
type ReplyOptions struct {
	Server  string
	Subject string
	// Template is resolved for every request, with request.subject,
	// request.body, request.reply and request.header.<Name> in scope.
	Template *string
	// Payload is sent verbatim.
	Payload *string
	Headers map[string]string
}

type replyConfig struct {
	template *string
	payload  *string
	headers  map[string]string
}

// ReplyInfo describes one registered reply handler.
type ReplyInfo struct {
	Key      string
	Subject  string
	Server   string
	Template bool
	Healthy  bool
	Err      error
}

// ReplyManager answers requests on a subject, one handler per key.
type ReplyManager struct {
	table    *loopTable
	resolver variables.Resolver
	logger   *slog.Logger
	metrics  *metric.Metrics
	clock    func() time.Time
}

func newReplyManager(conns *ConnectionRegistry, resolver variables.Resolver, logger *slog.Logger, metrics *metric.Metrics, clock func() time.Time) *ReplyManager {
	m := &ReplyManager{
		resolver: resolver,
		logger:   logger.With("component", "replies"),
		metrics:  metrics,
		clock:    clock,
	}
	m.table = newLoopTable("reply", conns, m.logger, m.handle)
	m.table.changed = metrics.SetReplyHandlers
	return m
}

// Start registers a reply handler for key. A running handler for key is
// stopped first.
func (m *ReplyManager) Start(ctx context.Context, opts ReplyOptions, sink logsink.Sink, key string) error {
	if key == "" {
		return errors.Validation("StartReplyHandler", errors.ErrKeyRequired)
	}
	if opts.Template == nil && opts.Payload == nil {
		return errors.Validation("StartReplyHandler", errors.ErrReplyBody)
	}
	if opts.Subject == "" {
		return errors.Subject("StartReplyHandler")
	}
	return m.table.start(ctx, "StartReplyHandler", &loopEntry{
		key:     key,
		subject: opts.Subject,
		server:  opts.Server,
		sink:    sink,
		reply: &replyConfig{
			template: opts.Template,
			payload:  opts.Payload,
			headers:  opts.Headers,
		},
	})
}

// Stop cancels the handler for key; unknown keys are ignored.
func (m *ReplyManager) Stop(key string) {
	m.table.stop(key)
}

// IsActive reports whether key is registered, healthy or not
func (m *ReplyManager) IsActive(key string) bool {
	return m.table.has(key)
}

// List returns the registered reply handlers ordered by key
func (m *ReplyManager) List() []ReplyInfo {
	infos := m.table.list()
	out := make([]ReplyInfo, len(infos))

	m.table.mu.RLock()
	defer m.table.mu.RUnlock()
	for i, in := range infos {
		out[i] = ReplyInfo{Key: in.key, Subject: in.subject, Server: in.server, Healthy: in.healthy, Err: in.lastErr}
		if e := m.table.entries[in.key]; e != nil && e.reply != nil {
			out[i].Template = e.reply.template != nil
		}
	}
	return out
}

func (m *ReplyManager) keysFor(addr string) []string {
	return m.table.keysFor(addr)
}

func (m *ReplyManager) restart(ctx context.Context, key string) (bool, error) {
	return m.table.restart(ctx, "RestartReplyHandler", key)
}

// body computes the response for msg.
func (m *ReplyManager) body(cfg *replyConfig, scope variables.Resolver) string {
	if cfg.template != nil {
		return scope.ResolveText(*cfg.template)
	}
	return *cfg.payload
}

func (m *ReplyManager) handle(e *loopEntry, conn *Connection, msg *nats.Msg) {
	m.metrics.RecordMessageReceived(metric.SourceReply)

	block := logsink.NewBlock(m.clock()).
		Set(logsink.MetaSubject, msg.Subject).
		Set(logsink.MetaConnection, conn.Describe()).
		Add("Request", logsink.FormatBody(msg.Data), natsclient.ReadHeader(msg.Header))

	if msg.Reply == "" {
		m.logger.Warn("Request has no reply subject, skipping", "key", e.key, "subject", msg.Subject)
		block.Add("Skipped", "request has no reply subject", nil)
		logsink.Append(e.sink, block)
		return
	}

	scope := variables.ForRequest(m.resolver, msg)
	body := m.body(e.reply, scope)
	headers := scope.ResolveHeaders(e.reply.headers)

	if err := conn.Conn().Publish(msg.Reply, []byte(body), headers); err != nil {
		m.logger.Error("Failed to send reply", "key", e.key, "subject", msg.Subject, "error", err)
		m.metrics.RecordError(errors.KindConnection.String())
		block.Add("Error", err.Error(), nil)
		logsink.Append(e.sink, block)
		return
	}

	m.metrics.RecordReplySent()
	block.Add("Reply", logsink.FormatBody([]byte(body)), headers)
	logsink.Append(e.sink, block)
}
