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
)

// SubscriptionInfo describes one registered subscription.
type SubscriptionInfo struct {
	Key     string
	Subject string
	Server  string
	// Healthy is false after a failed restart or once the bound connection
	// was lost, until the next successful start or reconnect.
	Healthy bool
	Err     error
}

// SubscriptionManager runs one receive loop per key and writes every inbound
// message to the key's sink.
type SubscriptionManager struct {
	table   *loopTable
	metrics *metric.Metrics
	clock   func() time.Time
}

func newSubscriptionManager(conns *ConnectionRegistry, logger *slog.Logger, metrics *metric.Metrics, clock func() time.Time) *SubscriptionManager {
	m := &SubscriptionManager{metrics: metrics, clock: clock}
	m.table = newLoopTable("subscription", conns, logger.With("component", "subscriptions"), m.handle)
	m.table.changed = metrics.SetSubscriptions
	return m
}

// Start subscribes key to subject on serverSpec. A running subscription for
// key is stopped first.
func (m *SubscriptionManager) Start(ctx context.Context, serverSpec, subject string, sink logsink.Sink, key string) error {
	if key == "" {
		return errors.Validation("StartSubscription", errors.ErrKeyRequired)
	}
	if subject == "" {
		return errors.Subject("StartSubscription")
	}
	return m.table.start(ctx, "StartSubscription", &loopEntry{
		key:     key,
		subject: subject,
		server:  serverSpec,
		sink:    sink,
	})
}

// Stop cancels the subscription for key; unknown keys are ignored.
func (m *SubscriptionManager) Stop(key string) {
	m.table.stop(key)
}

// IsActive reports whether key is registered, healthy or not
func (m *SubscriptionManager) IsActive(key string) bool {
	return m.table.has(key)
}

// List returns the registered subscriptions ordered by key
func (m *SubscriptionManager) List() []SubscriptionInfo {
	infos := m.table.list()
	out := make([]SubscriptionInfo, len(infos))
	for i, in := range infos {
		out[i] = SubscriptionInfo{Key: in.key, Subject: in.subject, Server: in.server, Healthy: in.healthy, Err: in.lastErr}
	}
	return out
}

func (m *SubscriptionManager) keysFor(addr string) []string {
	return m.table.keysFor(addr)
}

func (m *SubscriptionManager) restart(ctx context.Context, key string) (bool, error) {
	return m.table.restart(ctx, "RestartSubscription", key)
}

func (m *SubscriptionManager) handle(e *loopEntry, conn *Connection, msg *nats.Msg) {
	m.metrics.RecordMessageReceived(metric.SourceSubscription)

	block := logsink.NewBlock(m.clock()).
		Set(logsink.MetaSubject, msg.Subject).
		Set(logsink.MetaConnection, conn.Describe()).
		Add("Message", logsink.FormatBody(msg.Data), natsclient.ReadHeader(msg.Header))
	logsink.Append(e.sink, block)
}
