package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "natspad"

// Request outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
	OutcomeFailed  = "failed"
)

// Message sources.
const (
	SourceSubscription = "subscription"
	SourceReply        = "reply"
)

// Metrics contains the session metrics
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	SubscriptionsActive prometheus.Gauge
	ReplyHandlersActive prometheus.Gauge
	MessagesReceived    *prometheus.CounterVec
	RepliesSent         prometheus.Counter
	Requests            *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	Publishes           prometheus.Counter
	PulledMessages      prometheus.Counter
	Reconnects          *prometheus.CounterVec
	RecoveryFailures    prometheus.Counter
	Errors              *prometheus.CounterVec
}

// NewMetrics creates unregistered session metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open broker connections",
		}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of registered subscriptions",
		}),
		ReplyHandlersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reply_handlers_active",
			Help:      "Number of registered reply handlers",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages delivered to subscriptions and reply handlers",
		}, []string{"source"}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies published by reply handlers",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent, by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to receiving its response",
			Buckets:   prometheus.DefBuckets,
		}),
		Publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Messages published",
		}),
		PulledMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulled_messages_total",
			Help:      "Messages fetched from JetStream consumers",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Explicit reconnects, by outcome",
		}, []string{"outcome"}),
		RecoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_failures_total",
			Help:      "Subscriptions and reply handlers that failed to restart after a reconnect",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors returned to callers, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsActive,
		m.SubscriptionsActive,
		m.ReplyHandlersActive,
		m.MessagesReceived,
		m.RepliesSent,
		m.Requests,
		m.RequestDuration,
		m.Publishes,
		m.PulledMessages,
		m.Reconnects,
		m.RecoveryFailures,
		m.Errors,
	}
}

// SetConnections sets the open connection count
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(n))
}

// SetSubscriptions sets the registered subscription count
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Set(float64(n))
}

// SetReplyHandlers sets the registered reply handler count
func (m *Metrics) SetReplyHandlers(n int) {
	if m == nil {
		return
	}
	m.ReplyHandlersActive.Set(float64(n))
}

// RecordMessageReceived counts a delivered message
func (m *Metrics) RecordMessageReceived(source string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(source).Inc()
}

// RecordReplySent counts a published reply
func (m *Metrics) RecordReplySent() {
	if m == nil {
		return
	}
	m.RepliesSent.Inc()
}

// RecordRequest counts a request and, on success, observes its duration
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.RequestDuration.Observe(duration.Seconds())
	}
}

// RecordPublish counts a publish
func (m *Metrics) RecordPublish() {
	if m == nil {
		return
	}
	m.Publishes.Inc()
}

// RecordPulled counts fetched JetStream messages
func (m *Metrics) RecordPulled(n int) {
	if m == nil {
		return
	}
	m.PulledMessages.Add(float64(n))
}

// RecordReconnect counts an explicit reconnect
func (m *Metrics) RecordReconnect(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}
	m.Reconnects.WithLabelValues(outcome).Inc()
}

// RecordRecoveryFailures counts keys that failed to restart
func (m *Metrics) RecordRecoveryFailures(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecoveryFailures.Add(float64(n))
}

// RecordError counts an error of the given kind
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}
