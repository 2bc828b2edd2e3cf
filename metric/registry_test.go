package metric

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natspad/health"
)

func gathered(t *testing.T, r *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.Session())

	registry.Session().SetConnections(2)
	mf := gathered(t, registry, "natspad_connections_active")
	require.NotNil(t, mf)
	assert.Equal(t, 2.0, mf.GetMetric()[0].GetGauge().GetValue())

	assert.NotNil(t, gathered(t, registry, "go_goroutines"))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.SetSubscriptions(3)
	m.SetReplyHandlers(1)
	m.RecordMessageReceived(SourceSubscription)
	m.RecordMessageReceived(SourceSubscription)
	m.RecordMessageReceived(SourceReply)
	m.RecordReplySent()
	m.RecordRequest(OutcomeOK, 20*time.Millisecond)
	m.RecordRequest(OutcomeTimeout, time.Second)
	m.RecordPublish()
	m.RecordPulled(4)
	m.RecordReconnect(true)
	m.RecordReconnect(false)
	m.RecordRecoveryFailures(2)
	m.RecordRecoveryFailures(0)
	m.RecordError("validation")

	assert.Equal(t, 3.0, counterValue(t, m.SubscriptionsActive))
	assert.Equal(t, 1.0, counterValue(t, m.ReplyHandlersActive))
	assert.Equal(t, 2.0, counterValue(t, m.MessagesReceived.WithLabelValues(SourceSubscription)))
	assert.Equal(t, 1.0, counterValue(t, m.MessagesReceived.WithLabelValues(SourceReply)))
	assert.Equal(t, 1.0, counterValue(t, m.RepliesSent))
	assert.Equal(t, 1.0, counterValue(t, m.Requests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, counterValue(t, m.Requests.WithLabelValues(OutcomeTimeout)))
	assert.Equal(t, 1.0, counterValue(t, m.Publishes))
	assert.Equal(t, 4.0, counterValue(t, m.PulledMessages))
	assert.Equal(t, 1.0, counterValue(t, m.Reconnects.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, counterValue(t, m.Reconnects.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 2.0, counterValue(t, m.RecoveryFailures))
	assert.Equal(t, 1.0, counterValue(t, m.Errors.WithLabelValues("validation")))

	ch := make(chan prometheus.Metric, 1)
	m.RequestDuration.Collect(ch)
	var h dto.Metric
	require.NoError(t, (<-ch).Write(&h))
	assert.Equal(t, uint64(1), h.GetHistogram().GetSampleCount())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnections(1)
		m.SetSubscriptions(1)
		m.SetReplyHandlers(1)
		m.RecordMessageReceived(SourceReply)
		m.RecordReplySent()
		m.RecordRequest(OutcomeOK, time.Second)
		m.RecordPublish()
		m.RecordPulled(1)
		m.RecordReconnect(true)
		m.RecordRecoveryFailures(1)
		m.RecordError("x")
	})
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cli_runs_total", Help: "Runs"})
	require.NoError(t, registry.Register("cli", "runs", counter))
	counter.Inc()
	assert.NotNil(t, gathered(t, registry, "cli_runs_total"))

	err := registry.Register("cli", "runs", counter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	clash := prometheus.NewCounter(prometheus.CounterOpts{Name: "cli_runs_total", Help: "Runs"})
	err = registry.Register("other", "runs", clash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")

	assert.True(t, registry.Unregister("cli", "runs"))
	assert.False(t, registry.Unregister("cli", "runs"))
	assert.Nil(t, gathered(t, registry, "cli_runs_total"))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.Session().RecordPublish()

	srv := httptest.NewServer(NewServer(0, "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "natspad_publishes_total 1")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthProvider(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func() (int, health.Status) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		var status health.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		return resp.StatusCode, status
	}

	degraded := health.Aggregate("natspad", []health.Status{health.Degraded("connection a", "reconnecting")})
	s.SetHealth(func() health.Status { return degraded })

	code, status := get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StateDegraded, status.Status)
	require.Len(t, status.SubStatuses, 1)
	assert.Equal(t, "connection a", status.SubStatuses[0].Component)

	unhealthy := health.Aggregate("natspad", []health.Status{health.Unhealthy("subscription k", "connection lost")})
	s.SetHealth(func() health.Status { return unhealthy })
	code, status = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "1 component unhealthy", status.Message)
}

func TestServer_Defaults(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
	assert.NoError(t, s.Stop())

	err := NewServer(1, "/m", nil).Start()
	require.Error(t, err)
}
