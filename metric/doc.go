// Package metric provides Prometheus metrics for natspad sessions and an
// optional HTTP server exposing them.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	sess := session.New(connector, session.WithMetrics(registry.Session()))
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() {
//		if err := server.Start(); err != nil {
//			logger.Error("Metrics server failed", "error", err)
//		}
//	}()
//	defer server.Stop()
//
// # Session Metrics
//
//   - natspad_connections_active: open broker connections
//   - natspad_subscriptions_active, natspad_reply_handlers_active
//   - natspad_messages_received_total{source}: subscription or reply
//   - natspad_replies_sent_total
//   - natspad_requests_total{outcome}: ok, timeout or error
//   - natspad_request_duration_seconds
//   - natspad_publishes_total
//   - natspad_pulled_messages_total
//   - natspad_reconnects_total{outcome}
//   - natspad_recovery_failures_total
//   - natspad_errors_total{kind}
//
// All Record methods are safe to call on a nil *Metrics, so components can
// accept metrics as an optional dependency.
//
// Additional collectors can be registered under an owner name with Register
// and removed with Unregister. Go runtime and process collectors are always
// included.
package metric
