// Package natspad is an interactive NATS session manager: a scratchpad for
// publishing, requesting, subscribing, answering requests and pulling from
// JetStream against one or more brokers, with every exchange written to a
// named output channel.
//
// # Architecture
//
// A session owns three pieces of state, all keyed and all safe for concurrent
// use:
//
//   - Connections: one shared connection per normalized server address.
//     Every subscription, reply handler and one-shot operation against that
//     address reuses it.
//   - Subscriptions: long-running receive loops keyed by the caller
//     (typically "file:line"). Starting a key that is already running
//     replaces the previous loop.
//   - Reply handlers: receive loops that answer each request with a static
//     payload or a template resolved against the request.
//
// Reconnecting a server replaces its connection and restarts every
// subscription and reply handler bound to it. Keys that fail to restart stay
// registered and report unhealthy; the others keep running.
//
// # Packages
//
//	session     Session, connection registry, subscription and reply managers
//	natsclient  Conn abstraction over nats.go, endpoint parsing, headers
//	logsink     Output channels and the block format written to them
//	variables   {{name}} resolution, including request-scoped variables
//	action      Action file parsing for the run command
//	health      Health status tree reported on /health
//	metric      Prometheus registry, session metrics and the metrics server
//	config      Layered JSON/YAML configuration with env overrides
//	errors      Classified errors (transient, invalid, fatal) and session kinds
//	testutil    In-memory broker implementing natsclient.Connector
//	pkg/retry   Backoff used when dialing brokers
//
// # Binary
//
// cmd/natspad wires the packages together with dig and exposes them as cobra
// commands:
//
//	natspad pub  orders.created '{"id":1}'
//	natspad req  svc.time --timeout 2s
//	natspad sub  'orders.>' --for 30s
//	natspad reply svc.echo --template 'echo: {{request.body}}'
//	natspad pull --stream ORDERS --batch 10
//	natspad run  actions.yaml --line 12
//
// # Version
//
// The binary reports its version with "natspad version".
package natspad
