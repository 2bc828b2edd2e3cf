// Package session owns broker connections and the long-lived work bound to
// them.
//
// A Session is the single entry point. It keeps one shared connection per
// normalized server address, one receive loop per subscription key and one
// per reply-handler key. Keys are opaque caller strings, typically derived
// from a location in an action file, so a loop can be replaced or restarted
// without the caller holding a reference to it.
//
// Work on the same key is serialized; unrelated keys proceed independently.
// Connection creation is serialized per address so concurrent starts against
// an unconnected server share one connection.
//
// Recovery is explicit. ReconnectConnection closes the connection for a
// server, opens a fresh one and restarts every subscription and reply handler
// bound to it:
//
//	n, err := s.ReconnectConnection(ctx, "nats://localhost:4222")
//	if errors.IsRecovery(err) {
//		for _, key := range errors.RecoveryKeys(err) {
//			// key is still registered but unhealthy
//		}
//	}
//
// Connectivity events reported by the transport only update connection
// status; keys bound to a closed connection report Healthy false until the
// next reconnect.
package session
