// Package testutil provides an in-memory broker for testing code that
// depends on natsclient.Connector without a NATS server.
//
// Broker implements natsclient.Connector. Connections it hands out support
// subscribe, publish (with '*' and '>' wildcards), request/reply through
// generated inboxes, status notifications and Describe. Tests can make an
// address unreachable, drop every connection to an address, inject subscribe
// failures and inspect what was published:
//
//	broker := testutil.NewBroker()
//	sess := session.New(broker)
//
//	broker.SetUnreachable("localhost:4222", true)
//	_, err := sess.ReconnectConnection(ctx, "localhost")
//	// err is a connection error
//
// Connections from Broker do not implement natsclient.JetStreamer.
package testutil
