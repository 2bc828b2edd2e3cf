package natsclient

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ConnectionStatus represents the state of a broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn is the capability set the session needs from a broker connection.
// Any transport implementing it can back a session.
type Conn interface {
	Subscribe(subject string) (Subscription, error)
	Publish(subject string, data []byte, headers map[string]string) error
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*nats.Msg, error)
	Close() error
}

// Subscription delivers inbound messages for one subject on its own channel.
// The channel is not closed on Unsubscribe; readers stop on their own signal.
type Subscription interface {
	Messages() <-chan *nats.Msg
	Unsubscribe() error
}

// Connector opens connections to a broker endpoint.
type Connector interface {
	Connect(ctx context.Context, ep Endpoint) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, ep Endpoint) (Conn, error)

// Connect calls f(ctx, ep).
func (f ConnectorFunc) Connect(ctx context.Context, ep Endpoint) (Conn, error) {
	return f(ctx, ep)
}

// Describer is implemented by connections that can identify themselves for
// log output, e.g. "[42@127.0.0.1:4222]".
type Describer interface {
	Describe() string
}

// JetStreamer is implemented by connections that expose JetStream.
type JetStreamer interface {
	JetStream() (jetstream.JetStream, error)
}

// StatusNotifier is implemented by connections that report connectivity
// changes detected by the transport.
type StatusNotifier interface {
	OnStatusChange(fn func(status ConnectionStatus, err error))
}
