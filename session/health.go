package session

import (
	"github.com/c360/natspad/health"
	"github.com/c360/natspad/natsclient"
)

// Health reports the session as a tree: one child per connection,
// subscription and reply handler. A dropped connection or a key whose
// restart failed makes the session unhealthy; a reconnecting transport
// only degrades it.
func (s *Session) Health() health.Status {
	var children []health.Status

	for _, c := range s.conns.List() {
		name := "connection " + c.Server
		switch c.Status {
		case natsclient.StatusConnected:
			children = append(children, health.Healthy(name, c.Connection))
		case natsclient.StatusReconnecting:
			children = append(children, health.Degraded(name, "reconnecting"))
		default:
			children = append(children, health.Unhealthy(name, "disconnected"))
		}
	}

	for _, in := range s.subs.List() {
		children = append(children, loopHealth("subscription "+in.Key, in.Subject, in.Healthy, in.Err))
	}
	for _, in := range s.replies.List() {
		children = append(children, loopHealth("reply "+in.Key, in.Subject, in.Healthy, in.Err))
	}

	return health.Aggregate("natspad", children)
}

func loopHealth(name, subject string, healthy bool, err error) health.Status {
	switch {
	case healthy:
		return health.Healthy(name, subject)
	case err != nil:
		return health.FromError(name, err)
	default:
		return health.Unhealthy(name, "connection lost")
	}
}
