package variables

import "github.com/nats-io/nats.go"

// Request-scoped variable names available to reply templates.
const (
	RequestSubject      = "request.subject"
	RequestBody         = "request.body"
	RequestReply        = "request.reply"
	RequestHeaderPrefix = "request.header."
)

// ForRequest returns a scope exposing msg to templates as request.subject,
// request.body, request.reply and request.header.<Name>.
func ForRequest(base Resolver, msg *nats.Msg) *Scope {
	vars := map[string]string{
		RequestSubject: msg.Subject,
		RequestBody:    string(msg.Data),
		RequestReply:   msg.Reply,
	}
	for name, values := range msg.Header {
		if len(values) > 0 {
			vars[RequestHeaderPrefix+name] = values[0]
		}
	}
	return NewScope(base, vars)
}
