package natsclient

import (
	"strings"

	"github.com/nats-io/nats.go"
)

// BuildHeader converts a header map into NATS headers. It returns nil for an
// empty map so messages without headers stay header-free on the wire.
func BuildHeader(m map[string]string) nats.Header {
	if len(m) == 0 {
		return nil
	}
	h := nats.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// ReadHeader flattens NATS headers into a map, joining repeated values with
// commas. It returns nil when there are no headers.
func ReadHeader(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[k] = strings.Join(values, ",")
	}
	return out
}
