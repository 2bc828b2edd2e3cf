package action

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natspad/errors"
)

const sample = `server: nats://localhost:4222
actions:
  - type: subscribe
    subject: orders.>
  - type: request
    subject: svc.echo
    payload: '{"hello":"world"}'
    headers:
      Trace-Id: "{{$uuid}}"
    timeout: 2s
  - type: reply
    server: other:4333
    subject: svc.echo
    template: "echo: {{request.body}}"
  - type: publish
    subject: orders.created
  - type: pull
    subject: events.>
    stream: EVENTS
    consumer: worker
    batch: 5
    timeout: 1500
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", doc.Server)
	require.Len(t, doc.Actions, 5)

	sub := doc.Actions[0]
	assert.Equal(t, Subscribe, sub.Type)
	assert.Equal(t, "orders.>", sub.Subject)
	assert.Equal(t, "nats://localhost:4222", sub.Server)
	assert.Equal(t, 3, sub.Line)

	req := doc.Actions[1]
	assert.Equal(t, Request, req.Type)
	assert.Equal(t, `{"hello":"world"}`, req.PayloadText())
	assert.Equal(t, map[string]string{"Trace-Id": "{{$uuid}}"}, req.Headers)
	assert.Equal(t, 2*time.Second, req.Timeout)
	assert.Equal(t, 5, req.Line)

	reply := doc.Actions[2]
	assert.Equal(t, "other:4333", reply.Server)
	require.NotNil(t, reply.Template)
	assert.Equal(t, "echo: {{request.body}}", *reply.Template)
	assert.Nil(t, reply.Payload)

	pub := doc.Actions[3]
	assert.Equal(t, "", pub.PayloadText())

	pull := doc.Actions[4]
	assert.Equal(t, Pull, pull.Type)
	assert.Equal(t, "EVENTS", pull.Stream)
	assert.Equal(t, "worker", pull.Consumer)
	assert.Equal(t, 5, pull.Batch)
	assert.Equal(t, 1500*time.Millisecond, pull.Timeout)
}

func TestParse_BareList(t *testing.T) {
	doc, err := Parse([]byte("- type: Publish\n  subject: a\n  payload: \"\"\n"))
	require.NoError(t, err)
	require.Len(t, doc.Actions, 1)
	assert.Equal(t, Publish, doc.Actions[0].Type)
	assert.Equal(t, "", doc.Actions[0].Server)
	require.NotNil(t, doc.Actions[0].Payload)
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Actions)

	doc, err = Parse([]byte("server: localhost\n"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", doc.Server)
	assert.Empty(t, doc.Actions)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unknown type", "- type: explode\n  subject: a\n", "line 1"},
		{"bad timeout", "- type: request\n  subject: a\n  timeout: soon\n", "invalid timeout"},
		{"negative timeout", "- type: request\n  subject: a\n  timeout: -1s\n", "negative"},
		{"negative batch", "- type: pull\n  subject: a\n  batch: -1\n", "batch"},
		{"scalar action", "- request\n", "mapping"},
		{"unknown field", "servers: x\n", "unknown field"},
		{"actions not a list", "actions: nope\n", "must be a list"},
		{"scalar document", "hello\n", "expected a list"},
		{"broken yaml", "actions: [\n", "decode YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.nats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, doc.Actions, 5)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNearest(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	a, ok := Nearest(doc.Actions, 7, Request)
	require.True(t, ok)
	assert.Equal(t, 5, a.Line)

	a, ok = Nearest(doc.Actions, 5, Request)
	require.True(t, ok)
	assert.Equal(t, "svc.echo", a.Subject)

	_, ok = Nearest(doc.Actions, 4, Request)
	assert.False(t, ok)

	a, ok = Nearest(doc.Actions, 100, "")
	require.True(t, ok)
	assert.Equal(t, Pull, a.Type)

	a, ok = Nearest(doc.Actions, 100, Subscribe)
	require.True(t, ok)
	assert.Equal(t, 3, a.Line)
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "/tmp/demo.yaml:12", BuildKey("/tmp/demo.yaml", 12))
	assert.NotEqual(t, BuildKey("a", 1), BuildKey("a", 2))
}
