package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/natsclient"
)

func connect(t *testing.T, b *Broker, spec string) natsclient.Conn {
	t.Helper()
	ep, err := natsclient.ParseEndpoint(spec)
	require.NoError(t, err)
	conn, err := b.Connect(context.Background(), ep)
	require.NoError(t, err)
	return conn
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.updated", false},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.created.eu", false},
		{"orders.>", "orders.created.eu", true},
		{"orders.>", "orders", false},
		{"*.created", "orders.created", true},
		{">", "anything.at.all", true},
		{"a.>.c", "a.b.c", false},
		{"a.b", "a.b.c", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.pattern, tt.subject), func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectMatches(tt.pattern, tt.subject))
		})
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "localhost")

	sub, err := conn.Subscribe("orders.*")
	require.NoError(t, err)

	require.NoError(t, conn.Publish("orders.created", []byte("1"), map[string]string{"K": "v"}))
	require.NoError(t, conn.Publish("users.created", []byte("2"), nil))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "orders.created", msg.Subject)
		assert.Equal(t, "1", string(msg.Data))
		assert.Equal(t, "v", msg.Header.Get("K"))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	assert.Len(t, b.Published("users.created"), 1)
	assert.Equal(t, 1, b.Subscribers("orders.*"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, b.Subscribers("orders.*"))
}

func TestBroker_SeparatesAddresses(t *testing.T) {
	b := NewBroker()
	a := connect(t, b, "a:4222")
	other := connect(t, b, "b:4222")

	sub, err := a.Subscribe("x")
	require.NoError(t, err)

	require.NoError(t, other.Publish("x", []byte("from b"), nil))
	select {
	case <-sub.Messages():
		t.Fatal("message crossed servers")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_Request(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "localhost")

	sub, err := conn.Subscribe("svc.echo")
	require.NoError(t, err)
	go func() {
		msg := <-sub.Messages()
		_ = conn.Publish(msg.Reply, append([]byte("echo:"), msg.Data...), nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := conn.Request(ctx, "svc.echo", []byte("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(resp.Data))
}

func TestBroker_RequestFailures(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "localhost")

	_, err := conn.Request(context.Background(), "nobody", nil, nil)
	assert.ErrorIs(t, err, errors.ErrNoResponders)

	_, err = conn.Subscribe("silent")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.Request(ctx, "silent", nil, nil)
	assert.ErrorIs(t, err, errors.ErrRequestTimeout)
}

func TestBroker_Unreachable(t *testing.T) {
	b := NewBroker()
	b.SetUnreachable("localhost:4222", true)

	ep, err := natsclient.ParseEndpoint("localhost")
	require.NoError(t, err)

	_, err = b.Connect(context.Background(), ep)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.Equal(t, 0, b.ConnectCount("localhost:4222"))

	b.SetUnreachable("localhost:4222", false)
	_, err = b.Connect(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ConnectCount("localhost:4222"))
}

func TestBroker_DropNotifiesAndClosesSubscriptions(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "localhost")

	statuses := make(chan natsclient.ConnectionStatus, 4)
	conn.(natsclient.StatusNotifier).OnStatusChange(func(s natsclient.ConnectionStatus, _ error) {
		statuses <- s
	})

	_, err := conn.Subscribe("x")
	require.NoError(t, err)

	b.Interrupt("localhost:4222")
	assert.Equal(t, natsclient.StatusReconnecting, <-statuses)
	assert.Equal(t, natsclient.StatusConnected, <-statuses)

	b.Drop("localhost:4222")
	select {
	case s := <-statuses:
		assert.Equal(t, natsclient.StatusDisconnected, s)
	case <-time.After(time.Second):
		t.Fatal("no closed status")
	}

	assert.Equal(t, 0, b.Subscribers("x"))
	assert.Equal(t, 0, b.OpenConnections("localhost:4222"))
	assert.ErrorIs(t, conn.Publish("x", nil, nil), errors.ErrConnectionLost)
	_, err = conn.Subscribe("x")
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
}

func TestBroker_FailSubscribe(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "localhost")

	b.FailSubscribe(func(_, subject string) error {
		if subject == "bad" {
			return fmt.Errorf("permission denied")
		}
		return nil
	})

	_, err := conn.Subscribe("bad")
	assert.Error(t, err)
	_, err = conn.Subscribe("good")
	assert.NoError(t, err)

	b.FailSubscribe(nil)
	_, err = conn.Subscribe("bad")
	assert.NoError(t, err)
}

func TestConn_Describe(t *testing.T) {
	b := NewBroker()
	conn := connect(t, b, "Host:4333")
	assert.Regexp(t, `^\[\d+@host:4333\]$`, conn.(natsclient.Describer).Describe())
	_, isJS := conn.(natsclient.JetStreamer)
	assert.False(t, isJS)
}
