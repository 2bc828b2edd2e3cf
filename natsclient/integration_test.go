//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natspad/errors"
)

func connectTestClient(t *testing.T, srv *TestServer) *Client {
	t.Helper()

	connector, err := NewConnector(WithLogger(discardLogger()), WithDrainTimeout(time.Second))
	require.NoError(t, err)

	ep, err := ParseEndpoint(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := connector.Connect(ctx, ep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, ok := conn.(*Client)
	require.True(t, ok)
	return client
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	srv := NewTestServer(t)
	client := connectTestClient(t, srv)

	assert.Equal(t, StatusConnected, client.Status())
	assert.Contains(t, client.Describe(), "@")

	sub, err := client.Subscribe("orders.*")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, client.Publish("orders.created", []byte(`{"id":1}`), map[string]string{"X-Test": "1"}))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "orders.created", msg.Subject)
		assert.Equal(t, `{"id":1}`, string(msg.Data))
		assert.Equal(t, "1", msg.Header.Get("X-Test"))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestIntegration_RequestReply(t *testing.T) {
	srv := NewTestServer(t)
	client := connectTestClient(t, srv)

	sub, err := client.Subscribe("svc.echo")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	go func() {
		msg, ok := <-sub.Messages()
		if !ok {
			return
		}
		_ = client.Publish(msg.Reply, append([]byte("echo:"), msg.Data...), nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, "svc.echo", []byte("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(resp.Data))
}

func TestIntegration_NoResponders(t *testing.T) {
	srv := NewTestServer(t)
	client := connectTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Request(ctx, "nobody.home", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoResponders)
}

func TestIntegration_CloseReportsDisconnected(t *testing.T) {
	srv := NewTestServer(t)
	client := connectTestClient(t, srv)

	statuses := make(chan ConnectionStatus, 4)
	client.OnStatusChange(func(status ConnectionStatus, _ error) {
		statuses <- status
	})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case status := <-statuses:
		assert.Equal(t, StatusDisconnected, status)
	case <-time.After(5 * time.Second):
		t.Fatal("closed status not reported")
	}
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestIntegration_JetStream(t *testing.T) {
	srv := NewTestServer(t, WithJetStream())
	client := connectTestClient(t, srv)

	js, err := client.JetStream()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{Name: "EVENTS", Subjects: []string{"events.>"}})
	require.NoError(t, err)

	_, err = js.Publish(ctx, "events.one", []byte("payload"))
	require.NoError(t, err)

	info, err := js.Stream(ctx, "EVENTS")
	require.NoError(t, err)
	state, err := info.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.State.Msgs)
}
