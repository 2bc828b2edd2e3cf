package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/natsclient"
	"github.com/c360/natspad/testutil"
)

func newTestRegistry(t *testing.T) (*ConnectionRegistry, *testutil.Broker) {
	t.Helper()
	broker := testutil.NewBroker()
	r := newConnectionRegistry(broker, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, time.Now)
	t.Cleanup(r.Reset)
	return r, broker
}

func TestConnectionRegistry_EquivalentSpecsShareConnection(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)
	for _, spec := range []string{"localhost:4222", "nats://LocalHost:4222", "nats://a:b@localhost", "localhost, other:4222"} {
		c, err := r.GetOrCreate(ctx, spec)
		require.NoError(t, err, spec)
		assert.Same(t, first, c, spec)
	}

	assert.Equal(t, 1, broker.ConnectCount("localhost:4222"))
	assert.Equal(t, 1, r.Count())

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "localhost:4222", list[0].Server)
	assert.Equal(t, natsclient.StatusConnected, list[0].Status)
	assert.Equal(t, "[1@localhost:4222]", list[0].Connection)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestConnectionRegistry_ListIsSorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, spec := range []string{"charlie", "alpha", "bravo"} {
		_, err := r.GetOrCreate(ctx, spec)
		require.NoError(t, err)
	}

	var servers []string
	for _, info := range r.List() {
		servers = append(servers, info.Server)
	}
	assert.Equal(t, []string{"alpha:4222", "bravo:4222", "charlie:4222"}, servers)
	assert.Equal(t, 3, r.Count())
}

func TestConnectionRegistry_ConcurrentCreate(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]*Connection, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.GetOrCreate(ctx, "localhost")
			assert.NoError(t, err)
			got[i] = c
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, broker.ConnectCount("localhost:4222"))
	for _, c := range got {
		assert.Same(t, got[0], c)
	}
}

func TestConnectionRegistry_InvalidSpec(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.GetOrCreate(context.Background(), "")
	assert.True(t, errors.IsValidation(err))

	_, err = r.Reconnect(context.Background(), "ws://")
	assert.True(t, errors.IsValidation(err))
}

func TestConnectionRegistry_ReconnectIgnoresStaleEvents(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()

	old, err := r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)

	n, err := r.Reconnect(ctx, "localhost")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	fresh, err := r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Greater(t, fresh.generation, old.generation)
	assert.True(t, old.Conn().(*testutil.Conn).Closed())

	// closing the old handle reports disconnected from another goroutine
	assert.Never(t, func() bool {
		return r.Status("localhost:4222") != natsclient.StatusConnected
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 2, broker.ConnectCount("localhost:4222"))
}

func TestConnectionRegistry_ReconnectRunsHook(t *testing.T) {
	r, _ := newTestRegistry(t)
	var called []string
	r.onReconnected = func(_ context.Context, addr string) (int, error) {
		called = append(called, addr)
		return 3, nil
	}

	n, err := r.Reconnect(context.Background(), "nats://Example:4333")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"example:4333"}, called)
}

func TestConnectionRegistry_ReconnectFailureSkipsHook(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()
	r.onReconnected = func(context.Context, string) (int, error) {
		t.Fatal("recovery must not run after a failed reconnect")
		return 0, nil
	}

	_, err := r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)
	broker.SetUnreachable("localhost:4222", true)

	_, err = r.Reconnect(ctx, "localhost")
	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))
	assert.Equal(t, natsclient.StatusDisconnected, r.Status("localhost:4222"))
	assert.Equal(t, 0, r.Count())
	assert.Len(t, r.List(), 1)
}

func TestConnectionRegistry_StatusEvents(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)

	broker.Interrupt("localhost:4222")
	assert.Equal(t, natsclient.StatusConnected, r.Status("localhost:4222"))

	broker.Drop("localhost:4222")
	require.Eventually(t, func() bool {
		return r.Status("localhost:4222") == natsclient.StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Count())

	// a disconnected entry is replaced on next use
	_, err = r.GetOrCreate(ctx, "localhost")
	require.NoError(t, err)
	assert.Equal(t, natsclient.StatusConnected, r.Status("localhost:4222"))
	assert.Equal(t, 2, broker.ConnectCount("localhost:4222"))
}

func TestConnectionRegistry_Reset(t *testing.T) {
	r, broker := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "b")
	require.NoError(t, err)

	r.Reset()
	r.Reset()

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.List())
	assert.Equal(t, 0, broker.OpenConnections("a:4222"))
	assert.Equal(t, natsclient.StatusDisconnected, r.Status("a:4222"))
}
