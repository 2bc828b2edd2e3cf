package session

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopTable_HandlerPanicKeepsLoop(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	got := make(chan string, 2)
	var calls atomic.Int32
	table := newLoopTable("test", r, slog.New(slog.NewTextHandler(io.Discard, nil)), func(_ *loopEntry, _ *Connection, msg *nats.Msg) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		got <- string(msg.Data)
	})
	t.Cleanup(table.stopAll)

	require.NoError(t, table.start(ctx, "Start", &loopEntry{key: "k", subject: "a", server: server}))

	conn, err := r.GetOrCreate(ctx, server)
	require.NoError(t, err)
	require.NoError(t, conn.Conn().Publish("a", []byte("first"), nil))
	require.NoError(t, conn.Conn().Publish("a", []byte("second"), nil))

	select {
	case v := <-got:
		assert.Equal(t, "second", v)
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after a panicking handler")
	}
	assert.True(t, table.has("k"))
}
