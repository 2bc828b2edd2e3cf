package logsink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferFactory(created *[]*Buffer) ChannelFactory {
	return func(label string) (Channel, error) {
		b := NewBuffer(label)
		*created = append(*created, b)
		return b, nil
	}
}

func TestChannelRegistry_MainIsReused(t *testing.T) {
	var created []*Buffer
	r := NewChannelRegistry(bufferFactory(&created), "", nil)

	first, err := r.Main()
	require.NoError(t, err)
	second, err := r.Main()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "NATS", first.(*Buffer).Label())
	assert.Len(t, created, 1)
}

func TestChannelRegistry_RefCounting(t *testing.T) {
	var created []*Buffer
	r := NewChannelRegistry(bufferFactory(&created), "NATS", nil)

	first, err := r.Acquire("lab.metrics", "key-1")
	require.NoError(t, err)
	second, err := r.Acquire("lab.metrics", "key-2")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "NATS - lab.metrics", first.(*Buffer).Label())

	r.Release("key-1")
	assert.False(t, first.(*Buffer).Disposed())
	r.Release("key-2")
	assert.True(t, first.(*Buffer).Disposed())
	assert.Equal(t, 0, r.Subjects())

	r.Release("unknown")
}

func TestChannelRegistry_ReacquireMovesKey(t *testing.T) {
	var created []*Buffer
	r := NewChannelRegistry(bufferFactory(&created), "NATS", nil)

	a, err := r.Acquire("a", "key")
	require.NoError(t, err)
	again, err := r.Acquire("a", "key")
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := r.Acquire("b", "key")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.True(t, a.(*Buffer).Disposed())
	assert.Equal(t, 1, r.Subjects())
}

func TestChannelRegistry_DisposeAll(t *testing.T) {
	var created []*Buffer
	r := NewChannelRegistry(bufferFactory(&created), "NATS", nil)

	subject, err := r.Acquire("lab.alerts", "key")
	require.NoError(t, err)
	main, err := r.Main()
	require.NoError(t, err)

	r.DisposeAll()

	assert.True(t, subject.(*Buffer).Disposed())
	assert.True(t, main.(*Buffer).Disposed())
	assert.Equal(t, 0, r.Subjects())

	fresh, err := r.Main()
	require.NoError(t, err)
	assert.NotSame(t, main, fresh)
}

func TestChannelRegistry_FactoryError(t *testing.T) {
	r := NewChannelRegistry(func(string) (Channel, error) {
		return nil, fmt.Errorf("boom")
	}, "NATS", nil)

	_, err := r.Acquire("s", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, r.Subjects())

	_, err = r.Main()
	require.Error(t, err)
}

func TestWriterChannel(t *testing.T) {
	var out bytes.Buffer
	factory := WriterFactory(&out)

	ch, err := factory("NATS - x")
	require.NoError(t, err)

	ch.Show()
	ch.Show()
	ch.AppendLine("hello")
	ch.Dispose()
	ch.AppendLine("dropped")

	assert.Equal(t, "=== NATS - x ===\nhello\n", out.String())
}

func TestFileFactory(t *testing.T) {
	dir := t.TempDir()
	factory := FileFactory(filepath.Join(dir, "out"))

	ch, err := factory("NATS - orders.>")
	require.NoError(t, err)

	Append(ch, (&Block{}).Add("Message", "hi", nil))
	ch.Dispose()

	data, err := os.ReadFile(filepath.Join(dir, "out", "nats-orders.gt.log"))
	require.NoError(t, err)
	assert.Equal(t, "Message:\n  Body:\n    hi\n\n", string(data))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "nats.log", FileName("NATS"))
	assert.Equal(t, "nats-a.star.b.log", FileName("NATS - a.*.b"))
	assert.Equal(t, "channel.log", FileName("  "))
}
