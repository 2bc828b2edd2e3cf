package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/c360/natspad/errors"
)

// Sink is an append-only line writer.
type Sink interface {
	AppendLine(line string)
}

// Channel is a Sink with a presentation lifecycle.
type Channel interface {
	Sink
	Show()
	Dispose()
}

// ChannelFactory creates a channel for a label such as "NATS - orders.>".
type ChannelFactory func(label string) (Channel, error)

// Buffer is an in-memory Channel, safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	label    string
	lines    []string
	shown    int
	disposed bool
}

// NewBuffer creates an empty buffer channel.
func NewBuffer(label string) *Buffer {
	return &Buffer{label: label}
}

// Label returns the channel label
func (b *Buffer) Label() string {
	return b.label
}

// AppendLine records line
func (b *Buffer) AppendLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Show counts reveal requests
func (b *Buffer) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown++
}

// Dispose marks the buffer disposed; recorded lines are kept.
func (b *Buffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
}

// Lines returns a copy of the recorded lines
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Contains reports whether any recorded line contains s.
func (b *Buffer) Contains(s string) bool {
	for _, line := range b.Lines() {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// Shown returns how often Show was called
func (b *Buffer) Shown() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown
}

// Disposed reports whether Dispose was called
func (b *Buffer) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// WriterChannel writes lines to an io.Writer, prefixing a banner with the
// channel label the first time it is shown.
type WriterChannel struct {
	mu       sync.Mutex
	label    string
	w        io.Writer
	closer   io.Closer
	shown    bool
	disposed bool
}

// NewWriterChannel wraps w. The writer is not closed on Dispose.
func NewWriterChannel(label string, w io.Writer) *WriterChannel {
	return &WriterChannel{label: label, w: w}
}

// AppendLine writes line followed by a newline. Lines after Dispose are dropped.
func (c *WriterChannel) AppendLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	_, _ = fmt.Fprintln(c.w, line)
}

// Show writes the label banner once
func (c *WriterChannel) Show() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown || c.disposed {
		return
	}
	c.shown = true
	_, _ = fmt.Fprintf(c.w, "=== %s ===\n", c.label)
}

// Dispose stops further writes and closes the underlying file, if owned.
func (c *WriterChannel) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	if c.closer != nil {
		_ = c.closer.Close()
	}
}

// WriterFactory returns a factory whose channels all share w.
func WriterFactory(w io.Writer) ChannelFactory {
	var mu sync.Mutex
	shared := &lockedWriter{mu: &mu, w: w}
	return func(label string) (Channel, error) {
		return NewWriterChannel(label, shared), nil
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// FileFactory returns a factory that appends each channel to its own file in
// dir, named after the sanitized label.
func FileFactory(dir string) ChannelFactory {
	return func(label string) (Channel, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "FileFactory", "create", "create output directory")
		}
		path := filepath.Join(dir, FileName(label))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "FileFactory", "create", fmt.Sprintf("open %s", path))
		}
		ch := NewWriterChannel(label, f)
		ch.closer = f
		return ch, nil
	}
}

// FileName maps a channel label to a file name: "NATS - orders.>" becomes
// "nats-orders.gt.log".
func FileName(label string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == '>':
			b.WriteString("gt")
			lastDash = false
		case r == '*':
			b.WriteString("star")
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "channel"
	}
	return name + ".log"
}
