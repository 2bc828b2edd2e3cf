package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/logsink"
	"github.com/c360/natspad/natsclient"
)

// binding is the transport side of a keyed loop. It is replaced on restart.
type binding struct {
	conn   *Connection
	sub    natsclient.Subscription
	cancel context.CancelFunc
}

// loopEntry is one keyed receive loop. Identity fields never change after
// start; the binding and health are guarded by the owning table.
type loopEntry struct {
	key     string
	subject string
	server  string
	address string
	sink    logsink.Sink
	reply   *replyConfig

	bind    *binding
	healthy bool
	lastErr error
}

// handleFunc processes one inbound message for e on conn.
type handleFunc func(e *loopEntry, conn *Connection, msg *nats.Msg)

// loopTable tracks keyed receive loops: one subscription and one goroutine
// per key. Start, stop and restart for the same key are serialized.
type loopTable struct {
	kind    string
	conns   *ConnectionRegistry
	logger  *slog.Logger
	handle  handleFunc
	changed func(n int)
	stopped func(key string)

	locks *keyLock

	mu      sync.RWMutex
	entries map[string]*loopEntry
	// epoch changes on stopAll; binds that straddle it are discarded.
	epoch uint64
}

func newLoopTable(kind string, conns *ConnectionRegistry, logger *slog.Logger, handle handleFunc) *loopTable {
	return &loopTable{
		kind:    kind,
		conns:   conns,
		logger:  logger,
		handle:  handle,
		changed: func(int) {},
		stopped: func(string) {},
		locks:   newKeyLock(),
		entries: make(map[string]*loopEntry),
	}
}

// start binds e and registers it under e.key, stopping any loop already
// registered for that key.
func (t *loopTable) start(ctx context.Context, op string, e *loopEntry) error {
	unlock := t.locks.Lock(e.key)
	defer unlock()

	t.mu.Lock()
	prev := t.entries[e.key]
	delete(t.entries, e.key)
	epoch := t.epoch
	t.mu.Unlock()
	if prev != nil {
		t.logger.Debug("Replacing running loop", "kind", t.kind, "key", e.key)
		t.release(prev.bind)
	}

	b, err := t.bind(ctx, e)
	if err != nil {
		t.changed(t.count())
		if errors.KindOf(err) != errors.KindUnknown {
			return err
		}
		return errors.Connection(op, err)
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		t.release(b)
		t.logger.Debug("Discarding loop started across a reset", "kind", t.kind, "key", e.key)
		return errors.Connection(op, errors.ErrSessionReset)
	}
	e.bind = b
	e.healthy = true
	e.address = b.conn.Address
	t.entries[e.key] = e
	n := len(t.entries)
	t.mu.Unlock()
	t.changed(n)

	t.logger.Info("Loop started", "kind", t.kind, "key", e.key, "subject", e.subject, "server", e.address)
	return nil
}

// bind obtains the connection for e, subscribes and launches the receive loop.
func (t *loopTable) bind(ctx context.Context, e *loopEntry) (*binding, error) {
	conn, err := t.conns.GetOrCreate(ctx, e.server)
	if err != nil {
		return nil, err
	}

	sub, err := conn.Conn().Subscribe(e.subject)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	go t.run(loopCtx, e, conn, sub)

	return &binding{conn: conn, sub: sub, cancel: cancel}, nil
}

func (t *loopTable) run(ctx context.Context, e *loopEntry, conn *Connection, sub natsclient.Subscription) {
	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			if ctx.Err() != nil {
				return
			}
			t.dispatch(e, conn, msg)
		}
	}
}

// dispatch runs the handler for one message. A panicking handler loses that
// message only.
func (t *loopTable) dispatch(e *loopEntry, conn *Connection, msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Message handler panicked", "kind", t.kind, "key", e.key, "subject", msg.Subject, "panic", r)
		}
	}()
	t.handle(e, conn, msg)
}

// stop cancels and forgets the loop for key. Unknown keys are a no-op.
func (t *loopTable) stop(key string) bool {
	unlock := t.locks.Lock(key)
	defer unlock()

	t.mu.Lock()
	e := t.entries[key]
	delete(t.entries, key)
	n := len(t.entries)
	t.mu.Unlock()

	if e == nil {
		return false
	}
	t.release(e.bind)
	t.changed(n)
	t.stopped(key)
	t.logger.Info("Loop stopped", "kind", t.kind, "key", key)
	return true
}

// stopAll signals every loop to stop and clears the table.
func (t *loopTable) stopAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*loopEntry)
	t.epoch++
	t.mu.Unlock()

	for key, e := range entries {
		t.release(e.bind)
		t.stopped(key)
	}
	t.changed(0)
}

// restart rebinds key against the current connection for its server. A
// failure leaves the key registered but unhealthy.
func (t *loopTable) restart(ctx context.Context, op, key string) (bool, error) {
	unlock := t.locks.Lock(key)
	defer unlock()

	t.mu.RLock()
	e := t.entries[key]
	var old *binding
	if e != nil {
		old = e.bind
	}
	t.mu.RUnlock()

	if e == nil {
		// stopped while recovery was queued
		return false, nil
	}
	t.release(old)

	b, err := t.bind(ctx, e)

	t.mu.Lock()
	if t.entries[key] != e {
		// reset while rebinding
		t.mu.Unlock()
		t.release(b)
		return false, nil
	}
	defer t.mu.Unlock()
	if err != nil {
		e.bind = nil
		e.healthy = false
		e.lastErr = err
		t.logger.Warn("Restart failed", "kind", t.kind, "key", key, "subject", e.subject, "error", err)
		return false, errors.Recovery(op, key, err)
	}
	e.bind = b
	e.healthy = true
	e.lastErr = nil
	return true, nil
}

// release cancels the loop and unsubscribes. Unsubscribe failures are logged.
func (t *loopTable) release(b *binding) {
	if b == nil {
		return
	}
	b.cancel()
	if err := b.sub.Unsubscribe(); err != nil {
		t.logger.Debug("Unsubscribe failed", "kind", t.kind, "error", err)
	}
}

// keysFor returns the keys bound to addr, sorted.
func (t *loopTable) keysFor(addr string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	for key, e := range t.entries {
		if e.address == addr {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (t *loopTable) has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key]
	return ok
}

func (t *loopTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// loopInfo is the listing view shared by both managers.
type loopInfo struct {
	key, subject, server string
	healthy              bool
	lastErr              error
}

func (t *loopTable) list() []loopInfo {
	t.mu.RLock()
	out := make([]loopInfo, 0, len(t.entries))
	for _, e := range t.entries {
		info := loopInfo{key: e.key, subject: e.subject, server: e.address, lastErr: e.lastErr}
		if e.bind != nil {
			info.healthy = e.healthy && t.conns.isCurrent(e.address, e.bind.conn.generation)
		}
		out = append(out, info)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
