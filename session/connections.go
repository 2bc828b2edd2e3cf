package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/metric"
	"github.com/c360/natspad/natsclient"
)

const defaultReconnectTimeout = time.Minute

// Connection is one shared broker connection. It is immutable once stored;
// status lives in the registry.
type Connection struct {
	Address   string
	Endpoint  natsclient.Endpoint
	CreatedAt time.Time

	conn       natsclient.Conn
	generation uint64
}

// Conn returns the transport handle
func (c *Connection) Conn() natsclient.Conn {
	return c.conn
}

// Describe identifies the connection for log meta, e.g. "[7@localhost:4222]".
func (c *Connection) Describe() string {
	if d, ok := c.conn.(natsclient.Describer); ok {
		return d.Describe()
	}
	return "[" + c.Address + "]"
}

// ConnectionInfo is a snapshot of one registry entry.
type ConnectionInfo struct {
	Server    string
	Status    natsclient.ConnectionStatus
	CreatedAt time.Time
	// Connection is the transport's description, e.g. "[7@localhost:4222]".
	Connection string
}

type connEntry struct {
	conn   *Connection
	status natsclient.ConnectionStatus
}

// ConnectionRegistry maps normalized server addresses to shared connections.
type ConnectionRegistry struct {
	connector natsclient.Connector
	logger    *slog.Logger
	metrics   *metric.Metrics
	clock     func() time.Time

	// reconnectTimeout bounds a shared reconnect, including recovery.
	reconnectTimeout time.Duration

	locks *keyLock
	group singleflight.Group

	mu         sync.RWMutex
	entries    map[string]*connEntry
	generation uint64

	// onReconnected runs after Reconnect stored a fresh connection.
	onReconnected func(ctx context.Context, addr string) (int, error)
}

func newConnectionRegistry(connector natsclient.Connector, logger *slog.Logger, metrics *metric.Metrics, clock func() time.Time) *ConnectionRegistry {
	return &ConnectionRegistry{
		connector: connector,
		logger:    logger.With("component", "connections"),
		metrics:   metrics,
		clock:     clock,

		reconnectTimeout: defaultReconnectTimeout,

		locks:   newKeyLock(),
		entries: make(map[string]*connEntry),
	}
}

// GetOrCreate returns the shared connection for serverSpec, opening one when
// none is usable. Creation is serialized per address.
func (r *ConnectionRegistry) GetOrCreate(ctx context.Context, serverSpec string) (*Connection, error) {
	ep, err := natsclient.ParseEndpoint(serverSpec)
	if err != nil {
		return nil, errors.Validation("GetOrCreate", err)
	}

	unlock := r.locks.Lock(ep.Address)
	defer unlock()

	r.mu.RLock()
	existing := r.entries[ep.Address]
	r.mu.RUnlock()

	if existing != nil {
		if r.usable(existing) {
			return existing.conn, nil
		}
		r.logger.Warn("Replacing disconnected connection", "server", ep.Address)
		r.closeConn(existing.conn)
	}

	conn, err := r.open(ctx, ep)
	if err != nil {
		return nil, errors.Connection("GetOrCreate", err)
	}
	return conn, nil
}

// Reconnect closes the connection for serverSpec, opens a fresh one and runs
// recovery for its address. Concurrent calls for one address share a single
// attempt and its result.
func (r *ConnectionRegistry) Reconnect(ctx context.Context, serverSpec string) (int, error) {
	ep, err := natsclient.ParseEndpoint(serverSpec)
	if err != nil {
		return 0, errors.Validation("ReconnectConnection", err)
	}

	// The attempt is shared, so it must not die with the caller that started it.
	ch := r.group.DoChan(ep.Address, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.reconnectTimeout)
		defer cancel()
		return r.reconnect(rctx, ep)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("Joined in-flight reconnect", "server", ep.Address)
		}
		n, _ := res.Val.(int)
		return n, res.Err
	case <-ctx.Done():
		return 0, errors.Connection("ReconnectConnection", ctx.Err())
	}
}

func (r *ConnectionRegistry) reconnect(ctx context.Context, ep natsclient.Endpoint) (int, error) {
	unlock := r.locks.Lock(ep.Address)

	r.mu.Lock()
	existing := r.entries[ep.Address]
	if existing != nil {
		existing.status = natsclient.StatusDisconnected
	}
	r.mu.Unlock()

	if existing != nil {
		r.closeConn(existing.conn)
	}

	if _, err := r.open(ctx, ep); err != nil {
		unlock()
		r.metrics.RecordReconnect(false)
		r.logger.Warn("Reconnect failed", "server", ep.Address, "error", err)
		return 0, errors.Connection("ReconnectConnection", err)
	}
	unlock()
	r.metrics.RecordReconnect(true)

	if r.onReconnected == nil {
		return 0, nil
	}
	return r.onReconnected(ctx, ep.Address)
}

// open dials ep and stores the new connection. Caller holds the address lock.
func (r *ConnectionRegistry) open(ctx context.Context, ep natsclient.Endpoint) (*Connection, error) {
	handle, err := r.connector.Connect(ctx, ep)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.generation++
	conn := &Connection{
		Address:    ep.Address,
		Endpoint:   ep,
		CreatedAt:  r.clock(),
		conn:       handle,
		generation: r.generation,
	}
	r.entries[ep.Address] = &connEntry{conn: conn, status: natsclient.StatusConnected}
	r.mu.Unlock()

	if n, ok := handle.(natsclient.StatusNotifier); ok {
		n.OnStatusChange(func(status natsclient.ConnectionStatus, err error) {
			r.handleStatus(conn.Address, conn.generation, status, err)
		})
	}

	r.metrics.SetConnections(r.Count())
	r.logger.Info("Connection opened", "server", ep.Address, "connection", conn.Describe())
	return conn, nil
}

// handleStatus applies a transport event. Events from replaced handles are ignored.
func (r *ConnectionRegistry) handleStatus(addr string, generation uint64, status natsclient.ConnectionStatus, err error) {
	r.mu.Lock()
	e := r.entries[addr]
	if e == nil || e.conn.generation != generation || e.status == status {
		r.mu.Unlock()
		return
	}
	e.status = status
	r.mu.Unlock()

	r.metrics.SetConnections(r.Count())
	switch status {
	case natsclient.StatusDisconnected:
		r.logger.Warn("Connection closed by transport", "server", addr, "error", err)
	case natsclient.StatusReconnecting:
		r.logger.Warn("Connection interrupted, transport reconnecting", "server", addr, "error", err)
	default:
		r.logger.Info("Connection restored by transport", "server", addr)
	}
}

// usable reports whether an entry can serve new work. A reconnecting
// transport buffers until it is back.
func (r *ConnectionRegistry) usable(e *connEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.status != natsclient.StatusDisconnected
}

// isCurrent reports whether generation is the live connection for addr.
func (r *ConnectionRegistry) isCurrent(addr string, generation uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.entries[addr]
	return e != nil && e.conn.generation == generation && e.status != natsclient.StatusDisconnected
}

// Status returns the status of addr, or StatusDisconnected when unknown
func (r *ConnectionRegistry) Status(addr string) natsclient.ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.entries[addr]; e != nil {
		return e.status
	}
	return natsclient.StatusDisconnected
}

// List returns a snapshot ordered by server address
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	out := make([]ConnectionInfo, 0, len(r.entries))
	for addr, e := range r.entries {
		out = append(out, ConnectionInfo{
			Server:     addr,
			Status:     e.status,
			CreatedAt:  e.conn.CreatedAt,
			Connection: e.conn.Describe(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}

// Count returns the number of live connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.status != natsclient.StatusDisconnected {
			n++
		}
	}
	return n
}

// Reset closes every connection and forgets them. Safe to call repeatedly.
func (r *ConnectionRegistry) Reset() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*connEntry)
	r.mu.Unlock()

	for _, e := range entries {
		r.closeConn(e.conn)
	}
	r.metrics.SetConnections(0)
}

func (r *ConnectionRegistry) closeConn(c *Connection) {
	if err := c.conn.Close(); err != nil {
		r.logger.Warn("Failed to close connection", "server", c.Address, "error", err)
	}
}
