package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/natspad/errors"
	"github.com/c360/natspad/natsclient"
)

// subscriptionBuffer is the per-subscription channel size.
const subscriptionBuffer = 256

// Broker is an in-memory message broker, safe for concurrent use.
type Broker struct {
	mu          sync.Mutex
	subs        map[int]*Subscription
	conns       map[*Conn]struct{}
	unreachable map[string]bool
	connects    map[string]int
	published   []*nats.Msg
	subscribeFn func(addr, subject string) error
	nextID      int
}

var _ natsclient.Connector = (*Broker)(nil)

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subs:        make(map[int]*Subscription),
		conns:       make(map[*Conn]struct{}),
		unreachable: make(map[string]bool),
		connects:    make(map[string]int),
	}
}

// Connect opens a connection unless ep's address is marked unreachable.
func (b *Broker) Connect(ctx context.Context, ep natsclient.Endpoint) (natsclient.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unreachable[ep.Address] {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Broker", "Connect",
			fmt.Sprintf("connect to %s", ep.Address))
	}

	b.nextID++
	b.connects[ep.Address]++
	c := &Conn{broker: b, addr: ep.Address, id: b.nextID}
	b.conns[c] = struct{}{}
	return c, nil
}

// SetUnreachable makes future connects to addr fail (or succeed again).
func (b *Broker) SetUnreachable(addr string, unreachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable[addr] = unreachable
}

// FailSubscribe installs fn to decide whether a subscribe fails; nil clears it.
func (b *Broker) FailSubscribe(fn func(addr, subject string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeFn = fn
}

// ConnectCount returns how many connections were ever opened to addr
func (b *Broker) ConnectCount(addr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects[addr]
}

// OpenConnections returns the number of open connections to addr
func (b *Broker) OpenConnections(addr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.conns {
		if c.addr == addr {
			n++
		}
	}
	return n
}

// Subscribers returns the number of live subscriptions whose subject
// pattern is exactly subject.
func (b *Broker) Subscribers(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.subject == subject {
			n++
		}
	}
	return n
}

// Published returns the messages published on subject, in order.
func (b *Broker) Published(subject string) []*nats.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*nats.Msg
	for _, m := range b.published {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// Drop closes every connection to addr as if the server went away. Status
// listeners see StatusDisconnected.
func (b *Broker) Drop(addr string) {
	b.mu.Lock()
	var dropped []*Conn
	for c := range b.conns {
		if c.addr == addr {
			dropped = append(dropped, c)
		}
	}
	b.mu.Unlock()

	for _, c := range dropped {
		c.close(errors.ErrConnectionLost)
	}
}

// Interrupt reports a transient outage on every connection to addr:
// StatusReconnecting followed by StatusConnected. Subscriptions survive.
func (b *Broker) Interrupt(addr string) {
	b.mu.Lock()
	var hit []*Conn
	for c := range b.conns {
		if c.addr == addr {
			hit = append(hit, c)
		}
	}
	b.mu.Unlock()

	for _, c := range hit {
		c.notify(natsclient.StatusReconnecting, errors.ErrConnectionLost)
		c.notify(natsclient.StatusConnected, nil)
	}
}

func (b *Broker) subscribe(c *Conn, subject string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return nil, errors.ErrConnectionLost
	}
	if b.subscribeFn != nil {
		if err := b.subscribeFn(c.addr, subject); err != nil {
			return nil, err
		}
	}

	b.nextID++
	s := &Subscription{
		broker:  b,
		conn:    c,
		id:      b.nextID,
		subject: subject,
		ch:      make(chan *nats.Msg, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	b.subs[s.id] = s
	return s, nil
}

// deliver routes msg to every matching subscription on a connection to the
// same address and reports how many received it.
func (b *Broker) deliver(addr string, msg *nats.Msg) int {
	b.mu.Lock()
	b.published = append(b.published, msg)
	var targets []*Subscription
	for _, s := range b.subs {
		if s.conn.addr == addr && SubjectMatches(s.subject, msg.Subject) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		cp := *msg
		cp.Sub = nil
		select {
		case s.ch <- &cp:
		case <-s.done:
		}
	}
	return len(targets)
}

func (b *Broker) hasSubscriber(addr, subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.conn.addr == addr && SubjectMatches(s.subject, subject) {
			return true
		}
	}
	return false
}

func (b *Broker) newInbox() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return fmt.Sprintf("_INBOX.%d", b.nextID)
}

// SubjectMatches reports whether subject matches pattern, where '*' matches
// one token and a trailing '>' matches one or more tokens.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// Conn is one connection to the in-memory broker.
type Conn struct {
	broker *Broker
	addr   string
	id     int

	mu       sync.Mutex
	closed   bool
	onStatus func(natsclient.ConnectionStatus, error)
}

var (
	_ natsclient.Conn           = (*Conn)(nil)
	_ natsclient.Describer      = (*Conn)(nil)
	_ natsclient.StatusNotifier = (*Conn)(nil)
)

// Describe returns "[id@address]"
func (c *Conn) Describe() string {
	return fmt.Sprintf("[%d@%s]", c.id, c.addr)
}

// OnStatusChange registers the status listener
func (c *Conn) OnStatusChange(fn func(natsclient.ConnectionStatus, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Closed reports whether the connection was closed
func (c *Conn) Closed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

// Subscribe subscribes to subject
func (c *Conn) Subscribe(subject string) (natsclient.Subscription, error) {
	if subject == "" {
		return nil, errors.ErrSubjectRequired
	}
	return c.broker.subscribe(c, subject)
}

// Publish delivers data to every matching subscription
func (c *Conn) Publish(subject string, data []byte, headers map[string]string) error {
	return c.publish(&nats.Msg{Subject: subject, Data: data, Header: natsclient.BuildHeader(headers)})
}

func (c *Conn) publish(msg *nats.Msg) error {
	if c.Closed() {
		return errors.ErrConnectionLost
	}
	if msg.Subject == "" {
		return errors.ErrSubjectRequired
	}
	c.broker.deliver(c.addr, msg)
	return nil
}

// Request publishes with a reply inbox and waits for the first response.
func (c *Conn) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*nats.Msg, error) {
	if c.Closed() {
		return nil, errors.ErrConnectionLost
	}
	if !c.broker.hasSubscriber(c.addr, subject) {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoResponders, subject)
	}

	inbox, err := c.broker.subscribe(c, c.broker.newInbox())
	if err != nil {
		return nil, err
	}
	defer inbox.Unsubscribe()

	msg := &nats.Msg{Subject: subject, Reply: inbox.subject, Data: data, Header: natsclient.BuildHeader(headers)}
	if err := c.publish(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-inbox.ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", errors.ErrRequestTimeout, subject)
	}
}

// Close closes the connection and its subscriptions
func (c *Conn) Close() error {
	c.close(nil)
	return nil
}

func (c *Conn) close(reason error) {
	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return
	}
	c.closed = true
	delete(b.conns, c)
	for id, s := range b.subs {
		if s.conn == c {
			delete(b.subs, id)
			s.stop()
		}
	}
	b.mu.Unlock()

	if reason == nil {
		reason = errors.ErrConnectionLost
	}
	// nats.go reports closure from its own goroutine
	go c.notify(natsclient.StatusDisconnected, reason)
}

func (c *Conn) notify(status natsclient.ConnectionStatus, err error) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(status, err)
	}
}

// Subscription is a live subscription on the in-memory broker.
type Subscription struct {
	broker  *Broker
	conn    *Conn
	id      int
	subject string
	ch      chan *nats.Msg
	done    chan struct{}
	once    sync.Once
}

// Messages returns the delivery channel. It is never closed.
func (s *Subscription) Messages() <-chan *nats.Msg {
	return s.ch
}

// Unsubscribe removes the subscription; repeated calls are no-ops.
func (s *Subscription) Unsubscribe() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
	s.stop()
	return nil
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
