// Package memory is an in-process broker. Topics keep their messages for
// the topic's retention window and replay them to groups that subscribe
// later, which approximates a log-based broker closely enough for tests
// and single-process development runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
)

// DefaultInboxSize bounds each consumer group's undelivered messages.
const DefaultInboxSize = 128

// Option configures a Bus.
type Option func(*Bus)

// WithInboxSize sets the per-group queue bound.
func WithInboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

// WithClock replaces time.Now for retention bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

type entry struct {
	at  time.Time
	msg broker.Message
}

type topic struct {
	name      string
	retention time.Duration
	log       []entry
	groups    map[string]*group
}

// group is shared by every consumer handle with the same id. While no
// handle is connected, publishes skip it.
type group struct {
	id      string
	inbox   chan broker.Message
	members int
	idle    chan struct{}
}

type target struct {
	inbox chan broker.Message
	idle  chan struct{}
}

// Bus is the shared in-process broker.
type Bus struct {
	mu        sync.Mutex
	topics    map[string]*topic
	groups    map[string]*group
	subs      map[string][]string
	inboxSize int
	now       func() time.Time
}

var _ broker.Broker = (*Bus)(nil)

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:    make(map[string]*topic),
		groups:    make(map[string]*group),
		subs:      make(map[string][]string),
		inboxSize: DefaultInboxSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Admin returns a new admin handle.
func (b *Bus) Admin() broker.Admin { return &admin{bus: b} }

// Producer returns a new producer handle.
func (b *Bus) Producer() broker.Producer { return &producer{bus: b} }

// Consumer returns a new consumer handle for groupID.
func (b *Bus) Consumer(groupID string) broker.Consumer {
	return &consumer{bus: b, groupID: groupID}
}

// Topics lists created topics in name order.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.topics))
	for name := range b.topics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subscriptions lists the topics groupID subscribed to, in order.
func (b *Bus) Subscriptions(groupID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.subs[groupID])
}

// Retained returns the messages currently held by a topic.
func (b *Bus) Retained(name string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	b.prune(t)
	out := make([]broker.Message, len(t.log))
	for i, e := range t.log {
		out[i] = e.msg
	}
	return out
}

// Publish sends value to a topic without a producer handle. Groups with
// no connected consumer are skipped.
func (b *Bus) Publish(ctx context.Context, name string, value []byte) error {
	msg := broker.Message{Topic: name, Value: slices.Clone(value)}

	b.mu.Lock()
	t := b.ensure(name, broker.DefaultRetention)
	t.log = append(t.log, entry{at: b.now(), msg: msg})
	b.prune(t)
	targets := make([]target, 0, len(t.groups))
	for _, g := range t.groups {
		if g.members > 0 {
			targets = append(targets, target{inbox: g.inbox, idle: g.idle})
		}
	}
	b.mu.Unlock()

	for _, tg := range targets {
		select {
		case tg.inbox <- msg:
		case <-tg.idle:
			// The last member disconnected while we waited.
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "memory", "Publish", "deliver message")
		}
	}
	return nil
}

func (b *Bus) ensure(name string, retention time.Duration) *topic {
	t, ok := b.topics[name]
	if !ok {
		if retention <= 0 {
			retention = broker.DefaultRetention
		}
		t = &topic{name: name, retention: retention, groups: make(map[string]*group)}
		b.topics[name] = t
	}
	return t
}

func (b *Bus) prune(t *topic) {
	cutoff := b.now().Add(-t.retention)
	i := 0
	for i < len(t.log) && t.log[i].at.Before(cutoff) {
		i++
	}
	t.log = t.log[i:]
}

func (b *Bus) join(id string) *group {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[id]
	if !ok {
		g = &group{id: id, inbox: make(chan broker.Message, b.inboxSize)}
		b.groups[id] = g
	}
	g.members++
	if g.members == 1 {
		g.idle = make(chan struct{})
	}
	return g
}

func (b *Bus) leave(g *group) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g.members--
	if g.members == 0 {
		close(g.idle)
	}
}

// subscribe attaches g to topics and returns retained messages to replay.
func (b *Bus) subscribe(g *group, names []string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []broker.Message
	for _, name := range names {
		t := b.ensure(name, broker.DefaultRetention)
		if _, already := t.groups[g.id]; already {
			continue
		}
		t.groups[g.id] = g
		b.subs[g.id] = append(b.subs[g.id], name)

		b.prune(t)
		for _, e := range t.log {
			replay = append(replay, e.msg)
		}
	}
	return replay
}

type handle struct {
	mu        sync.Mutex
	connected bool
}

func (h *handle) Connect(context.Context) error {
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *handle) Disconnect(context.Context) error {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
	return nil
}

func (h *handle) check(component, method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return errors.WrapTransient(errors.ErrNoConnection, component, method, "connection check")
	}
	return nil
}

type admin struct {
	handle
	bus *Bus
}

func (a *admin) CreateTopics(_ context.Context, topics []broker.TopicConfig) error {
	if err := a.check("memory.Admin", "CreateTopics"); err != nil {
		return err
	}
	a.bus.mu.Lock()
	defer a.bus.mu.Unlock()
	for _, tc := range topics {
		a.bus.ensure(tc.Name, tc.Retention)
	}
	return nil
}

type producer struct {
	handle
	bus *Bus
}

func (p *producer) Send(ctx context.Context, topic string, value []byte) error {
	if err := p.check("memory.Producer", "Send"); err != nil {
		return err
	}
	return p.bus.Publish(ctx, topic, value)
}

type consumer struct {
	handle
	bus     *Bus
	groupID string
	grp     *group
	stop    chan struct{}
}

func (c *consumer) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	c.grp = c.bus.join(c.groupID)
	c.stop = make(chan struct{})
	c.connected = true
	return nil
}

func (c *consumer) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	close(c.stop)
	c.bus.leave(c.grp)
	c.connected = false
	return nil
}

func (c *consumer) Subscribe(ctx context.Context, topics []string) error {
	if err := c.check("memory.Consumer", "Subscribe"); err != nil {
		return err
	}
	replay := c.bus.subscribe(c.grp, topics)
	for _, msg := range replay {
		select {
		case c.grp.inbox <- msg:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "memory.Consumer", "Subscribe", "replay retained")
		}
	}
	return nil
}

func (c *consumer) Run(ctx context.Context, h broker.Handler) error {
	if err := c.check("memory.Consumer", "Run"); err != nil {
		return err
	}
	c.mu.Lock()
	inbox, stop := c.grp.inbox, c.stop
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case msg := <-inbox:
			if err := h(ctx, msg); err != nil && errors.IsFatal(err) {
				return err
			}
		}
	}
}
