package appliance

import (
	"context"
	"sync"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
)

// DefaultOutboxCapacity bounds the queue between an appliance and the
// publisher draining it.
const DefaultOutboxCapacity = 64

// Outbox is the bounded queue between "appliance emits" and "worker
// publishes". Push blocks while the queue is full. Flush waits until every
// pushed payload has been handled by Drain and reports publish failures.
type Outbox struct {
	items chan payload.Payload

	mu      sync.Mutex
	pending int
	drained chan struct{}
	errs    []error
	closed  bool
}

// NewOutbox creates an outbox holding at most capacity queued payloads.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{items: make(chan payload.Payload, capacity)}
}

// Push queues p for publishing.
func (o *Outbox) Push(ctx context.Context, p payload.Payload) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.ErrShuttingDown
	}
	if o.pending == 0 {
		o.drained = make(chan struct{})
	}
	o.pending++
	o.mu.Unlock()

	select {
	case o.items <- p:
		return nil
	case <-ctx.Done():
		o.done(nil)
		return ctx.Err()
	}
}

// Len is the number of queued payloads not yet picked up by Drain.
func (o *Outbox) Len() int {
	return len(o.items)
}

// Drain hands queued payloads to publish until ctx is cancelled.
func (o *Outbox) Drain(ctx context.Context, publish func(context.Context, payload.Payload) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-o.items:
			o.done(publish(ctx, p))
		}
	}
}

// Flush blocks until nothing is pending and returns the publish errors
// collected since the previous Flush.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	if o.pending == 0 {
		err := o.takeErrs()
		o.mu.Unlock()
		return err
	}
	wait := o.drained
	o.mu.Unlock()

	select {
	case <-wait:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.takeErrs()
}

// Close rejects further pushes.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *Outbox) done(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		o.errs = append(o.errs, err)
	}
	o.pending--
	if o.pending == 0 {
		close(o.drained)
	}
}

func (o *Outbox) takeErrs() error {
	err := errors.Join(o.errs...)
	o.errs = nil
	return err
}
