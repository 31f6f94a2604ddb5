package appliance

import (
	"context"
	"sync"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
)

// Host owns the payload buffer of one appliance instance and feeds it.
// Ingest calls are serialized.
type Host struct {
	name   string
	app    Appliance
	outbox *Outbox

	mu     sync.Mutex
	buffer *payload.Array
	origin string
}

// NewHost wraps app. Emitted payloads are pushed to outbox.
func NewHost(name string, app Appliance, outbox *Outbox) *Host {
	return &Host{
		name:   name,
		app:    app,
		outbox: outbox,
		buffer: &payload.Array{},
	}
}

// Appliance returns the hosted instance.
func (h *Host) Appliance() Appliance {
	return h.app
}

// Buffered is the number of payloads the appliance has not consumed.
func (h *Host) Buffered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffer.Len()
}

// Ingest admits p, buffers it and runs the appliance's transform step over
// the buffer, which is then replaced by the returned remainder.
func (h *Host) Ingest(ctx context.Context, p payload.Payload) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.app.CheckPayload(p) {
		return errors.NewValidationError(h.name, "Ingest", "payload does not satisfy appliance ingestion conditions",
			"type "+p.Type())
	}
	if err := h.buffer.Insert(p); err != nil {
		return err
	}
	h.origin = p.Origin()

	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				err = errors.NewProcessingError(h.name, re, nil)
				return
			}
			err = errors.NewProcessingError(h.name, nil, r)
		}
	}()

	rest, err := h.app.Invoke(ctx, h.buffer, h.emitter())
	if err != nil {
		var ce *errors.ClassifiedError
		if errors.As(err, &ce) {
			return err
		}
		return errors.NewProcessingError(h.name, err, nil)
	}
	if rest == nil {
		rest = &payload.Array{}
	}
	h.buffer = rest
	return nil
}

// Generate runs a Generator appliance, stamping and queueing its output.
// Appliances that are not generators return immediately.
func (h *Host) Generate(ctx context.Context) error {
	g, ok := h.app.(Generator)
	if !ok {
		return nil
	}
	return g.Generate(ctx, EmitterFunc(func(ctx context.Context, p payload.Payload) error {
		return h.outbox.Push(ctx, p)
	}))
}

// emitter fills in a missing origin with that of the payload being ingested.
func (h *Host) emitter() Emitter {
	origin := h.origin
	return EmitterFunc(func(ctx context.Context, p payload.Payload) error {
		if !p.Valid() {
			return errors.NewValidationError(h.name, "Emit", "appliance emitted a zero payload")
		}
		if p.Origin() == "" {
			p = p.WithOrigin(origin)
		}
		return h.outbox.Push(ctx, p)
	})
}
