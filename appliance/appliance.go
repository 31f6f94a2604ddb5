// Package appliance defines the contract every Countertop processing unit
// implements, the immutable descriptor that declares its payload types, and
// the Host that drives one appliance instance on behalf of a worker.
//
// An appliance never talks to the broker. It receives payloads through
// Host.Ingest, keeps whatever it has not consumed yet in its payload.Array
// buffer, and emits results through the Emitter it is handed:
//
//	func (s *Splitter) Invoke(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error) {
//	    for _, p := range buf.ToSlice() {
//	        if err := out.Emit(ctx, transform(p)); err != nil {
//	            return buf, err
//	        }
//	    }
//	    return &payload.Array{}, nil
//	}
package appliance

import (
	"context"

	"github.com/c360/countertop/payload"
)

// Appliance is the capability set of a processing unit. Declared input and
// output types live on its Descriptor, not on the instance.
type Appliance interface {
	// HealthCheck reports whether the appliance can run.
	HealthCheck(ctx context.Context) bool
	// CheckPayload reports whether p may be admitted to the buffer.
	CheckPayload(p payload.Payload) bool
	// Start prepares the appliance; false aborts the owning worker's start.
	Start(ctx context.Context) bool
	// Stop releases resources.
	Stop(ctx context.Context) bool
	// Invoke consumes what it can from buf, emits zero or more payloads
	// and returns the unconsumed remainder.
	Invoke(ctx context.Context, buf *payload.Array, out Emitter) (*payload.Array, error)
}

// Generator is implemented by source appliances that produce payloads
// without input. Generate runs until ctx is cancelled or the source is
// exhausted.
type Generator interface {
	Generate(ctx context.Context, out Emitter) error
}

// Emitter accepts appliance output. Emit blocks while the worker's
// outbound queue is full.
type Emitter interface {
	Emit(ctx context.Context, p payload.Payload) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, p payload.Payload) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, p payload.Payload) error {
	return f(ctx, p)
}
