package testutil

import (
	"context"
	"sync"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/payload"
)

// MockAppliance is a configurable appliance for tests. Nil funcs fall back
// to healthy, accepting, pass-nothing behavior.
type MockAppliance struct {
	mu sync.Mutex

	HealthFunc func(ctx context.Context) bool
	CheckFunc  func(p payload.Payload) bool
	StartFunc  func(ctx context.Context) bool
	StopFunc   func(ctx context.Context) bool
	InvokeFunc func(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error)

	HealthCalls int
	StartCalls  int
	StopCalls   int
	InvokeCalls int
	Ingested    []payload.Payload
}

// NewMockAppliance creates a healthy mock that consumes everything.
func NewMockAppliance() *MockAppliance {
	return &MockAppliance{}
}

// HealthCheck implements appliance.Appliance.
func (m *MockAppliance) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	m.HealthCalls++
	fn := m.HealthFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return true
}

// CheckPayload implements appliance.Appliance.
func (m *MockAppliance) CheckPayload(p payload.Payload) bool {
	if m.CheckFunc != nil {
		return m.CheckFunc(p)
	}
	return true
}

// Start implements appliance.Appliance.
func (m *MockAppliance) Start(ctx context.Context) bool {
	m.mu.Lock()
	m.StartCalls++
	fn := m.StartFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return true
}

// Stop implements appliance.Appliance.
func (m *MockAppliance) Stop(ctx context.Context) bool {
	m.mu.Lock()
	m.StopCalls++
	fn := m.StopFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return true
}

// Invoke implements appliance.Appliance. Without InvokeFunc every buffered
// payload is recorded and consumed.
func (m *MockAppliance) Invoke(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error) {
	m.mu.Lock()
	m.InvokeCalls++
	m.Ingested = append(m.Ingested, buf.ToSlice()...)
	fn := m.InvokeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, buf, out)
	}
	return &payload.Array{}, nil
}

// Calls returns a snapshot of the call counters.
func (m *MockAppliance) Calls() (health, start, stop, invoke int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthCalls, m.StartCalls, m.StopCalls, m.InvokeCalls
}

// IngestedPayloads returns a copy of every payload seen by Invoke.
func (m *MockAppliance) IngestedPayloads() []payload.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payload.Payload, len(m.Ingested))
	copy(out, m.Ingested)
	return out
}

// Descriptor builds a descriptor whose factory hands out the given mock
// for every instance, or a fresh healthy mock when mock is nil.
func Descriptor(name string, inputs, outputs []string, mock *MockAppliance) appliance.Descriptor {
	return appliance.Descriptor{
		Name:        name,
		InputTypes:  inputs,
		OutputTypes: outputs,
		Factory: func(appliance.Settings) (appliance.Appliance, error) {
			if mock != nil {
				return mock, nil
			}
			return NewMockAppliance(), nil
		},
	}
}

// Relay returns an InvokeFunc that re-emits every buffered payload with
// its type replaced by outType.
func Relay(outType string) func(context.Context, *payload.Array, appliance.Emitter) (*payload.Array, error) {
	return func(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error) {
		for _, p := range buf.ToSlice() {
			params := p.Params()
			params.Type = outType
			params.Origin = ""
			next, err := payload.New(params)
			if err != nil {
				return buf, err
			}
			if err := out.Emit(ctx, next); err != nil {
				return buf, err
			}
		}
		return &payload.Array{}, nil
	}
}
