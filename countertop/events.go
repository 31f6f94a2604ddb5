package countertop

import (
	"sync"

	"github.com/c360/countertop/payload"
)

// EventType names an event a listener can subscribe to.
type EventType string

const (
	// EventPayload fires after a worker published an appliance output.
	EventPayload EventType = "payload"
	// EventError fires when a message, emission or generator fails.
	EventError EventType = "error"
	// EventState fires on coordinator and station state changes.
	EventState EventType = "state"
)

// Event describes something that happened inside the coordinator.
// Fields irrelevant to Type are zero.
type Event struct {
	Type      EventType
	StationID string
	WorkerID  string
	StreamID  string
	Topic     string
	Payload   payload.Payload
	Err       error
	State     State
}

// Listener receives events. Listeners run synchronously on the emitting
// goroutine and must not block.
type Listener func(Event)

// events is a listener table. Emitted events are passed on to parent, so a
// station's events reach listeners registered on the coordinator.
type events struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
	parent    *events
}

func newEvents(parent *events) *events {
	return &events{listeners: make(map[EventType][]Listener), parent: parent}
}

func (e *events) on(t EventType, l Listener) {
	e.mu.Lock()
	e.listeners[t] = append(e.listeners[t], l)
	e.mu.Unlock()
}

func (e *events) emit(ev Event) {
	for cur := e; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		ls := cur.listeners[ev.Type]
		cur.mu.RUnlock()
		for _, l := range ls {
			l(ev)
		}
	}
}
