package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/countertop/countertop"
	"github.com/c360/countertop/payload"
)

const (
	clientQueueSize = 64
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
)

// eventView is the JSON form of a countertop.Event sent on /events.
// Payloads use the text codec encoding.
type eventView struct {
	Type    countertop.EventType `json:"type"`
	Time    time.Time            `json:"time"`
	Station string               `json:"station_id,omitempty"`
	Worker  string               `json:"worker_id,omitempty"`
	Stream  string               `json:"stream_id,omitempty"`
	Topic   string               `json:"topic,omitempty"`
	State   string               `json:"state,omitempty"`
	Error   string               `json:"error,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

func viewEvent(ev countertop.Event, now time.Time) eventView {
	v := eventView{
		Type:    ev.Type,
		Time:    now,
		Station: ev.StationID,
		Worker:  ev.WorkerID,
		Stream:  ev.StreamID,
		Topic:   ev.Topic,
	}
	if ev.Type == countertop.EventState {
		v.State = ev.State.String()
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	if ev.Payload.Valid() {
		if data, err := payload.Text.Encode(ev.Payload); err == nil {
			v.Payload = data
		}
	}
	return v
}

type eventClient struct {
	send  chan []byte
	types map[countertop.EventType]bool
}

func (c *eventClient) wants(t countertop.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

// eventHub fans coordinator events out to websocket clients. A client
// whose queue is full misses the event.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	dropped atomic.Uint64
	now     func() time.Time
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*eventClient]struct{}), now: time.Now}
}

// publish is a countertop.Listener.
func (h *eventHub) publish(ev countertop.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(viewEvent(ev, h.now()))
	if err != nil {
		return
	}
	for c := range h.clients {
		if !c.wants(ev.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *eventHub) add(types []countertop.EventType) *eventClient {
	c := &eventClient{send: make(chan []byte, clientQueueSize), types: make(map[countertop.EventType]bool)}
	for _, t := range types {
		c.types[t] = true
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *eventHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// parseEventTypes reads ?type=payload,state. Empty means every type.
func parseEventTypes(raw string) ([]countertop.EventType, bool) {
	var out []countertop.EventType
	for _, part := range strings.Split(raw, ",") {
		switch t := countertop.EventType(strings.TrimSpace(part)); t {
		case "":
		case countertop.EventPayload, countertop.EventError, countertop.EventState:
			out = append(out, t)
		default:
			return nil, false
		}
	}
	return out, true
}

// events upgrades to a websocket and streams events until the client
// goes away.
func (g *Gateway) events(w http.ResponseWriter, r *http.Request) {
	types, ok := parseEventTypes(r.URL.Query().Get("type"))
	if !ok {
		g.writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := g.hub.add(types)
	defer g.hub.remove(client)
	g.logger.Debug("event client connected", "remote", r.RemoteAddr, "clients", g.hub.len())

	// Reads only detect the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-g.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
