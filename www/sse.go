package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"simplemes/engine"
)

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type sseClient struct {
	events      chan SSEEvent
	workstation string
}

// EventHub manages SSE client connections and broadcasts.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	subID     engine.SubscriberID
	bus       *engine.EventBus
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop shuts down the event hub and detaches it from the engine.
func (h *EventHub) Stop() {
	select {
	case <-h.stopChan:
		return
	default:
		close(h.stopChan)
	}
	if h.bus != nil {
		h.bus.Unsubscribe(h.subID)
	}
}

// Broadcast sends an event to all connected clients. Events are dropped
// when the buffer is full.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

func (h *EventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.workstation != "" && !forWorkstation(evt, c.workstation) {
					continue
				}
				select {
				case c.events <- evt:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forWorkstation reports whether evt concerns ws. Events that carry no
// workstation go to everyone.
func forWorkstation(evt SSEEvent, ws string) bool {
	switch p := evt.Data.(type) {
	case engine.SessionOpenedEvent:
		return p.WorkstationID == ws
	case engine.SessionClosedEvent:
		return p.WorkstationID == ws
	case engine.StepFinishedEvent:
		return p.WorkstationID == ws
	case engine.OrderStatusChangedEvent:
		return p.StationID == "" || p.StationID == ws
	}
	return true
}

// HandleSSE is the HTTP handler for SSE connections. ?workstation=ID
// narrows the stream to one station.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64), workstation: r.URL.Query().Get("workstation")}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	h.bus = eng.Events
	h.subID = eng.Events.Subscribe(func(evt engine.Event) {
		h.Broadcast(SSEEvent{Type: evt.Type.String(), Data: evt.Payload})
	})
}
