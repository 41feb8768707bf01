package www

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemes/engine"
)

func TestForWorkstation(t *testing.T) {
	opened := SSEEvent{Type: "session-opened", Data: engine.SessionOpenedEvent{WorkstationID: "WS-001"}}
	assert.True(t, forWorkstation(opened, "WS-001"))
	assert.False(t, forWorkstation(opened, "WS-002"))

	status := SSEEvent{Type: "order-status", Data: engine.OrderStatusChangedEvent{}}
	assert.True(t, forWorkstation(status, "WS-002"), "unassigned orders go to every station")

	assert.True(t, forWorkstation(SSEEvent{Type: "production", Data: engine.ProductionReportedEvent{}}, "WS-002"))
}

func TestEventHubFiltersClients(t *testing.T) {
	hub := NewEventHub()
	hub.Start()
	defer hub.Stop()

	all := &sseClient{events: make(chan SSEEvent, 4)}
	ws2 := &sseClient{events: make(chan SSEEvent, 4), workstation: "WS-002"}
	hub.register(all)
	hub.register(ws2)
	require.Equal(t, 2, hub.clientCount())

	hub.Broadcast(SSEEvent{Type: "session-opened", Data: engine.SessionOpenedEvent{WorkstationID: "WS-001"}})

	select {
	case evt := <-all.events:
		assert.Equal(t, "session-opened", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("unfiltered client got nothing")
	}
	select {
	case evt := <-ws2.events:
		t.Fatalf("filtered client got %s", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}

	hub.unregister(ws2)
	assert.Equal(t, 1, hub.clientCount())
}
