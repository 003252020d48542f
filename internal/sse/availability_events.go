package sse

import (
	"context"
	"sync"

	"ms-events/internal/availability"
)

// AvailabilityEmitter manages SSE connections and snapshot broadcasting
// per event. Every attendance change pushes a freshly computed snapshot
// to the event's subscribers.
type AvailabilityEmitter struct {
	// key: eventID, value: slice of client channels
	eventClients     map[string][]chan availability.Snapshot
	eventClientMutex sync.RWMutex
}

func NewAvailabilityEmitter() *AvailabilityEmitter {
	return &AvailabilityEmitter{
		eventClients: make(map[string][]chan availability.Snapshot),
	}
}

// SubscribeToEvent adds a client to the event's availability stream.
func (e *AvailabilityEmitter) SubscribeToEvent(ctx context.Context, eventID string) chan availability.Snapshot {
	clientChan := make(chan availability.Snapshot, 10)

	e.eventClientMutex.Lock()
	if e.eventClients[eventID] == nil {
		e.eventClients[eventID] = []chan availability.Snapshot{}
	}
	e.eventClients[eventID] = append(e.eventClients[eventID], clientChan)
	e.eventClientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeEventClient(eventID, clientChan)
	}()

	return clientChan
}

// Broadcast pushes a snapshot to all subscribers of the event.
func (e *AvailabilityEmitter) Broadcast(eventID string, snap availability.Snapshot) {
	e.eventClientMutex.RLock()
	clients := e.eventClients[eventID]
	e.eventClientMutex.RUnlock()

	for _, clientChan := range clients {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- snap:
			// Successfully sent
		default:
			// Channel buffer full, skip this client for now
		}
	}
}

func (e *AvailabilityEmitter) removeEventClient(eventID string, clientChan chan availability.Snapshot) {
	e.eventClientMutex.Lock()
	defer e.eventClientMutex.Unlock()

	clients := e.eventClients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.eventClients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.eventClients[eventID]) == 0 {
		delete(e.eventClients, eventID)
	}
}

// GetEventClientCount returns the number of clients currently subscribed to an event
func (e *AvailabilityEmitter) GetEventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}
