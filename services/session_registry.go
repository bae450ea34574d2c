package services

import (
	"log"
	"sync"
)

// Event is one outbound push to a participant's live connection.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Notifier is the push boundary the state machines depend on. Delivery is
// best-effort; a participant without a live connection simply misses the push.
type Notifier interface {
	Send(participantID, event string, payload interface{})
}

// SessionRegistry maps a participant id to its current live event channel.
// It is mutated only by the connection lifecycle (the SSE handler); the
// orchestrator components only Send.
type SessionRegistry struct {
	mu    sync.Mutex
	conns map[string]chan Event
}

const sessionBufferSize = 32

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{conns: make(map[string]chan Event)}
}

// Register attaches a fresh channel for the participant, displacing any
// previous connection (last connection wins).
func (r *SessionRegistry) Register(participantID string) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[participantID]; ok {
		close(old)
	}
	ch := make(chan Event, sessionBufferSize)
	r.conns[participantID] = ch
	return ch
}

// Unregister drops the participant's channel if it is still the one registered.
func (r *SessionRegistry) Unregister(participantID string, ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[participantID]
	if !ok || (<-chan Event)(current) != ch {
		return
	}
	delete(r.conns, participantID)
	close(current)
}

// Send pushes one event to the participant if a connection is registered.
// A full buffer drops the event rather than blocking orchestration.
func (r *SessionRegistry) Send(participantID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.conns[participantID]
	if !ok {
		return
	}

	// The send stays under the lock: it never blocks, and the lock keeps a
	// concurrent Register from closing the channel mid-send.
	select {
	case ch <- Event{Name: event, Payload: payload}:
	default:
		log.Printf("⚠️ [REGISTRY] dropping %s for %s: buffer full", event, participantID)
	}
}

// Connected reports whether the participant currently has a live connection.
func (r *SessionRegistry) Connected(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[participantID]
	return ok
}
