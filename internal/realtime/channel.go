// Package realtime is the presence and broadcast transport: named channels
// on which clients track per-key state and exchange raw broadcast events.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Reserved presence events. Every other event name is a raw broadcast.
const (
	EventSync  = "sync"
	EventJoin  = "join"
	EventLeave = "leave"
)

// Message is what handlers receive. For join and leave, Key is the
// presence key and Payload its tracked state; for sync, Payload is a JSON
// object of every tracked key.
type Message struct {
	Event   string          `json:"event"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Handler func(Message)

type Channel interface {
	Name() string
	Track(ctx context.Context, key string, state any) error
	Untrack(ctx context.Context, key string) error
	Broadcast(ctx context.Context, event string, payload any) error
	// On registers h for event and returns the function removing it.
	On(event string, h Handler) func()
	Subscribe(ctx context.Context) error
	Unsubscribe() error
	State(ctx context.Context) (map[string]json.RawMessage, error)
}

type registry struct {
	mu       sync.RWMutex
	next     int
	handlers map[string]map[int]Handler
}

func (r *registry) on(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]map[int]Handler)
	}
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]Handler)
	}
	id := r.next
	r.next++
	r.handlers[event][id] = h

	return func() {
		r.mu.Lock()
		delete(r.handlers[event], id)
		r.mu.Unlock()
	}
}

func (r *registry) dispatch(msg Message) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[msg.Event]))
	for _, h := range r.handlers[msg.Event] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(msg)
	}
}
