// Package events is the process-wide typed event bus shared by the user
// service, the presence directory and the WebSocket hub.
package events

import (
	"sync"
	"time"
)

// Topic fans a value of type T out to every current subscriber.
type Topic[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns the function that removes it again.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]func(T))
	}
	id := t.next
	t.next++
	t.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Publish calls every subscriber synchronously, outside the topic lock.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of live subscriptions.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// AvatarUpdated is raised after a profile picture upload succeeds.
type AvatarUpdated struct {
	UserID string
	URL    string
}

// StatusChanged is raised whenever the live presence of a user changes.
type StatusChanged struct {
	UserID   string
	Status   string
	LastSeen time.Time
}

type Bus struct {
	Avatars  Topic[AvatarUpdated]
	Statuses Topic[StatusChanged]
}

func New() *Bus {
	return &Bus{}
}
