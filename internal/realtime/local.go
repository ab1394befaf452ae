package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrClosed = errors.New("channel unsubscribed")

// LocalChannel is an in-process Channel. Handlers run synchronously on the
// caller's goroutine.
type LocalChannel struct {
	registry
	name string

	mu     sync.Mutex
	state  map[string]json.RawMessage
	closed bool
}

func NewLocalChannel(name string) *LocalChannel {
	return &LocalChannel{name: name, state: make(map[string]json.RawMessage)}
}

func (c *LocalChannel) Name() string { return c.name }

func (c *LocalChannel) Track(_ context.Context, key string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state[key] = data
	c.mu.Unlock()

	c.dispatch(Message{Event: EventJoin, Key: key, Payload: data})
	return nil
}

func (c *LocalChannel) Untrack(_ context.Context, key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev, ok := c.state[key]
	delete(c.state, key)
	c.mu.Unlock()

	if ok {
		c.dispatch(Message{Event: EventLeave, Key: key, Payload: prev})
	}
	return nil
}

func (c *LocalChannel) Broadcast(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.dispatch(Message{Event: event, Payload: data})
	return nil
}

func (c *LocalChannel) On(event string, h Handler) func() {
	return c.on(event, h)
}

func (c *LocalChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	state, err := c.State(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.dispatch(Message{Event: EventSync, Payload: data})
	return nil
}

func (c *LocalChannel) Unsubscribe() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *LocalChannel) State(context.Context) (map[string]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out, nil
}
