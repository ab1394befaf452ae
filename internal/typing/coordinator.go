// Package typing broadcasts self-expiring "is typing" signals between the
// two participants of a conversation.
package typing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"panelchat/internal/realtime"
)

// Signal is the payload broadcast on the typing channel.
type Signal struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RecipientID string    `json:"recipient_id"`
	IsTyping    bool      `json:"is_typing"`
	At          time.Time `json:"at"`
}

// ChannelKey scopes a conversation independent of who started it.
func ChannelKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "typing:" + strings.Join(pair, ":")
}

// Coordinator publishes the local user's typing state for one conversation.
type Coordinator struct {
	ch        realtime.Channel
	key       string
	self      string
	name      string
	recipient string
	quiet     time.Duration

	mu        sync.Mutex
	typing    bool
	published time.Time
	timer     *time.Timer
	gen       int
}

func NewCoordinator(ch realtime.Channel, self, displayName, recipientID string, quiet time.Duration) *Coordinator {
	return &Coordinator{
		ch:        ch,
		key:       ChannelKey(self, recipientID),
		self:      self,
		name:      displayName,
		recipient: recipientID,
		quiet:     quiet,
	}
}

func (c *Coordinator) Key() string { return c.key }

func (c *Coordinator) RecipientID() string { return c.recipient }

// HandleTyping is called on every input change. The first call of a burst
// is broadcast, and while the burst lasts true is repeated at most once per
// quiet interval so watchers keep the entry alive. Every call rearms the
// quiet timer.
func (c *Coordinator) HandleTyping(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.typing || time.Since(c.published) >= c.quiet {
		c.typing = true
		c.published = time.Now()
		c.publish(ctx, true)
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.quiet, func() { c.expire(gen) })
}

// StopTyping publishes false immediately and cancels the quiet timer. It is
// called on send and on blur.
func (c *Coordinator) StopTyping(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.typing = false
	c.publish(ctx, false)
}

func (c *Coordinator) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Close stops the quiet timer and clears a pending true signal.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	if c.typing {
		c.typing = false
		c.publish(ctx, false)
	}
}

func (c *Coordinator) expire(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.typing {
		return
	}
	c.timer = nil
	c.typing = false
	c.publish(context.Background(), false)
}

func (c *Coordinator) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Coordinator) publish(ctx context.Context, typing bool) {
	sig := Signal{
		UserID:      c.self,
		DisplayName: c.name,
		RecipientID: c.recipient,
		IsTyping:    typing,
		At:          time.Now(),
	}
	if err := c.ch.Broadcast(ctx, c.key, sig); err != nil {
		log.Debug().Err(err).Str("key", c.key).Msg("typing broadcast failed")
	}
}
