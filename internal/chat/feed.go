package chat

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const feedChannel = "messages"

type subscriber struct {
	fn     func(ChangeEvent)
	events chan ChangeEvent
}

// Feed is the process-wide message change feed. Every committed mutation is
// published on the Redis "messages" channel; Run fans the events of all
// instances out to this instance's subscribers. Without Redis the feed is
// process-local.
type Feed struct {
	redis      *redis.Client
	subs       map[*subscriber]bool
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan ChangeEvent
	done       chan struct{}
}

func NewFeed(redisClient *redis.Client) *Feed {
	return &Feed{
		redis:      redisClient,
		subs:       make(map[*subscriber]bool),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan ChangeEvent),
		done:       make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.done)
	if f.redis != nil {
		go f.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for s := range f.subs {
				close(s.events)
				delete(f.subs, s)
			}
			return

		case s := <-f.register:
			f.subs[s] = true

		case s := <-f.unregister:
			if _, ok := f.subs[s]; ok {
				delete(f.subs, s)
				close(s.events)
			}

		case ev := <-f.broadcast:
			for s := range f.subs {
				select {
				case s.events <- ev:
				default:
					log.Warn().Str("type", string(ev.Type)).Str("message_id", ev.Message.ID).
						Msg("change feed subscriber is full, dropping event")
				}
			}
		}
	}
}

// Publish announces a committed mutation. The mutation itself already
// succeeded, so failures here are logged, not returned.
func (f *Feed) Publish(ctx context.Context, ev ChangeEvent) {
	if f.redis == nil {
		select {
		case f.broadcast <- ev:
		case <-f.done:
		case <-ctx.Done():
		}
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("encode change event")
		return
	}
	if err := f.redis.Publish(ctx, feedChannel, payload).Err(); err != nil {
		log.Error().Err(err).Str("message_id", ev.Message.ID).Msg("publish change event")
	}
}

// Subscribe delivers every event to fn on a dedicated goroutine, in feed
// order. The returned function stops delivery.
func (f *Feed) Subscribe(fn func(ChangeEvent)) func() {
	s := &subscriber{fn: fn, events: make(chan ChangeEvent, 256)}
	select {
	case f.register <- s:
	case <-f.done:
		return func() {}
	}

	go func() {
		for ev := range s.events {
			fn(ev)
		}
	}()

	return func() {
		select {
		case f.unregister <- s:
		case <-f.done:
		}
	}
}

// subscribeToRedis listens for mutations from every instance.
func (f *Feed) subscribeToRedis(ctx context.Context) {
	pubsub := f.redis.Subscribe(ctx, feedChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg = m
		}

		var ev ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Message == nil {
			log.Warn().Err(err).Msg("ignoring malformed change event")
			continue
		}
		select {
		case f.broadcast <- ev:
		case <-ctx.Done():
			return
		}
	}
}
