package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisChannel shares a Channel across server instances. Tracked state
// lives in the hash "presence:{name}"; events travel over the pub/sub
// topic "channel:{name}".
type RedisChannel struct {
	registry
	name  string
	redis *redis.Client

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewRedisChannel(rdb *redis.Client, name string) *RedisChannel {
	return &RedisChannel{name: name, redis: rdb}
}

func (c *RedisChannel) Name() string { return c.name }

func (c *RedisChannel) stateKey() string { return "presence:" + c.name }
func (c *RedisChannel) topic() string { return "channel:" + c.name }

func (c *RedisChannel) publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, c.topic(), data).Err()
}

func (c *RedisChannel) Track(ctx context.Context, key string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := c.redis.HSet(ctx, c.stateKey(), key, data).Err(); err != nil {
		return fmt.Errorf("track %s: %w", key, err)
	}
	return c.publish(ctx, Message{Event: EventJoin, Key: key, Payload: data})
}

func (c *RedisChannel) Untrack(ctx context.Context, key string) error {
	prev, err := c.redis.HGet(ctx, c.stateKey(), key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("untrack %s: %w", key, err)
	}
	if err := c.redis.HDel(ctx, c.stateKey(), key).Err(); err != nil {
		return fmt.Errorf("untrack %s: %w", key, err)
	}
	return c.publish(ctx, Message{Event: EventLeave, Key: key, Payload: prev})
}

func (c *RedisChannel) Broadcast(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.publish(ctx, Message{Event: event, Payload: data})
}

func (c *RedisChannel) On(event string, h Handler) func() {
	return c.on(event, h)
}

// Subscribe starts the receive loop and then delivers a sync event built
// from the current hash contents.
func (c *RedisChannel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.pubsub != nil {
		c.mu.Unlock()
		return nil
	}
	ps := c.redis.Subscribe(ctx, c.topic())
	if _, err := ps.Receive(ctx); err != nil {
		c.mu.Unlock()
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", c.topic(), err)
	}
	c.pubsub = ps
	c.mu.Unlock()

	go func() {
		for raw := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Warn().Err(err).Str("channel", c.name).Msg("dropping malformed channel event")
				continue
			}
			c.dispatch(msg)
		}
	}()

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

func (c *RedisChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubsub == nil {
		return nil
	}
	err := c.pubsub.Close()
	c.pubsub = nil
	return err
}

func (c *RedisChannel) State(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := c.redis.HGetAll(ctx, c.stateKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("state %s: %w", c.stateKey(), err)
	}
	out := make(map[string]json.RawMessage, len(all))
	for k, v := range all {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}
