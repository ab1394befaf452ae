package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalChannelPresenceEvents(t *testing.T) {
	ctx := context.Background()
	ch := NewLocalChannel("presence")

	var events []Message
	for _, ev := range []string{EventJoin, EventLeave, EventSync} {
		ch.On(ev, func(m Message) { events = append(events, m) })
	}

	require.NoError(t, ch.Track(ctx, "u1", map[string]string{"status": "online"}))
	require.NoError(t, ch.Subscribe(ctx))
	require.NoError(t, ch.Untrack(ctx, "u1"))
	require.NoError(t, ch.Untrack(ctx, "u1"))

	require.Len(t, events, 3)
	assert.Equal(t, EventJoin, events[0].Event)
	assert.Equal(t, "u1", events[0].Key)
	assert.JSONEq(t, `{"status":"online"}`, string(events[0].Payload))

	assert.Equal(t, EventSync, events[1].Event)
	var state map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(events[1].Payload, &state))
	assert.Contains(t, state, "u1")

	assert.Equal(t, EventLeave, events[2].Event)
	assert.JSONEq(t, `{"status":"online"}`, string(events[2].Payload))
}

func TestLocalChannelBroadcastAndOff(t *testing.T) {
	ctx := context.Background()
	ch := NewLocalChannel("typing")

	count := 0
	off := ch.On("typing:a:b", func(Message) { count++ })
	ch.On("typing:c:d", func(Message) { t.Fatal("wrong scope") })

	require.NoError(t, ch.Broadcast(ctx, "typing:a:b", true))
	off()
	require.NoError(t, ch.Broadcast(ctx, "typing:a:b", true))
	assert.Equal(t, 1, count)
}

func TestLocalChannelUnsubscribeRejectsWrites(t *testing.T) {
	ctx := context.Background()
	ch := NewLocalChannel("presence")
	require.NoError(t, ch.Unsubscribe())

	assert.ErrorIs(t, ch.Track(ctx, "u1", 1), ErrClosed)
	assert.ErrorIs(t, ch.Broadcast(ctx, "x", 1), ErrClosed)
}
