package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelchat/internal/realtime"
)

type statusLog struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (s *statusLog) UpdateStatus(_ context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, userID+"="+status)
	return s.err
}

func (s *statusLog) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return ""
	}
	return s.writes[len(s.writes)-1]
}

func slowConfig() Config {
	return Config{Heartbeat: time.Hour, AwayAfter: time.Hour, HiddenGrace: time.Hour}
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *Directory, *statusLog) {
	t.Helper()
	ch := realtime.NewLocalChannel("presence")
	dir := NewDirectory(ch, time.Minute, nil, nil)
	store := &statusLog{}
	tr := NewTracker(ch, dir, store, cfg)
	t.Cleanup(func() { tr.Leave(context.Background()) })
	return tr, dir, store
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr, dir, _ := newTestTracker(t, slowConfig())

	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Busy))

	assert.Equal(t, Online, tr.Status())
	assert.Equal(t, Online, dir.GetStatus("anna"))
	assert.Error(t, NewTracker(realtime.NewLocalChannel("p"), dir, &statusLog{}, slowConfig()).Join(ctx, "x", "X", "sleeping"))
}

func TestTwoTrackersSeeEachOther(t *testing.T) {
	ctx := context.Background()
	ch := realtime.NewLocalChannel("presence")
	dir := NewDirectory(ch, time.Minute, nil, nil)
	store := &statusLog{}

	anna := NewTracker(ch, dir, store, slowConfig())
	ben := NewTracker(ch, dir, store, slowConfig())
	defer anna.Leave(ctx)

	require.NoError(t, anna.Join(ctx, "anna", "Anna", Online))
	require.NoError(t, ben.Join(ctx, "ben", "Ben", Online))
	require.NoError(t, ben.SetStatus(ctx, Busy))

	assert.Equal(t, Busy, anna.GetStatus("ben"))
	assert.Equal(t, "ben=busy", store.last())

	ben.Leave(ctx)
	assert.Equal(t, Offline, anna.GetStatus("ben"))
}

func TestSetStatusReportsDurableFailure(t *testing.T) {
	ctx := context.Background()
	tr, dir, store := newTestTracker(t, slowConfig())
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))

	store.err = errors.New("db down")
	assert.Error(t, tr.SetStatus(ctx, Away))
	// the live layer still moved
	assert.Equal(t, Away, dir.GetStatus("anna"))

	assert.Error(t, tr.SetStatus(ctx, "sleeping"))
}

func TestInactivityMovesOnlineToAway(t *testing.T) {
	ctx := context.Background()
	cfg := slowConfig()
	cfg.AwayAfter = 30 * time.Millisecond
	tr, _, store := newTestTracker(t, cfg)

	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))
	assert.Eventually(t, func() bool { return tr.Status() == Away }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "anna=away", store.last())

	tr.Activity(ctx)
	assert.Equal(t, Online, tr.Status())
	assert.Equal(t, "anna=online", store.last())
}

func TestInactivityNeverOverridesBusy(t *testing.T) {
	ctx := context.Background()
	cfg := slowConfig()
	cfg.AwayAfter = 20 * time.Millisecond
	tr, _, _ := newTestTracker(t, cfg)

	require.NoError(t, tr.Join(ctx, "anna", "Anna", Busy))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Busy, tr.Status())

	tr.Activity(ctx)
	assert.Equal(t, Busy, tr.Status())
}

func TestHiddenTabGoesAwayAfterGrace(t *testing.T) {
	ctx := context.Background()
	cfg := slowConfig()
	cfg.HiddenGrace = 30 * time.Millisecond
	tr, _, _ := newTestTracker(t, cfg)
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))

	tr.SetHidden(ctx, true)
	assert.Eventually(t, func() bool { return tr.Status() == Away }, time.Second, 5*time.Millisecond)

	tr.SetHidden(ctx, false)
	assert.Equal(t, Online, tr.Status())
}

func TestVisibleBeforeGraceKeepsOnline(t *testing.T) {
	ctx := context.Background()
	cfg := slowConfig()
	cfg.HiddenGrace = 40 * time.Millisecond
	tr, _, _ := newTestTracker(t, cfg)
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))

	tr.SetHidden(ctx, true)
	tr.SetHidden(ctx, false)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Online, tr.Status())
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	cfg := slowConfig()
	cfg.Heartbeat = 10 * time.Millisecond
	tr, dir, _ := newTestTracker(t, cfg)
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))

	first, ok := dir.GetLastSeen("anna")
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		seen, _ := dir.GetLastSeen("anna")
		return seen.After(first)
	}, time.Second, 5*time.Millisecond)
}

func TestUnloadWritesOfflineAndLeaves(t *testing.T) {
	ctx := context.Background()
	tr, dir, store := newTestTracker(t, slowConfig())
	require.NoError(t, tr.Join(ctx, "anna", "Anna", Online))

	tr.Unload(ctx)
	assert.Equal(t, "anna=offline", store.last())
	assert.Equal(t, Offline, dir.GetStatus("anna"))

	// a closed tracker ignores further signals
	tr.Activity(ctx)
	require.NoError(t, tr.SetStatus(ctx, Online))
	assert.Equal(t, Offline, tr.Status())
}

func TestTabsOfOneUserDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	ch := realtime.NewLocalChannel("presence")
	dir := NewDirectory(ch, time.Minute, nil, nil)
	store := &statusLog{}

	active := NewTracker(ch, dir, store, slowConfig())
	idle := NewTracker(ch, dir, store, slowConfig())
	defer active.Leave(ctx)
	require.NotEqual(t, active.Key(), idle.Key())

	require.NoError(t, active.Join(ctx, "anna", "Anna", Online))
	require.NoError(t, idle.Join(ctx, "anna", "Anna", Online))
	require.NoError(t, idle.SetStatus(ctx, Away))

	// the idle tab does not pull the user away while another tab is active
	assert.Equal(t, Online, dir.GetStatus("anna"))

	state, err := ch.State(ctx)
	require.NoError(t, err)
	assert.Len(t, state, 2)

	idle.Leave(ctx)
	assert.Equal(t, Online, dir.GetStatus("anna"))
	require.Len(t, dir.Snapshot(), 1)

	active.Leave(ctx)
	assert.Equal(t, Offline, dir.GetStatus("anna"))
	assert.Empty(t, dir.Snapshot())
}
