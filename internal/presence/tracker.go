package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"panelchat/internal/metrics"
	"panelchat/internal/realtime"
)

// StatusWriter persists the durable profile status.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, userID, status string) error
}

type Config struct {
	Heartbeat   time.Duration
	AwayAfter   time.Duration
	HiddenGrace time.Duration
}

// Tracker publishes the local user's status for one session and drives the
// automatic transitions: heartbeat, inactivity and tab visibility. Every
// tracker publishes under its own presence key, so the tabs of one user do
// not overwrite or remove each other.
type Tracker struct {
	ch      realtime.Channel
	dir     *Directory
	store   StatusWriter
	cfg     Config
	now     func() time.Time
	session string

	mu       sync.Mutex
	self     string
	name     string
	status   Status
	joined   bool
	closed   bool
	hidden   bool
	stop     chan struct{}
	idle     *time.Timer
	idleGen  int
	grace    *time.Timer
	graceGen int
}

func NewTracker(ch realtime.Channel, dir *Directory, store StatusWriter, cfg Config) *Tracker {
	return &Tracker{ch: ch, dir: dir, store: store, cfg: cfg, now: time.Now, session: uuid.NewString()}
}

// Key is the presence key of this tracker's record.
func (t *Tracker) Key() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Key(t.self, t.session)
}

// Join registers the local user on the presence channel. Calling it again
// on the same tracker is a no-op.
func (t *Tracker) Join(ctx context.Context, self, displayName string, initial Status) error {
	if _, ok := ParseStatus(string(initial)); !ok {
		return fmt.Errorf("unknown status %q", initial)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joined || t.closed {
		return nil
	}
	t.self, t.name, t.status = self, displayName, initial
	t.joined = true
	t.stop = make(chan struct{})

	t.publishLocked(ctx)
	t.resetIdleLocked()
	go t.heartbeat(t.stop)
	return nil
}

// SetStatus changes the status, re-publishes it and persists it to the
// profile. Only the durable write can fail.
func (t *Tracker) SetStatus(ctx context.Context, s Status) error {
	if _, ok := ParseStatus(string(s)); !ok {
		return fmt.Errorf("unknown status %q", s)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.joined || t.closed {
		return nil
	}
	return t.transitionLocked(ctx, s)
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) GetStatus(userID string) Status {
	return t.dir.GetStatus(userID)
}

func (t *Tracker) GetLastSeen(userID string) (time.Time, bool) {
	return t.dir.GetLastSeen(userID)
}

// Activity is called for pointer, key, scroll, touch and click signals.
// It rearms the inactivity timer and returns an away user to online.
func (t *Tracker) Activity(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.joined || t.closed {
		return
	}
	t.resetIdleLocked()
	if t.status == Away {
		t.autoTransitionLocked(ctx, Online)
	}
}

// SetHidden reports the document visibility of the session's tab.
func (t *Tracker) SetHidden(ctx context.Context, hidden bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.joined || t.closed {
		return
	}
	t.hidden = hidden

	if t.grace != nil {
		t.grace.Stop()
		t.grace = nil
	}
	t.graceGen++

	if hidden {
		gen := t.graceGen
		t.grace = time.AfterFunc(t.cfg.HiddenGrace, func() { t.onGrace(gen) })
		return
	}
	if t.status == Away {
		t.autoTransitionLocked(ctx, Online)
	}
	t.resetIdleLocked()
}

// Unload is the page-unload path: a best-effort durable offline write
// followed by leaving the channel.
func (t *Tracker) Unload(ctx context.Context) {
	t.mu.Lock()
	self, joined := t.self, t.joined && !t.closed
	t.mu.Unlock()
	if !joined {
		return
	}

	if err := t.store.UpdateStatus(ctx, self, string(Offline)); err != nil {
		log.Debug().Err(err).Str("user_id", self).Msg("offline write on unload failed")
	}
	t.Leave(ctx)
}

// Leave stops all timers and removes the local record from the channel.
func (t *Tracker) Leave(ctx context.Context) {
	t.mu.Lock()
	if !t.joined || t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.status = Offline
	close(t.stop)
	if t.idle != nil {
		t.idle.Stop()
	}
	if t.grace != nil {
		t.grace.Stop()
	}
	t.idleGen++
	t.graceGen++
	self, key := t.self, Key(t.self, t.session)
	t.mu.Unlock()

	if err := t.ch.Untrack(ctx, key); err != nil {
		log.Debug().Err(err).Str("user_id", self).Msg("presence leave failed")
	}
	t.dir.Remove(key)
}

func (t *Tracker) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.closed {
				t.publishLocked(context.Background())
			}
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) resetIdleLocked() {
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idleGen++
	gen := t.idleGen
	t.idle = time.AfterFunc(t.cfg.AwayAfter, func() { t.onIdle(gen) })
}

func (t *Tracker) onIdle(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.idleGen {
		return
	}
	// busy is a manual status and is never overridden
	if t.status == Online {
		t.autoTransitionLocked(context.Background(), Away)
	}
}

func (t *Tracker) onGrace(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.graceGen || !t.hidden {
		return
	}
	if t.status == Online {
		t.autoTransitionLocked(context.Background(), Away)
	}
}

func (t *Tracker) autoTransitionLocked(ctx context.Context, s Status) {
	if err := t.transitionLocked(ctx, s); err != nil {
		log.Warn().Err(err).Str("user_id", t.self).Str("status", string(s)).Msg("durable status write failed")
	}
}

func (t *Tracker) transitionLocked(ctx context.Context, s Status) error {
	prev := t.status
	t.status = s
	t.publishLocked(ctx)
	if prev != s {
		metrics.PresenceTransitions.WithLabelValues(string(s)).Inc()
	}
	if err := t.store.UpdateStatus(ctx, t.self, string(s)); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// publishLocked reflects the record locally and tracks it on the channel.
// Channel failures are not fatal; the next heartbeat retries.
func (t *Tracker) publishLocked(ctx context.Context) {
	rec := Record{UserID: t.self, SessionID: t.session, Status: t.status, LastSeen: t.now(), DisplayName: t.name}
	t.dir.Apply(rec)
	if err := t.ch.Track(ctx, rec.Key(), rec); err != nil {
		log.Debug().Err(err).Str("user_id", t.self).Msg("presence publish failed")
	}
}
