package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"panelchat/internal/events"
	"panelchat/internal/realtime"
)

// StatusSource reads the durable profile status column.
type StatusSource interface {
	ProfileStatus(ctx context.Context, userID string) (string, error)
}

// Directory is the process-wide view of every user's live presence. It is
// fed by a single subscription to the presence channel and shared by all
// sessions of this process. Each session of a user publishes its own
// record; readers see one aggregated record per user.
type Directory struct {
	staleAfter time.Duration
	fallback   StatusSource
	bus        *events.Bus
	now        func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]Record // user id, then presence key
	offs  []func()
}

type Option func(*Directory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func NewDirectory(ch realtime.Channel, staleAfter time.Duration, fallback StatusSource, bus *events.Bus, opts ...Option) *Directory {
	d := &Directory{
		staleAfter: staleAfter,
		fallback:   fallback,
		bus:        bus,
		now:        time.Now,
		users:      make(map[string]map[string]Record),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.offs = append(d.offs,
		ch.On(realtime.EventSync, d.onSync),
		ch.On(realtime.EventJoin, d.onJoin),
		ch.On(realtime.EventLeave, func(m realtime.Message) { d.Remove(m.Key) }),
	)
	return d
}

func (d *Directory) onJoin(m realtime.Message) {
	var rec Record
	if err := json.Unmarshal(m.Payload, &rec); err != nil {
		log.Debug().Err(err).Str("key", m.Key).Msg("ignoring malformed presence record")
		return
	}
	d.Apply(withKey(rec, m.Key))
}

func (d *Directory) onSync(m realtime.Message) {
	var state map[string]Record
	if err := json.Unmarshal(m.Payload, &state); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed presence sync")
		return
	}
	for key, rec := range state {
		d.Apply(withKey(rec, key))
	}
}

// withKey fills the identity of rec from the presence key it arrived under.
func withKey(rec Record, key string) Record {
	userID, sessionID := SplitKey(key)
	if rec.UserID == "" {
		rec.UserID = userID
	}
	if rec.SessionID == "" {
		rec.SessionID = sessionID
	}
	return rec
}

// Apply stores rec unless a newer record of the same session is already
// known. Changes of the user's aggregated status are announced on the bus.
func (d *Directory) Apply(rec Record) {
	now := d.now()
	key := rec.Key()

	d.mu.Lock()
	sessions := d.users[rec.UserID]
	if prev, ok := sessions[key]; ok && rec.LastSeen.Before(prev.LastSeen) {
		d.mu.Unlock()
		return
	}
	before, had := d.aggregateLocked(rec.UserID, now)
	if sessions == nil {
		sessions = make(map[string]Record)
		d.users[rec.UserID] = sessions
	}
	sessions[key] = rec
	after, _ := d.aggregateLocked(rec.UserID, now)
	d.mu.Unlock()

	if !had || before.Status != after.Status {
		d.announce(after)
	}
}

// Remove drops the record tracked under key. The user goes offline only
// when it was their last session.
func (d *Directory) Remove(key string) {
	userID, _ := SplitKey(key)
	now := d.now()

	d.mu.Lock()
	sessions, ok := d.users[userID]
	if _, tracked := sessions[key]; !ok || !tracked {
		d.mu.Unlock()
		return
	}
	before, _ := d.aggregateLocked(userID, now)
	delete(sessions, key)
	if len(sessions) == 0 {
		delete(d.users, userID)
	}
	after, still := d.aggregateLocked(userID, now)
	d.mu.Unlock()

	switch {
	case !still:
		before.Status = Offline
		d.announce(before)
	case before.Status != after.Status:
		d.announce(after)
	}
}

func (d *Directory) announce(rec Record) {
	if d.bus != nil {
		d.bus.Statuses.Publish(events.StatusChanged{UserID: rec.UserID, Status: string(rec.Status), LastSeen: rec.LastSeen})
	}
}

// aggregateLocked folds the sessions of userID into one record: the highest
// ranked fresh status and the latest last_seen. Tabs can die without a
// leave event, so a record not refreshed within the staleness window counts
// as offline.
func (d *Directory) aggregateLocked(userID string, now time.Time) (Record, bool) {
	sessions := d.users[userID]
	if len(sessions) == 0 {
		return Record{}, false
	}
	var out Record
	first := true
	for _, rec := range sessions {
		if !rec.Fresh(now, d.staleAfter) {
			rec.Status = Offline
		}
		switch {
		case first:
			out = rec
			first = false
		case rank(rec.Status) > rank(out.Status):
			lastSeen := out.LastSeen
			out = rec
			if lastSeen.After(out.LastSeen) {
				out.LastSeen = lastSeen
			}
		case rec.LastSeen.After(out.LastSeen):
			out.LastSeen = rec.LastSeen
		}
	}
	out.SessionID = ""
	return out, true
}

// GetStatus returns the live status of userID, or Offline when none of the
// user's sessions has a record refreshed within the staleness window.
func (d *Directory) GetStatus(userID string) Status {
	d.mu.RLock()
	rec, ok := d.aggregateLocked(userID, d.now())
	d.mu.RUnlock()
	if !ok {
		return Offline
	}
	return rec.Status
}

func (d *Directory) GetLastSeen(userID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.aggregateLocked(userID, d.now())
	return rec.LastSeen, ok
}

// ResolveStatus merges the two layers: a live record (subject to the
// staleness policy) wins; only without one is the durable status used.
func (d *Directory) ResolveStatus(ctx context.Context, userID string) Status {
	d.mu.RLock()
	live := len(d.users[userID]) > 0
	d.mu.RUnlock()
	if live || d.fallback == nil {
		return d.GetStatus(userID)
	}

	raw, err := d.fallback.ProfileStatus(ctx, userID)
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("durable status lookup failed")
		return Offline
	}
	if s, ok := ParseStatus(raw); ok {
		return s
	}
	return Offline
}

// Snapshot lists one aggregated record per known user.
func (d *Directory) Snapshot() []Record {
	now := d.now()
	d.mu.RLock()
	out := make([]Record, 0, len(d.users))
	for userID := range d.users {
		if rec, ok := d.aggregateLocked(userID, now); ok {
			out = append(out, rec)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close detaches the directory from its channel.
func (d *Directory) Close() {
	for _, off := range d.offs {
		off()
	}
}
