package typing

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"panelchat/internal/realtime"
)

type entry struct {
	name  string
	timer *time.Timer
	gen   int
}

// Watcher is the receiving side of a conversation's typing channel. It
// keeps the set of users typing to the viewer and expires entries that are
// not refreshed within ttl, so a lost false signal cannot stick. The ttl
// must exceed the sender's quiet interval, which bounds its refresh period.
type Watcher struct {
	viewer   string
	ttl      time.Duration
	onChange func(names []string)
	off      func()

	mu     sync.Mutex
	active map[string]*entry
	closed bool
}

// NewWatcher listens for signals between viewer and partner. onChange may
// be nil; when set it receives Active() after every change.
func NewWatcher(ch realtime.Channel, viewer, partner string, ttl time.Duration, onChange func([]string)) *Watcher {
	w := &Watcher{
		viewer:   viewer,
		ttl:      ttl,
		onChange: onChange,
		active:   make(map[string]*entry),
	}
	w.off = ch.On(ChannelKey(viewer, partner), w.handle)
	return w
}

func (w *Watcher) handle(m realtime.Message) {
	var sig Signal
	if err := json.Unmarshal(m.Payload, &sig); err != nil {
		log.Debug().Err(err).Str("event", m.Event).Msg("ignoring malformed typing signal")
		return
	}
	if sig.UserID == w.viewer || sig.RecipientID != w.viewer {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	changed := false
	e, ok := w.active[sig.UserID]
	if sig.IsTyping {
		if !ok {
			e = &entry{}
			w.active[sig.UserID] = e
			changed = true
		}
		if e.name != sig.DisplayName {
			e.name = sig.DisplayName
			changed = true
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen++
		gen, uid := e.gen, sig.UserID
		e.timer = time.AfterFunc(w.ttl, func() { w.expire(uid, gen) })
	} else if ok {
		e.timer.Stop()
		delete(w.active, sig.UserID)
		changed = true
	}
	names := w.activeLocked()
	w.mu.Unlock()

	if changed && w.onChange != nil {
		w.onChange(names)
	}
}

func (w *Watcher) expire(userID string, gen int) {
	w.mu.Lock()
	e, ok := w.active[userID]
	if w.closed || !ok || e.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.active, userID)
	names := w.activeLocked()
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(names)
	}
}

// Active lists the display names of users currently typing to the viewer.
func (w *Watcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeLocked()
}

func (w *Watcher) activeLocked() []string {
	names := make([]string, 0, len(w.active))
	for _, e := range w.active {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

func (w *Watcher) Close() {
	w.off()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, e := range w.active {
		e.timer.Stop()
		delete(w.active, id)
	}
}
