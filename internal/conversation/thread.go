// Package conversation is the view model of one two-party message thread:
// merge of change events, day grouping, reply quotes, receipts and search.
package conversation

import (
	"context"
	"sort"
	"sync"

	"panelchat/internal/chat"
	"panelchat/internal/presence"
)

// Namer resolves display names from profiles.
type Namer interface {
	DisplayName(ctx context.Context, userID string) string
}

type StatusResolver interface {
	ResolveStatus(ctx context.Context, userID string) presence.Status
}

type entry struct {
	msg     *chat.Message
	pending bool
}

// Thread holds the loaded window of a conversation. All merge operations
// are keyed by message id and safe against duplicate or reordered events.
type Thread struct {
	self   string
	limit  int
	names  Namer
	status StatusResolver

	mu      sync.Mutex
	entries map[string]*entry
}

func NewThread(self string, limit int, names Namer, status StatusResolver) *Thread {
	return &Thread{
		self:    self,
		limit:   limit,
		names:   names,
		status:  status,
		entries: make(map[string]*entry),
	}
}

// Load merges a window read from the store. Entries that arrived through
// change events while the query ran are merged by id, not replaced.
func (t *Thread) Load(msgs []*chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if e, ok := t.entries[m.ID]; ok {
			e.msg = merge(e.msg, m)
			continue
		}
		t.entries[m.ID] = &entry{msg: m.Clone()}
	}
	t.trimLocked()
}

// ApplyInsert adds m unless its id is already present. A pending entry with
// the same id is confirmed. It reports whether the thread changed.
func (t *Thread) ApplyInsert(m *chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[m.ID]; ok {
		if !e.pending {
			return false
		}
		e.pending = false
		e.msg = merge(e.msg, m)
		return true
	}
	t.entries[m.ID] = &entry{msg: m.Clone()}
	t.trimLocked()
	return true
}

// ApplyUpdate merges m into the entry with the same id. Updates for
// messages outside the window are dropped.
func (t *Thread) ApplyUpdate(m *chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[m.ID]
	if !ok {
		return false
	}
	e.msg = merge(e.msg, m)
	e.pending = false
	return true
}

func (t *Thread) ApplyDelete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Pending applies a local mutation the store accepted before its change
// event arrived. The entry stays pending until the event confirms it; a
// mutation whose event already arrived is left confirmed.
func (t *Thread) Pending(m *chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[m.ID]; ok {
		if !e.pending && sameState(e.msg, m) {
			return
		}
		e.msg = merge(e.msg, m)
		e.pending = true
		return
	}
	t.entries[m.ID] = &entry{msg: m.Clone(), pending: true}
	t.trimLocked()
}

func (t *Thread) IsPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return ok && e.pending
}

// merge resolves two versions of one message: the later updated_at wins
// for the editable fields, and read_at is never cleared once set.
// Timestamps are compared at database precision; created_at never changes.
func merge(cur, in *chat.Message) *chat.Message {
	next := in.Clone()
	next.CreatedAt = cur.CreatedAt
	switch {
	case chat.SameInstant(in.UpdatedAt, cur.UpdatedAt):
		next.UpdatedAt = cur.UpdatedAt
	case in.UpdatedAt.Before(cur.UpdatedAt):
		next.Text = cur.Text
		next.UpdatedAt = cur.UpdatedAt
		next.IsPinned = cur.IsPinned
	}
	if next.ReadAt == nil && cur.ReadAt != nil {
		t := *cur.ReadAt
		next.ReadAt = &t
	}
	return next
}

func sameState(a, b *chat.Message) bool {
	if (a.ReadAt == nil) != (b.ReadAt == nil) || (a.ReadAt != nil && !chat.SameInstant(*a.ReadAt, *b.ReadAt)) {
		return false
	}
	return a.Text == b.Text && a.IsPinned == b.IsPinned && chat.SameInstant(a.UpdatedAt, b.UpdatedAt)
}

func (t *Thread) trimLocked() {
	if t.limit <= 0 || len(t.entries) <= t.limit {
		return
	}
	sorted := t.sortedLocked()
	for _, e := range sorted[:len(sorted)-t.limit] {
		delete(t.entries, e.msg.ID)
	}
}

func (t *Thread) sortedLocked() []*entry {
	out := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].msg, out[j].msg
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// Messages returns copies of the window in chronological order.
func (t *Thread) Messages() []*chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	sorted := t.sortedLocked()
	out := make([]*chat.Message, len(sorted))
	for i, e := range sorted {
		out[i] = e.msg.Clone()
	}
	return out
}

func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Thread) Get(id string) (*chat.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.msg.Clone(), true
}
