// Package chattest provides an in-memory chat.Repository for tests.
package chattest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"panelchat/internal/chat"
)

// ErrDown is returned by every call while Memory.Down is set.
var ErrDown = errors.New("repository down")

type Memory struct {
	mu   sync.Mutex
	rows map[string]*chat.Message
	Down bool
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*chat.Message)}
}

func (r *Memory) SetDown(down bool) {
	r.mu.Lock()
	r.Down = down
	r.mu.Unlock()
}

// Seed stores m as is.
func (r *Memory) Seed(msgs ...*chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.rows[m.ID] = m.Clone()
	}
}

func (r *Memory) Insert(_ context.Context, m *chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return ErrDown
	}
	r.rows[m.ID] = m.Clone()
	return nil
}

func (r *Memory) Get(_ context.Context, id string) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	m, ok := r.rows[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *Memory) UpdateText(_ context.Context, id, senderID, text string, at time.Time) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	m, ok := r.rows[id]
	if !ok || m.SenderID != senderID {
		return nil, chat.ErrNotFound
	}
	m.Text = text
	m.UpdatedAt = at
	return m.Clone(), nil
}

func (r *Memory) Delete(_ context.Context, id, senderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return ErrDown
	}
	m, ok := r.rows[id]
	if !ok || m.SenderID != senderID {
		return chat.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *Memory) SetPinned(_ context.Context, id, userID string, pinned bool) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	m, ok := r.rows[id]
	if !ok || !m.Involves(userID) {
		return nil, chat.ErrNotFound
	}
	m.IsPinned = pinned
	return m.Clone(), nil
}

func (r *Memory) MarkRead(_ context.Context, id, recipientID string, at time.Time) (*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	m, ok := r.rows[id]
	if !ok || !m.IsDirect() || *m.RecipientID != recipientID || m.ReadAt != nil {
		return nil, nil
	}
	m.ReadAt = &at
	return m.Clone(), nil
}

func (r *Memory) MarkAllRead(_ context.Context, recipientID, senderID string, at time.Time) ([]*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	var out []*chat.Message
	for _, m := range r.rows {
		if !m.IsDirect() || *m.RecipientID != recipientID || m.ReadAt != nil {
			continue
		}
		if senderID != "" && m.SenderID != senderID {
			continue
		}
		t := at
		m.ReadAt = &t
		out = append(out, m.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (r *Memory) Thread(_ context.Context, a, b string, limit int) ([]*chat.Message, error) {
	return r.window(limit, func(m *chat.Message) bool {
		return m.Involves(a) && m.Partner(a) == b
	})
}

func (r *Memory) Inbox(_ context.Context, userID string, limit int) ([]*chat.Message, error) {
	return r.window(limit, func(m *chat.Message) bool { return m.Involves(userID) })
}

func (r *Memory) UnreadCount(_ context.Context, recipientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return 0, ErrDown
	}
	n := 0
	for _, m := range r.rows {
		if m.IsDirect() && *m.RecipientID == recipientID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *Memory) window(limit int, keep func(*chat.Message) bool) ([]*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Down {
		return nil, ErrDown
	}
	var out []*chat.Message
	for _, m := range r.rows {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func sortByCreated(msgs []*chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
