package chat

import (
	"io"
	"time"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Message struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    *string    `json:"recipient_id"` // nil = group message
	IsGroupMessage bool       `json:"is_group_message"`
	Text           string     `json:"text"`
	ImageURL       *string    `json:"image_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ReadAt         *time.Time `json:"read_at"`
	IsPinned       bool       `json:"is_pinned"`
}

// Edited reports whether the text was changed after creation.
func (m *Message) Edited() bool {
	return !SameInstant(m.UpdatedAt, m.CreatedAt)
}

// SameInstant compares two timestamps at database precision.
func SameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// IsDirect reports whether m belongs to a two-party conversation.
func (m *Message) IsDirect() bool {
	return !m.IsGroupMessage && m.RecipientID != nil
}

// Involves reports whether userID is the sender or recipient of a direct message.
func (m *Message) Involves(userID string) bool {
	if !m.IsDirect() {
		return false
	}
	return m.SenderID == userID || *m.RecipientID == userID
}

// Partner returns the other participant from userID's point of view.
func (m *Message) Partner(userID string) string {
	if !m.IsDirect() {
		return ""
	}
	if m.SenderID == userID {
		return *m.RecipientID
	}
	return m.SenderID
}

func (m *Message) Clone() *Message {
	c := *m
	if m.RecipientID != nil {
		r := *m.RecipientID
		c.RecipientID = &r
	}
	if m.ImageURL != nil {
		u := *m.ImageURL
		c.ImageURL = &u
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// ReplyContext is the message being answered.
type ReplyContext struct {
	Name string // display name of the quoted author
	Text string
}

// Upload is an image attached to an outgoing message.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ---------------------------------------------
// Change feed
// ---------------------------------------------

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one committed mutation. For deletes, Message is the row
// as it was before removal.
type ChangeEvent struct {
	Type    EventType `json:"type"`
	Message *Message  `json:"message"`
}
