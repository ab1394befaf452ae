package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"panelchat/internal/chat"
	"panelchat/internal/presence"
)

const (
	ReceiptSent = "✓"
	ReceiptRead = "✓✓"
)

// Item is one rendered message.
type Item struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	Status     presence.Status `json:"status"`
	Mine       bool            `json:"mine"`
	Quote      *chat.Quote     `json:"quote,omitempty"`
	Body       string          `json:"body"`
	ImageURL   *string         `json:"image_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Day        string          `json:"day"`
	Edited     bool            `json:"edited"`
	Pinned     bool            `json:"pinned"`
	Receipt    string          `json:"receipt,omitempty"`
	ReadTitle  string          `json:"read_title,omitempty"`
	Pending    bool            `json:"pending"`
}

// Group is a day separator and the messages of that day.
type Group struct {
	Label string    `json:"label"`
	Day   time.Time `json:"day"`
	Items []Item    `json:"items"`
}

type RenderOptions struct {
	Now      time.Time
	Location *time.Location
	// Query filters on text and sender name, case-insensitive.
	Query string
}

// Render groups the loaded messages by calendar day in the viewer's zone.
func (t *Thread) Render(ctx context.Context, opts RenderOptions) []Group {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	t.mu.Lock()
	sorted := t.sortedLocked()
	snapshot := make([]entry, len(sorted))
	for i, e := range sorted {
		snapshot[i] = entry{msg: e.msg.Clone(), pending: e.pending}
	}
	t.mu.Unlock()

	names := make(map[string]string)
	statuses := make(map[string]presence.Status)
	var groups []Group

	for _, e := range snapshot {
		m := e.msg
		name, ok := names[m.SenderID]
		if !ok {
			name = m.SenderID
			if t.names != nil {
				name = t.names.DisplayName(ctx, m.SenderID)
			}
			names[m.SenderID] = name
		}

		if query != "" &&
			!strings.Contains(strings.ToLower(m.Text), query) &&
			!strings.Contains(strings.ToLower(name), query) {
			continue
		}

		status, ok := statuses[m.SenderID]
		if !ok {
			status = presence.Offline
			if t.status != nil {
				status = t.status.ResolveStatus(ctx, m.SenderID)
			}
			statuses[m.SenderID] = status
		}

		item := t.item(m, name, status, now, loc)
		item.Pending = e.pending

		local := m.CreatedAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n == 0 || !groups[n-1].Day.Equal(day) {
			groups = append(groups, Group{Label: item.Day, Day: day})
		}
		groups[len(groups)-1].Items = append(groups[len(groups)-1].Items, item)
	}
	return groups
}

// Item renders the message id alone, for change deltas.
func (t *Thread) Item(ctx context.Context, id string, now time.Time, loc *time.Location) (Item, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	var m *chat.Message
	var pending bool
	if ok {
		m, pending = e.msg.Clone(), e.pending
	}
	t.mu.Unlock()
	if !ok {
		return Item{}, false
	}

	name := m.SenderID
	if t.names != nil {
		name = t.names.DisplayName(ctx, m.SenderID)
	}
	status := presence.Offline
	if t.status != nil {
		status = t.status.ResolveStatus(ctx, m.SenderID)
	}
	it := t.item(m, name, status, now, loc)
	it.Pending = pending
	return it, true
}

func (t *Thread) item(m *chat.Message, name string, status presence.Status, now time.Time, loc *time.Location) Item {
	quote, body := chat.SplitQuote(m.Text)
	it := Item{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: name,
		Status:     status,
		Mine:       m.SenderID == t.self,
		Quote:      quote,
		Body:       body,
		ImageURL:   m.ImageURL,
		CreatedAt:  m.CreatedAt,
		Day:        DayLabel(m.CreatedAt, now, loc),
		Edited:     m.Edited(),
		Pinned:     m.IsPinned,
	}
	if it.Mine {
		it.Receipt, it.ReadTitle = Receipt(m, loc)
	}
	return it
}

// Receipt is the check mark shown on an own message and, once read, the
// hover title with the read time.
func Receipt(m *chat.Message, loc *time.Location) (mark, title string) {
	if m.ReadAt == nil {
		return ReceiptSent, ""
	}
	return ReceiptRead, "Gelesen am " + m.ReadAt.In(loc).Format("02.01.2006 um 15:04")
}

var weekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

var months = [...]string{"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember"}

// DayLabel names the calendar day of t relative to now in loc: "Heute",
// "Gestern", or e.g. "Montag, 6. Mai 2024".
func DayLabel(t, now time.Time, loc *time.Location) string {
	t, now = t.In(loc), now.In(loc)
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "Heute"
	}
	yy, ym, yd := now.AddDate(0, 0, -1).Date()
	if ty == yy && tm == ym && td == yd {
		return "Gestern"
	}
	return fmt.Sprintf("%s, %d. %s %d", weekdays[t.Weekday()], td, months[tm-1], ty)
}
