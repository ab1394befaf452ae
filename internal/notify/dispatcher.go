// Package notify keeps a session's unread badge and raises the sound, toast
// and push alerts for inbound messages.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"panelchat/internal/chat"
	"panelchat/internal/metrics"
)

const (
	previewLen       = 100
	imagePlaceholder = "📷 Bild"
	maxSeen          = 1024
)

// UnreadStore is the part of chat.Store the dispatcher needs.
type UnreadStore interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context, senderScope string) (int, error)
}

type Namer interface {
	DisplayName(ctx context.Context, userID string) string
}

// Output renders the alerts of one session.
type Output interface {
	Unread(count int)
	Sound()
	Toast(t Toast)
	DismissToast(id string)
	OpenInbox()
}

// Toast is an in-app alert for one inbound message.
type Toast struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type toastTimer struct {
	timer *time.Timer
}

type Dispatcher struct {
	self     string
	store    UnreadStore
	names    Namer
	out      Output
	push     Pusher
	toastTTL time.Duration

	mu     sync.Mutex
	unread int
	hidden bool
	toasts map[string]*toastTimer
	seen   map[string]struct{}
}

func NewDispatcher(self string, store UnreadStore, names Namer, out Output, push Pusher, toastTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		self:     self,
		store:    store,
		names:    names,
		out:      out,
		push:     push,
		toastTTL: toastTTL,
		toasts:   make(map[string]*toastTimer),
		seen:     make(map[string]struct{}),
	}
}

// Load computes the badge from the store.
func (d *Dispatcher) Load(ctx context.Context) error {
	n, err := d.store.UnreadCount(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.unread = n
	d.mu.Unlock()
	d.out.Unread(n)
	return nil
}

func (d *Dispatcher) Unread() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// SetHidden records whether the session's document is in the background.
func (d *Dispatcher) SetHidden(hidden bool) {
	d.mu.Lock()
	d.hidden = hidden
	d.mu.Unlock()
}

// HandleInsert alerts the user of a new message addressed to them. A
// replayed insert for the same id is ignored.
func (d *Dispatcher) HandleInsert(ctx context.Context, m *chat.Message) {
	if !m.IsDirect() || m.SenderID == d.self || *m.RecipientID != d.self {
		return
	}

	d.mu.Lock()
	if _, dup := d.seen[m.ID]; dup {
		d.mu.Unlock()
		return
	}
	if len(d.seen) >= maxSeen {
		d.seen = make(map[string]struct{})
	}
	d.seen[m.ID] = struct{}{}
	d.unread++
	n, hidden := d.unread, d.hidden
	d.mu.Unlock()

	d.out.Unread(n)
	metrics.Notifications.WithLabelValues("badge").Inc()

	name := d.names.DisplayName(ctx, m.SenderID)
	toast := Toast{ID: m.ID, SenderID: m.SenderID, Title: Title(name), Body: Preview(m)}

	d.out.Sound()
	metrics.Notifications.WithLabelValues("sound").Inc()

	d.raise(toast)

	if hidden && d.push != nil {
		req := PushRequest{UserID: d.self, Title: toast.Title, Body: toast.Body}
		if err := d.push.Push(ctx, req); err != nil {
			log.Warn().Err(err).Str("user_id", d.self).Msg("push notification failed")
		} else {
			metrics.Notifications.WithLabelValues("push").Inc()
		}
	}
}

// HandleUpdate recounts from the store, so reads done in another tab are
// reflected here.
func (d *Dispatcher) HandleUpdate(ctx context.Context, m *chat.Message) {
	if !m.IsDirect() || *m.RecipientID != d.self {
		return
	}
	if err := d.Load(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", d.self).Msg("recount unread failed")
	}
}

// OpenInbox marks everything read and zeroes the badge without waiting
// for the resulting update events.
func (d *Dispatcher) OpenInbox(ctx context.Context) error {
	if _, err := d.store.MarkAllRead(ctx, ""); err != nil {
		return err
	}

	d.mu.Lock()
	d.unread = 0
	ids := make([]string, 0, len(d.toasts))
	for id, tt := range d.toasts {
		tt.timer.Stop()
		delete(d.toasts, id)
		ids = append(ids, id)
	}
	d.mu.Unlock()

	d.out.Unread(0)
	for _, id := range ids {
		d.out.DismissToast(id)
	}
	return nil
}

// ToastClicked opens the inbox.
func (d *Dispatcher) ToastClicked(ctx context.Context, id string) error {
	d.dismiss(id)
	if err := d.OpenInbox(ctx); err != nil {
		return err
	}
	d.out.OpenInbox()
	return nil
}

func (d *Dispatcher) ToastClosed(id string) {
	d.dismiss(id)
}

// Close stops pending auto-dismiss timers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, tt := range d.toasts {
		tt.timer.Stop()
		delete(d.toasts, id)
	}
}

func (d *Dispatcher) raise(t Toast) {
	d.mu.Lock()
	if prev, ok := d.toasts[t.ID]; ok {
		prev.timer.Stop()
	}
	tt := &toastTimer{}
	tt.timer = time.AfterFunc(d.toastTTL, func() { d.expire(t.ID, tt) })
	d.toasts[t.ID] = tt
	d.mu.Unlock()

	d.out.Toast(t)
	metrics.Notifications.WithLabelValues("toast").Inc()
}

func (d *Dispatcher) expire(id string, tt *toastTimer) {
	d.mu.Lock()
	if d.toasts[id] != tt {
		d.mu.Unlock()
		return
	}
	delete(d.toasts, id)
	d.mu.Unlock()
	d.out.DismissToast(id)
}

func (d *Dispatcher) dismiss(id string) {
	d.mu.Lock()
	tt, ok := d.toasts[id]
	if ok {
		tt.timer.Stop()
		delete(d.toasts, id)
	}
	d.mu.Unlock()
	if ok {
		d.out.DismissToast(id)
	}
}

func Title(senderName string) string {
	return "Neue Nachricht von " + senderName
}

// Preview is the notification body: the message text without its quote,
// cut to 100 characters, or a placeholder for image-only messages.
func Preview(m *chat.Message) string {
	_, body := chat.SplitQuote(m.Text)
	body = strings.TrimSpace(body)
	if body == "" {
		if m.ImageURL != nil {
			return imagePlaceholder
		}
		return ""
	}
	if r := []rune(body); len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return body
}
