// Package session hosts one browser tab: its WebSocket client, and the
// presence, typing, conversation and notification state that belongs to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"panelchat/internal/chat"
	"panelchat/internal/conversation"
	"panelchat/internal/notify"
	"panelchat/internal/presence"
	"panelchat/internal/realtime"
	"panelchat/internal/typing"
)

// Profiles is the profile lookup every session shares.
type Profiles interface {
	DisplayName(ctx context.Context, userID string) string
	ProfileStatus(ctx context.Context, userID string) (string, error)
	UpdateStatus(ctx context.Context, userID, status string) error
}

type Timings struct {
	Presence    presence.Config
	TypingQuiet time.Duration
	ToastTTL    time.Duration
}

// Deps are the process-wide singletons shared by all sessions.
type Deps struct {
	Chat      *chat.Service
	Presence  realtime.Channel
	Directory *presence.Directory
	Typing    realtime.Channel
	Profiles  Profiles
	Pusher    notify.Pusher
	Timings   Timings
}

type Identity struct {
	UserID   string
	Username string
	Role     conversation.Role
}

type Session struct {
	deps    Deps
	id      Identity
	name    string
	loc     *time.Location
	emit    func(Frame)
	store   *chat.Store
	tracker *presence.Tracker
	notify  *notify.Dispatcher

	mu          sync.Mutex
	partner     string
	thread      *conversation.Thread
	coordinator *typing.Coordinator
	watcher     *typing.Watcher
	unsubscribe func()
	closed      bool
}

// New builds the session of one tab. emit receives every outbound frame and
// must not block.
func New(deps Deps, id Identity, loc *time.Location, emit func(Frame)) *Session {
	if loc == nil {
		loc = time.Local
	}
	s := &Session{
		deps:  deps,
		id:    id,
		loc:   loc,
		emit:  emit,
		store: deps.Chat.As(id.UserID),
	}
	s.tracker = presence.NewTracker(deps.Presence, deps.Directory, deps.Profiles, deps.Timings.Presence)
	s.notify = notify.NewDispatcher(id.UserID, s.store, deps.Profiles, s, deps.Pusher, deps.Timings.ToastTTL)
	s.thread = s.newThread()
	return s
}

func (s *Session) UserID() string { return s.id.UserID }

func (s *Session) newThread() *conversation.Thread {
	return conversation.NewThread(s.id.UserID, s.deps.Chat.HistoryLimit(), s.deps.Profiles, s.deps.Directory)
}

// Start joins presence, loads the badge and, for employees, opens the
// thread with the admin who last wrote to them.
func (s *Session) Start(ctx context.Context) error {
	s.name = s.deps.Profiles.DisplayName(ctx, s.id.UserID)

	initial := presence.Online
	if raw, err := s.deps.Profiles.ProfileStatus(ctx, s.id.UserID); err == nil && raw == string(presence.Busy) {
		initial = presence.Busy
	}
	if err := s.tracker.Join(ctx, s.id.UserID, s.name, initial); err != nil {
		return fmt.Errorf("join presence: %w", err)
	}
	s.emitPresenceSnapshot()

	unsubscribe := s.store.SubscribeAll(s.onInsert, s.onUpdate, s.onDelete)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.notify.Load(ctx); err != nil {
		s.fail(chat.OpLoad, fmt.Errorf("load unread: %w", err))
	}

	if s.id.Role == conversation.RoleEmployee {
		inbox, err := s.store.Inbox(ctx, 0)
		if err != nil {
			s.fail(chat.OpLoad, err)
			return nil
		}
		partner, err := conversation.ResolvePartner(s.id.Role, s.id.UserID, "", inbox)
		if errors.Is(err, chat.ErrRecipientUnresolved) {
			// sending stays blocked until an admin writes first
			s.emitThread(ctx, "")
			return nil
		}
		s.openThread(ctx, partner)
	}
	return nil
}

// Close releases everything the session holds. Only this tab's presence
// record is removed; other tabs of the same user keep them online.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe, coord, watcher := s.unsubscribe, s.coordinator, s.watcher
	s.coordinator, s.watcher = nil, nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if coord != nil {
		coord.Close(ctx)
	}
	if watcher != nil {
		watcher.Close()
	}
	s.notify.Close()
	s.tracker.Leave(ctx)
}

// Handle executes one inbound frame.
func (s *Session) Handle(ctx context.Context, in Inbound) {
	switch in.Type {
	case InActivity:
		s.tracker.Activity(ctx)
	case InVisibility:
		s.tracker.SetHidden(ctx, in.Hidden)
		s.notify.SetHidden(in.Hidden)
	case InStatus:
		s.SetStatus(ctx, in.Status)
	case InUnload:
		s.tracker.Unload(ctx)
	case InTyping:
		if c := s.currentCoordinator(); c != nil {
			c.HandleTyping(ctx)
		}
	case InStopTyping:
		if c := s.currentCoordinator(); c != nil {
			c.StopTyping(ctx)
		}
	case InOpenInbox:
		if err := s.notify.OpenInbox(ctx); err != nil {
			s.fail(chat.OpRead, err)
		}
	case InToastClick:
		if err := s.notify.ToastClicked(ctx, in.ID); err != nil {
			s.fail(chat.OpRead, err)
		}
	case InToastClose:
		s.notify.ToastClosed(in.ID)
	case InOpenThread:
		if s.id.Role != conversation.RoleAdmin {
			log.Debug().Str("user_id", s.id.UserID).Msg("open_thread ignored for employee")
			return
		}
		partner, err := conversation.ResolvePartner(s.id.Role, s.id.UserID, in.UserID, nil)
		if err != nil {
			s.fail(chat.OpLoad, err)
			return
		}
		s.openThread(ctx, partner)
	case InSend:
		s.send(ctx, in)
	case InEdit:
		m, err := s.store.Edit(ctx, in.ID, in.Text)
		s.applyLocal(chat.OpEdit, m, err)
	case InDelete:
		if err := s.store.Delete(ctx, in.ID); err != nil {
			s.fail(chat.OpDelete, err)
			return
		}
		if s.currentThread().ApplyDelete(in.ID) {
			s.emit(Frame{Type: OutMessageDelete, Data: map[string]string{"id": in.ID}})
		}
	case InPin:
		m, err := s.store.SetPinned(ctx, in.ID, in.Pinned)
		s.applyLocal(chat.OpPin, m, err)
	case InRead:
		m, err := s.store.MarkRead(ctx, in.ID)
		s.applyLocal(chat.OpRead, m, err)
	case InSearch:
		s.emitThread(ctx, in.Query)
	default:
		log.Debug().Str("type", in.Type).Msg("unknown inbound frame")
	}
}

// SetStatus is the manual status change, from the tab or the REST API.
func (s *Session) SetStatus(ctx context.Context, raw string) {
	st, ok := presence.ParseStatus(raw)
	if !ok || st == presence.Offline {
		s.emit(Frame{Type: OutError, Data: ErrorData{Op: InStatus, Message: "Unbekannter Status."}})
		return
	}
	if err := s.tracker.SetStatus(ctx, st); err != nil {
		log.Warn().Err(err).Str("user_id", s.id.UserID).Msg("durable status write failed")
		s.emit(Frame{Type: OutError, Data: ErrorData{Op: InStatus, Message: "Status konnte nicht gespeichert werden."}})
	}
}

func (s *Session) send(ctx context.Context, in Inbound) {
	s.mu.Lock()
	partner, th, coord := s.partner, s.thread, s.coordinator
	s.mu.Unlock()

	if coord != nil {
		coord.StopTyping(ctx)
	}

	var reply *chat.ReplyContext
	if in.ReplyTo != "" {
		quoted, ok := th.Get(in.ReplyTo)
		if !ok {
			// quoted message scrolled out of the loaded window
			var err error
			if quoted, err = s.store.Get(ctx, in.ReplyTo); err != nil {
				s.fail(chat.OpSend, err)
				return
			}
		}
		reply = &chat.ReplyContext{Name: s.deps.Profiles.DisplayName(ctx, quoted.SenderID), Text: quoted.Text}
	}

	m, err := s.store.Send(ctx, partner, in.Text, nil, reply)
	if err != nil {
		s.fail(chat.OpSend, err)
		return
	}
	th.Pending(m)
	s.emitItem(ctx, OutMessage, th, m.ID)
}

// applyLocal shows a store-confirmed mutation before its change event.
func (s *Session) applyLocal(op chat.Op, m *chat.Message, err error) {
	if err != nil {
		s.fail(op, err)
		return
	}
	th := s.currentThread()
	if _, ok := th.Get(m.ID); !ok {
		return
	}
	th.Pending(m)
	s.emitItem(context.Background(), OutMessageUpdate, th, m.ID)
}

func (s *Session) onInsert(m *chat.Message) {
	ctx := context.Background()
	s.mu.Lock()
	partner, th := s.partner, s.thread
	s.mu.Unlock()

	switch {
	case s.id.Role == conversation.RoleEmployee && m.SenderID != s.id.UserID && m.SenderID != partner:
		// the latest admin to write becomes the reply target
		s.openThread(ctx, m.SenderID)
	case m.Partner(s.id.UserID) == partner:
		if th.ApplyInsert(m) {
			s.emitItem(ctx, OutMessage, th, m.ID)
		}
	}
	s.notify.HandleInsert(ctx, m)
}

func (s *Session) onUpdate(m *chat.Message) {
	ctx := context.Background()
	th := s.currentThread()
	if th.ApplyUpdate(m) {
		s.emitItem(ctx, OutMessageUpdate, th, m.ID)
	}
	s.notify.HandleUpdate(ctx, m)
}

func (s *Session) onDelete(m *chat.Message) {
	if s.currentThread().ApplyDelete(m.ID) {
		s.emit(Frame{Type: OutMessageDelete, Data: map[string]string{"id": m.ID}})
	}
}

// openThread switches the session to the conversation with partner.
func (s *Session) openThread(ctx context.Context, partner string) {
	th := s.newThread()
	coord := typing.NewCoordinator(s.deps.Typing, s.id.UserID, s.name, partner, s.deps.Timings.TypingQuiet)
	watcher := typing.NewWatcher(s.deps.Typing, s.id.UserID, partner, 2*s.deps.Timings.TypingQuiet, func(names []string) {
		s.emit(Frame{Type: OutTyping, Data: map[string]any{"partner_id": partner, "names": names}})
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		watcher.Close()
		return
	}
	oldCoord, oldWatcher := s.coordinator, s.watcher
	s.partner, s.thread, s.coordinator, s.watcher = partner, th, coord, watcher
	s.mu.Unlock()

	if oldCoord != nil {
		oldCoord.Close(ctx)
	}
	if oldWatcher != nil {
		oldWatcher.Close()
	}

	// the new thread is live before loading, so inserts racing the query
	// are merged by id instead of lost
	msgs, err := s.store.Thread(ctx, partner, 0)
	if err != nil {
		s.fail(chat.OpLoad, err)
		return
	}
	th.Load(msgs)
	s.emitThread(ctx, "")
}

func (s *Session) currentThread() *conversation.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

func (s *Session) currentCoordinator() *typing.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator
}

// Partner is the current conversation partner, empty when unresolved.
func (s *Session) Partner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partner
}

// emitThread sends the whole rendered window, filtered by query.
func (s *Session) emitThread(ctx context.Context, query string) {
	s.mu.Lock()
	partner, th := s.partner, s.thread
	s.mu.Unlock()

	data := map[string]any{
		"partner_id": partner,
		"query":      query,
		"groups":     th.Render(ctx, conversation.RenderOptions{Now: time.Now(), Location: s.loc, Query: query}),
	}
	if partner != "" {
		data["partner_name"] = s.deps.Profiles.DisplayName(ctx, partner)
		data["partner_status"] = s.deps.Directory.ResolveStatus(ctx, partner)
	}
	s.emit(Frame{Type: OutThread, Data: data})
}

func (s *Session) emitItem(ctx context.Context, typ string, th *conversation.Thread, id string) {
	if it, ok := th.Item(ctx, id, time.Now(), s.loc); ok {
		s.emit(Frame{Type: typ, Data: it})
	}
}

func (s *Session) emitPresenceSnapshot() {
	snap := s.deps.Directory.Snapshot()
	updates := make([]PresenceUpdate, len(snap))
	for i, rec := range snap {
		updates[i] = PresenceUpdate{UserID: rec.UserID, Status: string(rec.Status), LastSeen: rec.LastSeen, DisplayName: rec.DisplayName}
	}
	s.emit(Frame{Type: OutPresence, Data: updates})
}

// fail surfaces a failed user action as a German toast.
func (s *Session) fail(op chat.Op, err error) {
	log.Debug().Err(err).Str("user_id", s.id.UserID).Str("op", string(op)).Msg("session action failed")
	s.emit(Frame{Type: OutError, Data: ErrorData{Op: string(op), Message: chat.UserMessage(op, err)}})
}

// notify.Output

func (s *Session) Unread(count int) {
	s.emit(Frame{Type: OutUnread, Data: map[string]int{"count": count}})
}

func (s *Session) Sound() {
	s.emit(Frame{Type: OutSound})
}

func (s *Session) Toast(t notify.Toast) {
	s.emit(Frame{Type: OutToast, Data: t})
}

func (s *Session) DismissToast(id string) {
	s.emit(Frame{Type: OutToastDismiss, Data: map[string]string{"id": id}})
}

func (s *Session) OpenInbox() {
	s.emit(Frame{Type: OutOpenInbox})
}
