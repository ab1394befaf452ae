package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"panelchat/internal/metrics"
)

// ImageStore is the object storage holding chat images.
type ImageStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

type Service struct {
	repo         Repository
	feed         *Feed
	images       ImageStore
	maxImage     int64
	historyLimit int
	now          func() time.Time
}

func NewService(repo Repository, feed *Feed, images ImageStore, maxImageBytes int64, historyLimit int) *Service {
	return &Service{
		repo:         repo,
		feed:         feed,
		images:       images,
		maxImage:     maxImageBytes,
		historyLimit: historyLimit,
		now:          Now,
	}
}

// Now is the current time at the microsecond precision Postgres stores, so
// a message published on insert matches the rows later updates return.
func Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func (s *Service) HistoryLimit() int { return s.historyLimit }

// As returns the store adapter acting as userID.
func (s *Service) As(userID string) *Store {
	return &Store{svc: s, self: userID}
}

// Store is the message store seen by one user: every operation is
// authorized against that user.
type Store struct {
	svc  *Service
	self string
}

func (st *Store) UserID() string { return st.self }

// Send stores a direct message to recipientID. An attached image is
// uploaded first; if that fails nothing is inserted.
func (st *Store) Send(ctx context.Context, recipientID, text string, image *Upload, reply *ReplyContext) (*Message, error) {
	body := strings.TrimSpace(text)
	if body == "" && image == nil {
		return nil, ErrEmptyMessage
	}
	if image != nil {
		if image.Size > st.svc.maxImage {
			return nil, ErrImageTooLarge
		}
		if !strings.HasPrefix(image.ContentType, "image/") {
			return nil, ErrNotAnImage
		}
	}
	if recipientID == "" {
		return nil, ErrRecipientUnresolved
	}
	if reply != nil {
		body = ComposeText(reply.Name, reply.Text, body)
	}

	now := st.svc.now()
	m := &Message{
		ID:          uuid.NewString(),
		SenderID:    st.self,
		RecipientID: &recipientID,
		Text:        body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if image != nil {
		if st.svc.images == nil {
			return nil, fmt.Errorf("%w: no image storage configured", ErrUpload)
		}
		key := imageKey(st.self, image)
		if err := st.svc.images.Upload(ctx, key, image.Body, image.Size, image.ContentType); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		url := st.svc.images.PublicURL(key)
		m.ImageURL = &url
	}

	if err := st.svc.repo.Insert(ctx, m); err != nil {
		return nil, transport("insert message", err)
	}
	metrics.MessagesSent.Inc()
	st.svc.feed.Publish(ctx, ChangeEvent{Type: EventInsert, Message: m})
	return m, nil
}

func imageKey(userID string, image *Upload) string {
	ext := strings.ToLower(path.Ext(image.Name))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(image.ContentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("chat/%s/%s%s", userID, uuid.NewString(), ext)
}

// get loads id, mapping store failures to ErrTransport.
func (st *Store) get(ctx context.Context, id string) (*Message, error) {
	m, err := st.svc.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transport("get message", err)
	}
	return m, nil
}

func (st *Store) Get(ctx context.Context, id string) (*Message, error) {
	m, err := st.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Involves(st.self) {
		return nil, ErrAuthorization
	}
	return m, nil
}

// Edit replaces the text of one of the user's own messages.
func (st *Store) Edit(ctx context.Context, id, text string) (*Message, error) {
	m, err := st.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != st.self {
		return nil, ErrAuthorization
	}
	text = strings.TrimSpace(text)
	if text == "" && m.ImageURL == nil {
		return nil, ErrEmptyMessage
	}

	updated, err := st.svc.repo.UpdateText(ctx, id, st.self, text, st.svc.now())
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAuthorization
	}
	if err != nil {
		return nil, transport("update message", err)
	}
	st.svc.feed.Publish(ctx, ChangeEvent{Type: EventUpdate, Message: updated})
	return updated, nil
}

// Delete hard-removes one of the user's own messages.
func (st *Store) Delete(ctx context.Context, id string) error {
	m, err := st.get(ctx, id)
	if err != nil {
		return err
	}
	if m.SenderID != st.self {
		return ErrAuthorization
	}

	err = st.svc.repo.Delete(ctx, id, st.self)
	if errors.Is(err, ErrNotFound) {
		return ErrAuthorization
	}
	if err != nil {
		return transport("delete message", err)
	}
	st.svc.feed.Publish(ctx, ChangeEvent{Type: EventDelete, Message: m})
	return nil
}

// SetPinned may be called by either participant.
func (st *Store) SetPinned(ctx context.Context, id string, pinned bool) (*Message, error) {
	m, err := st.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Involves(st.self) {
		return nil, ErrAuthorization
	}

	updated, err := st.svc.repo.SetPinned(ctx, id, st.self, pinned)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAuthorization
	}
	if err != nil {
		return nil, transport("pin message", err)
	}
	st.svc.feed.Publish(ctx, ChangeEvent{Type: EventUpdate, Message: updated})
	return updated, nil
}

// MarkRead sets read_at on a message addressed to the user. Marking an
// already read message keeps the first timestamp and publishes nothing.
func (st *Store) MarkRead(ctx context.Context, id string) (*Message, error) {
	m, err := st.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.IsDirect() || *m.RecipientID != st.self {
		return nil, ErrAuthorization
	}

	updated, err := st.svc.repo.MarkRead(ctx, id, st.self, st.svc.now())
	if err != nil {
		return nil, transport("mark read", err)
	}
	if updated == nil {
		return m, nil
	}
	st.svc.feed.Publish(ctx, ChangeEvent{Type: EventUpdate, Message: updated})
	return updated, nil
}

// MarkAllRead marks every unread message to the user as read, only those
// from senderScope when it is not empty. It returns how many were marked.
func (st *Store) MarkAllRead(ctx context.Context, senderScope string) (int, error) {
	marked, err := st.svc.repo.MarkAllRead(ctx, st.self, senderScope, st.svc.now())
	if err != nil {
		return 0, transport("mark all read", err)
	}
	for _, m := range marked {
		st.svc.feed.Publish(ctx, ChangeEvent{Type: EventUpdate, Message: m})
	}
	return len(marked), nil
}

// window clamps a requested page size to the configured history window.
func (s *Service) window(limit int) int {
	if limit <= 0 || limit > s.historyLimit {
		return s.historyLimit
	}
	return limit
}

// Thread returns the most recent limit messages between the user and
// partnerID in chronological order. limit is capped at the configured
// window; limit <= 0 uses it.
func (st *Store) Thread(ctx context.Context, partnerID string, limit int) ([]*Message, error) {
	limit = st.svc.window(limit)
	msgs, err := st.svc.repo.Thread(ctx, st.self, partnerID, limit)
	if err != nil {
		return nil, transport("load thread", err)
	}
	return msgs, nil
}

// Inbox returns the most recent direct messages of the user with anyone.
func (st *Store) Inbox(ctx context.Context, limit int) ([]*Message, error) {
	limit = st.svc.window(limit)
	msgs, err := st.svc.repo.Inbox(ctx, st.self, limit)
	if err != nil {
		return nil, transport("load inbox", err)
	}
	return msgs, nil
}

func (st *Store) UnreadCount(ctx context.Context) (int, error) {
	n, err := st.svc.repo.UnreadCount(ctx, st.self)
	if err != nil {
		return 0, transport("count unread", err)
	}
	return n, nil
}

// Subscribe registers for INSERT and UPDATE events of the user's direct
// messages. Either callback may be nil.
func (st *Store) Subscribe(onInsert, onUpdate func(*Message)) func() {
	return st.SubscribeAll(onInsert, onUpdate, nil)
}

// SubscribeAll is Subscribe with delete events.
func (st *Store) SubscribeAll(onInsert, onUpdate, onDelete func(*Message)) func() {
	return st.svc.feed.Subscribe(func(ev ChangeEvent) {
		if ev.Message == nil || !ev.Message.Involves(st.self) {
			return
		}
		var fn func(*Message)
		switch ev.Type {
		case EventInsert:
			fn = onInsert
		case EventUpdate:
			fn = onUpdate
		case EventDelete:
			fn = onDelete
		default:
			log.Debug().Str("type", string(ev.Type)).Msg("unknown change event type")
		}
		if fn != nil {
			fn(ev.Message.Clone())
		}
	})
}
