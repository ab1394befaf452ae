package chat_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelchat/internal/chat"
	"panelchat/internal/chat/chattest"
)

type fixture struct {
	repo   *chattest.Memory
	images *chattest.Images
	svc    *chat.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	feed := chat.NewFeed(nil)
	go feed.Run(ctx)
	t.Cleanup(cancel)

	f := &fixture{repo: chattest.NewMemory(), images: chattest.NewImages()}
	f.svc = chat.NewService(f.repo, feed, f.images, 5<<20, 100)
	return f
}

type events struct {
	mu      sync.Mutex
	inserts []*chat.Message
	updates []*chat.Message
	deletes []*chat.Message
}

func (e *events) count() (int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inserts), len(e.updates), len(e.deletes)
}

func subscribe(st *chat.Store) *events {
	e := &events{}
	st.SubscribeAll(
		func(m *chat.Message) { e.mu.Lock(); e.inserts = append(e.inserts, m); e.mu.Unlock() },
		func(m *chat.Message) { e.mu.Lock(); e.updates = append(e.updates, m); e.mu.Unlock() },
		func(m *chat.Message) { e.mu.Lock(); e.deletes = append(e.deletes, m); e.mu.Unlock() },
	)
	return e
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	anna := f.svc.As("anna")

	_, err := anna.Send(ctx, "ben", "   ", nil, nil)
	assert.ErrorIs(t, err, chat.ErrValidation)

	_, err = anna.Send(ctx, "", "hallo", nil, nil)
	assert.ErrorIs(t, err, chat.ErrRecipientUnresolved)

	big := &chat.Upload{Name: "a.png", ContentType: "image/png", Size: 6 << 20, Body: strings.NewReader("x")}
	_, err = anna.Send(ctx, "ben", "", big, nil)
	assert.ErrorIs(t, err, chat.ErrImageTooLarge)
	assert.ErrorIs(t, err, chat.ErrValidation)

	pdf := &chat.Upload{Name: "a.pdf", ContentType: "application/pdf", Size: 10, Body: strings.NewReader("x")}
	_, err = anna.Send(ctx, "ben", "", pdf, nil)
	assert.ErrorIs(t, err, chat.ErrNotAnImage)
}

func TestSendWithImageAndReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	anna := f.svc.As("anna")

	img := &chat.Upload{Name: "Foto.PNG", ContentType: "image/png", Size: 4, Body: strings.NewReader("data")}
	m, err := anna.Send(ctx, "ben", "Hello", img, &chat.ReplyContext{Name: "Ben", Text: "Can you check this ticket please"})
	require.NoError(t, err)

	assert.Equal(t, "> Ben: Can you check this ticket please\n\nHello", m.Text)
	require.NotNil(t, m.ImageURL)
	assert.True(t, strings.HasPrefix(*m.ImageURL, "https://cdn.test/chat/anna/"))
	assert.True(t, strings.HasSuffix(*m.ImageURL, ".png"))
	assert.False(t, m.Edited())
	assert.Equal(t, m.CreatedAt, m.CreatedAt.Truncate(time.Microsecond))
	assert.Equal(t, 1, f.images.Len())

	stored, err := f.svc.As("ben").Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Text, stored.Text)
}

func TestUploadFailureAbortsSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.images.Fail = true

	img := &chat.Upload{Name: "a.jpg", ContentType: "image/jpeg", Size: 4, Body: strings.NewReader("data")}
	_, err := f.svc.As("anna").Send(ctx, "ben", "hi", img, nil)
	assert.ErrorIs(t, err, chat.ErrUpload)

	n, err := f.svc.As("ben").UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditAndDeleteAreSenderOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	anna, ben := f.svc.As("anna"), f.svc.As("ben")

	m, err := anna.Send(ctx, "ben", "original", nil, nil)
	require.NoError(t, err)

	_, err = ben.Edit(ctx, m.ID, "hijacked")
	assert.ErrorIs(t, err, chat.ErrAuthorization)
	assert.ErrorIs(t, ben.Delete(ctx, m.ID), chat.ErrAuthorization)

	stored, err := anna.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Text)
	assert.False(t, stored.Edited())

	time.Sleep(time.Millisecond)
	edited, err := anna.Edit(ctx, m.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Text)
	assert.True(t, edited.Edited())

	require.NoError(t, anna.Delete(ctx, m.ID))
	_, err = anna.Get(ctx, m.ID)
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestPinByEitherParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m, err := f.svc.As("anna").Send(ctx, "ben", "pin me", nil, nil)
	require.NoError(t, err)

	pinned, err := f.svc.As("ben").SetPinned(ctx, m.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	unpinned, err := f.svc.As("anna").SetPinned(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)

	_, err = f.svc.As("carl").SetPinned(ctx, m.ID, true)
	assert.ErrorIs(t, err, chat.ErrAuthorization)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ben := f.svc.As("ben")
	e := subscribe(ben)

	m, err := f.svc.As("anna").Send(ctx, "ben", "hi", nil, nil)
	require.NoError(t, err)

	_, err = f.svc.As("anna").MarkRead(ctx, m.ID)
	assert.ErrorIs(t, err, chat.ErrAuthorization)

	first, err := ben.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	time.Sleep(2 * time.Millisecond)
	second, err := ben.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)

	n, err := ben.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// one insert, one update; the second mark publishes nothing
	assert.Eventually(t, func() bool {
		ins, upd, _ := e.count()
		return ins == 1 && upd == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, upd, _ := e.count()
	assert.Equal(t, 1, upd)
}

func TestMarkAllReadScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.As("anna").Send(ctx, "ben", "hi", nil, nil)
		require.NoError(t, err)
	}
	_, err := f.svc.As("carl").Send(ctx, "ben", "hey", nil, nil)
	require.NoError(t, err)

	ben := f.svc.As("ben")
	n, err := ben.MarkAllRead(ctx, "carl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ben.MarkAllRead(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	unread, err := ben.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSubscribeIsScopedToParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	carl := subscribe(f.svc.As("carl"))
	ben := subscribe(f.svc.As("ben"))

	m, err := f.svc.As("anna").Send(ctx, "ben", "hi", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.As("anna").Delete(ctx, m.ID))

	assert.Eventually(t, func() bool {
		ins, _, del := ben.count()
		return ins == 1 && del == 1
	}, time.Second, 5*time.Millisecond)

	ins, upd, del := carl.count()
	assert.Zero(t, ins+upd+del)
}

func TestStoreFailuresAreTransportErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.SetDown(true)

	_, err := f.svc.As("anna").Send(ctx, "ben", "hi", nil, nil)
	assert.ErrorIs(t, err, chat.ErrTransport)
	assert.Equal(t, "Nachricht konnte nicht gesendet werden.", chat.UserMessage(chat.OpSend, err))

	_, err = f.svc.As("anna").UnreadCount(ctx)
	assert.ErrorIs(t, err, chat.ErrTransport)
}

func TestThreadWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ben := "ben"
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.repo.Seed(&chat.Message{ID: string(rune('a' + i)), SenderID: "anna", RecipientID: &ben, CreatedAt: at, UpdatedAt: at})
	}

	msgs, err := f.svc.As("ben").Thread(ctx, "anna", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}
