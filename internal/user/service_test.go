package user

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelchat/internal/events"
)

type memRepo struct {
	mu      sync.Mutex
	byID    map[string]*User
	lookups int
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]*User)}
}

func (m *memRepo) CreateUser(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Username == u.Username {
			return nil, errors.New("duplicate username")
		}
	}
	c := *u
	m.byID[u.ID] = &c
	return u, nil
}

func (m *memRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memRepo) SearchUsers(_ context.Context, query, role string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.byID {
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) && (role == "" || u.Role == role) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memRepo) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id, status string) error {
	return m.update(id, func(u *User) { u.Status = status })
}

func (m *memRepo) UpdateAvatar(_ context.Context, id, url string) error {
	return m.update(id, func(u *User) { u.AvatarURL = url })
}

func (m *memRepo) SetRole(ctx context.Context, username, role string) error {
	u, err := m.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return m.update(u.ID, func(u *User) { u.Role = role })
}

type memAvatars struct{ keys []string }

func (a *memAvatars) Upload(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	_, err := io.ReadAll(body)
	a.keys = append(a.keys, key)
	return err
}

func (a *memAvatars) PublicURL(key string) string { return "https://cdn.test/" + key }

func TestRegisterLoginAndValidate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemRepo(), "secret", nil, nil)

	u, err := svc.Register(ctx, &RegisterRequest{Username: "anna", Password: "correct horse", DisplayName: "Anna Schmidt"})
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, u.Role)
	assert.Equal(t, "offline", u.Status)

	_, err = svc.Register(ctx, &RegisterRequest{Username: "ben", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Login(ctx, &RegisterRequest{Username: "anna", Password: "wrong password"})
	assert.Error(t, err)

	res, err := svc.Login(ctx, &RegisterRequest{Username: "anna", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "Anna Schmidt", res.DisplayName)

	id, name, role, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, "anna", name)
	assert.Equal(t, RoleEmployee, role)

	_, _, _, err = NewService(newMemRepo(), "other", nil, nil).ValidateToken(res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisplayNameIsCached(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo, "secret", nil, nil)
	u, err := svc.Register(ctx, &RegisterRequest{Username: "ben", Password: "12345678"})
	require.NoError(t, err)

	assert.Equal(t, "ben", svc.DisplayName(ctx, u.ID))
	assert.Equal(t, "ben", svc.DisplayName(ctx, u.ID))
	assert.Equal(t, 1, repo.lookups)

	assert.Equal(t, "ghost", svc.DisplayName(ctx, "ghost"))
}

func TestStatusAndPromote(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemRepo(), "secret", nil, nil)
	u, err := svc.Register(ctx, &RegisterRequest{Username: "carl", Password: "12345678"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(ctx, u.ID, "busy"))
	status, err := svc.ProfileStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "busy", status)

	require.NoError(t, svc.Promote(ctx, "carl", RoleAdmin))
	p, err := svc.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role)

	assert.ErrorIs(t, svc.Promote(ctx, "carl", "root"), ErrInvalidInput)
	assert.ErrorIs(t, svc.Promote(ctx, "nobody", RoleAdmin), ErrNotFound)
}

func TestUpdateAvatarPublishesEvent(t *testing.T) {
	ctx := context.Background()
	bus := events.New()
	avatars := &memAvatars{}
	svc := NewService(newMemRepo(), "secret", avatars, bus)
	u, err := svc.Register(ctx, &RegisterRequest{Username: "dora", Password: "12345678"})
	require.NoError(t, err)

	var got []events.AvatarUpdated
	bus.Avatars.Subscribe(func(e events.AvatarUpdated) { got = append(got, e) })

	_, err = svc.UpdateAvatar(ctx, u.ID, "me.txt", "text/plain", 3, strings.NewReader("abc"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	url, err := svc.UpdateAvatar(ctx, u.ID, "Me.JPG", "image/jpeg", 3, strings.NewReader("abc"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.test/avatars/"+u.ID+"/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))
	require.Len(t, got, 1)
	assert.Equal(t, events.AvatarUpdated{UserID: u.ID, URL: url}, got[0])
}
