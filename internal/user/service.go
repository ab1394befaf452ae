package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"panelchat/internal/events"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidToken = errors.New("invalid token")
)

// UserRepository is implemented by Repository.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	SearchUsers(ctx context.Context, query, role string) ([]User, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateAvatar(ctx context.Context, id, url string) error
	SetRole(ctx context.Context, username, role string) error
}

// AvatarStore is the object storage holding profile pictures.
type AvatarStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

type Service struct {
	repo      UserRepository
	jwtSecret string
	avatars   AvatarStore
	bus       *events.Bus

	mu    sync.RWMutex
	names map[string]string
}

type MyJWTClaims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func NewService(repo UserRepository, secret string, avatars AvatarStore, bus *events.Bus) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		avatars:   avatars,
		bus:       bus,
		names:     make(map[string]string),
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		return nil, fmt.Errorf("%w: username and a password of at least 8 characters are required", ErrInvalidInput)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:          uuid.NewString(),
		Username:    req.Username,
		Password:    string(hashedPwd),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        RoleEmployee,
		Status:      "offline",
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "panelchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		Role:        u.Role,
	}, nil
}

// ValidateToken returns the user id, username and role carried by a token.
func (s *Service) ValidateToken(tokenString string) (string, string, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return "", "", "", ErrInvalidToken
	}
	return claims.ID, claims.Username, claims.Role, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) SearchUsers(ctx context.Context, query, role string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query, role)
}

// ProfileStatus is the durable status, used when no live presence exists.
func (s *Service) ProfileStatus(ctx context.Context, id string) (string, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Status, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) error {
	return s.repo.UpdateStatus(ctx, id, status)
}

// DisplayName resolves and caches the shown name of id. Lookup failures
// fall back to the id itself.
func (s *Service) DisplayName(ctx context.Context, id string) string {
	s.mu.RLock()
	name, ok := s.names[id]
	s.mu.RUnlock()
	if ok {
		return name
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		log.Debug().Err(err).Str("user_id", id).Msg("display name lookup failed")
		return id
	}
	s.mu.Lock()
	s.names[id] = u.Name()
	s.mu.Unlock()
	return u.Name()
}

// UpdateAvatar stores a new profile picture and announces it on the bus.
func (s *Service) UpdateAvatar(ctx context.Context, id, filename, contentType string, size int64, body io.Reader) (string, error) {
	if s.avatars == nil {
		return "", errors.New("no avatar storage configured")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: avatar must be an image", ErrInvalidInput)
	}

	key := fmt.Sprintf("avatars/%s/%s%s", id, uuid.NewString(), strings.ToLower(path.Ext(filename)))
	if err := s.avatars.Upload(ctx, key, body, size, contentType); err != nil {
		return "", err
	}
	url := s.avatars.PublicURL(key)
	if err := s.repo.UpdateAvatar(ctx, id, url); err != nil {
		return "", err
	}

	if s.bus != nil {
		s.bus.Avatars.Publish(events.AvatarUpdated{UserID: id, URL: url})
	}
	return url, nil
}

// Promote changes the role of username; used by the admin CLI.
func (s *Service) Promote(ctx context.Context, username, role string) error {
	if role != RoleAdmin && role != RoleEmployee {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.repo.SetRole(ctx, username, role)
}
