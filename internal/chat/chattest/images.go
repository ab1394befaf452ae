package chattest

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Images is an in-memory chat.ImageStore.
type Images struct {
	mu      sync.Mutex
	objects map[string][]byte
	Fail    bool
}

func NewImages() *Images {
	return &Images{objects: make(map[string][]byte)}
}

func (s *Images) Upload(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if s.Fail {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *Images) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *Images) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
