package session

import (
	"context"
	"sync"
)

// ProfileStore persists profiles and the remembered login across runs.
type ProfileStore interface {
	LoadProfile(ctx context.Context, email string) (User, bool, error)
	SaveProfile(ctx context.Context, u User) error
	RememberedLogin(ctx context.Context) (string, bool, error)
	RememberLogin(ctx context.Context, email string) error
	ForgetLogin(ctx context.Context) error
	Close() error
}

// MemoryProfileStore keeps profiles for the lifetime of the process.
type MemoryProfileStore struct {
	mu         sync.RWMutex
	profiles   map[string]User
	remembered string
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]User)}
}

func (s *MemoryProfileStore) LoadProfile(_ context.Context, email string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.profiles[email]
	return u, ok, nil
}

func (s *MemoryProfileStore) SaveProfile(_ context.Context, u User) error {
	s.mu.Lock()
	s.profiles[u.Email] = u
	s.mu.Unlock()
	return nil
}

func (s *MemoryProfileStore) RememberedLogin(context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remembered, s.remembered != "", nil
}

func (s *MemoryProfileStore) RememberLogin(_ context.Context, email string) error {
	s.mu.Lock()
	s.remembered = email
	s.mu.Unlock()
	return nil
}

func (s *MemoryProfileStore) ForgetLogin(context.Context) error {
	s.mu.Lock()
	s.remembered = ""
	s.mu.Unlock()
	return nil
}

func (s *MemoryProfileStore) Close() error { return nil }

var _ ProfileStore = (*MemoryProfileStore)(nil)
