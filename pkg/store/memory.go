package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// MemoryStore is an in-memory CredentialStore for tests and embedding.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	users map[string]memoryUser
}

type memoryUser struct {
	id        int64
	password  string
	createdAt time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:   func() time.Time { return time.Now().UTC() },
		users: make(map[string]memoryUser),
	}
}

// NewMemoryWithUsers creates a MemoryStore seeded from a username->password map.
func NewMemoryWithUsers(users map[string]string) (*MemoryStore, error) {
	s := NewMemory()
	for name, pass := range users {
		if err := s.Add(name, pass); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a user. Names must pass model.ValidateUsername.
func (s *MemoryStore) Add(username, password string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("store: add user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("store: add user: %q already exists", username)
	}
	s.users[username] = memoryUser{
		id:        int64(len(s.users) + 1),
		password:  password,
		createdAt: s.now(),
	}
	return nil
}

// Verify reports whether password matches username's password.
func (s *MemoryStore) Verify(username, password string) bool {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	return ok && crypto.EqualStrings(u.password, password)
}

// Count returns the number of users.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// ListUsers returns all users ordered by username.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.users))
	for name, u := range s.users {
		users = append(users, model.User{ID: u.id, Username: name, CreatedAt: u.createdAt})
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
