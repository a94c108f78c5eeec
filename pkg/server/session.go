package server

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// TokenSource mints session tokens. *crypto.Generator satisfies it.
type TokenSource interface {
	NewToken() (string, error)
}

var _ TokenSource = (*crypto.Generator)(nil)

// SessionManager is the registry of live sessions, indexed by username and
// by endpoint. One lock guards both indexes; callers only ever get copies.
type SessionManager struct {
	mu         sync.RWMutex
	byUser     map[string]*model.Session
	byEndpoint map[netip.AddrPort]*model.Session

	tokens TokenSource
	now    func() time.Time
}

// NewSessionManager creates an empty registry.
func NewSessionManager(tokens TokenSource) *SessionManager {
	return &SessionManager{
		byUser:     make(map[string]*model.Session),
		byEndpoint: make(map[netip.AddrPort]*model.Session),
		tokens:     tokens,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// normalizeEndpoint unmaps IPv4-in-IPv6 addresses so a peer has one key
// regardless of the socket family it arrived on.
func normalizeEndpoint(ep netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())
}

// Create registers a session with a fresh token. It fails with
// model.ErrSessionExists if the username or the endpoint is taken.
func (sm *SessionManager) Create(username string, endpoint netip.AddrPort) (model.Session, error) {
	endpoint = normalizeEndpoint(endpoint)

	token, err := sm.tokens.NewToken()
	if err != nil {
		return model.Session{}, fmt.Errorf("server: create session: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.byUser[username]; exists {
		return model.Session{}, model.ErrSessionExists
	}
	if _, exists := sm.byEndpoint[endpoint]; exists {
		return model.Session{}, model.ErrSessionExists
	}

	sess := &model.Session{
		ID:        uuid.New(),
		Endpoint:  endpoint,
		Username:  username,
		Token:     token,
		CreatedAt: sm.now(),
	}
	sm.byUser[username] = sess
	sm.byEndpoint[endpoint] = sess
	return *sess, nil
}

// FindByUsername returns a copy of the session for name.
func (sm *SessionManager) FindByUsername(name string) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.byUser[name]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// FindByEndpoint returns a copy of the session bound to endpoint.
func (sm *SessionManager) FindByEndpoint(endpoint netip.AddrPort) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.byEndpoint[normalizeEndpoint(endpoint)]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// Remove deletes the live session matching s. A stale copy whose token no
// longer matches the registered session removes nothing.
func (sm *SessionManager) Remove(s model.Session) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	live, ok := sm.byUser[s.Username]
	if !ok || live.Token != s.Token {
		return false
	}
	sm.removeLocked(live)
	return true
}

func (sm *SessionManager) removeLocked(s *model.Session) {
	delete(sm.byUser, s.Username)
	delete(sm.byEndpoint, s.Endpoint)
}

// Touch resets the idle counter of the session bound to endpoint.
func (sm *SessionManager) Touch(endpoint netip.AddrPort) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.byEndpoint[normalizeEndpoint(endpoint)]
	if !ok {
		return false
	}
	s.IdleMinutes = 0
	return true
}

// Sweep increments every session's idle counter and removes those whose new
// value exceeds limit. The removed sessions are returned.
func (sm *SessionManager) Sweep(limit int) []model.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var evicted []model.Session
	for _, s := range sm.byUser {
		s.IdleMinutes++
		if s.IdleMinutes > limit {
			evicted = append(evicted, *s)
			sm.removeLocked(s)
		}
	}
	return evicted
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser)
}

// All returns a snapshot of all live sessions.
func (sm *SessionManager) All() []model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]model.Session, 0, len(sm.byUser))
	for _, s := range sm.byUser {
		result = append(result, *s)
	}
	return result
}
