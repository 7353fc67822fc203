package connect

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// pendingLogin is what a state token stands for until the provider redirects back.
type pendingLogin struct {
	UserID    string
	Provider  string
	ExpiresAt time.Time
}

// StateStore issues single-use CSRF state tokens for the connect flow.
type StateStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	pending map[string]pendingLogin
}

// NewStateStore creates a store whose tokens expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{ttl: ttl, now: time.Now, pending: make(map[string]pendingLogin)}
}

// Issue returns a new state token bound to userID and provider.
func (s *StateStore) Issue(userID, provider string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingLogin{UserID: userID, Provider: provider, ExpiresAt: now.Add(s.ttl)}
	return state, nil
}

// Consume validates and removes a state token. A token can be consumed once.
func (s *StateStore) Consume(state, provider string) (pendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[state]
	if !ok {
		return pendingLogin{}, false
	}
	delete(s.pending, state)
	if p.Provider != provider || s.now().After(p.ExpiresAt) {
		return pendingLogin{}, false
	}
	return p, true
}
