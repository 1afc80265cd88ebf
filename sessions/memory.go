package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
)

// MemoryStore is an in-process Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Set creates or replaces a session
func (s *MemoryStore) Set(_ context.Context, id string, sess *Session) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if sess == nil {
		return fmt.Errorf("session is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = copySession(sess)
	return nil
}

// Get retrieves a session, removing it if it has expired
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apperrors.ErrSessionNotFound
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}

	if now := s.now(); sess.Expired(now) {
		s.mu.Lock()
		if current, ok := s.sessions[id]; ok && current.Expired(now) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, apperrors.ErrSessionNotFound
	}
	out := copySession(&sess)
	return &out, nil
}

// copySession copies the session and its token, so neither side of the store
// shares a mutable SecurityToken with the other.
func copySession(sess *Session) Session {
	out := *sess
	if sess.Token != nil {
		tok := *sess.Token
		out.Token = &tok
	}
	return out
}

// Destroy removes a session
func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Sweep drops every expired session and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
