// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
)

// DefaultCleanupInterval is the default interval for the background reaper.
const DefaultCleanupInterval = 1 * time.Minute

// SessionStore implements session.Store with an in-memory map. Safe for
// concurrent use; a background goroutine reaps expired sessions.
type SessionStore struct {
	sessions        map[string]*session.Session
	byRefreshToken  map[string]string // refresh token -> session id
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	once            sync.Once
}

// NewSessionStore creates a new in-memory session store with the default
// cleanup interval.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithConfig(DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates a new in-memory session store with a
// custom cleanup interval.
func NewSessionStoreWithConfig(cleanupInterval time.Duration) *SessionStore {
	return &SessionStore{
		sessions:        make(map[string]*session.Session),
		byRefreshToken:  make(map[string]string),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// StartCleanup starts the background cleanup goroutine. Call Stop to end it.
func (s *SessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *SessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, id)
			delete(s.byRefreshToken, sess.RefreshToken)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("cleaned expired sessions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *SessionStore) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copySession(sess)
	s.sessions[sess.ID] = cp
	s.byRefreshToken[sess.RefreshToken] = sess.ID
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *SessionStore) GetByRefreshToken(_ context.Context, refreshToken string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRefreshToken[refreshToken]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *SessionStore) Update(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}
	s.sessions[sess.ID] = copySession(sess)
	s.byRefreshToken[sess.RefreshToken] = sess.ID
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		delete(s.byRefreshToken, sess.RefreshToken)
	}
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID string) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.IsExpired() {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

func (s *SessionStore) ListExpired(_ context.Context, cutoff time.Time) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

// Size returns the number of sessions currently stored, for tests.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func copySession(sess *session.Session) *session.Session {
	cp := &session.Session{
		ID:           sess.ID,
		UserID:       sess.UserID,
		APIKeyID:     sess.APIKeyID,
		IP:           sess.IP,
		RefreshToken: sess.RefreshToken,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		LastAccess:   sess.LastAccess,
		Roles:        make([]auth.Role, len(sess.Roles)),
	}
	copy(cp.Roles, sess.Roles)
	return cp
}

var _ session.Store = (*SessionStore)(nil)
