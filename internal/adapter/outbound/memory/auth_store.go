// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// AuthStore implements auth.KeyStore with an in-memory map. For
// development/testing; production deployments use internal/keystore's
// file-encrypted or sqlstore backends.
type AuthStore struct {
	keys map[string]*auth.ApiKey // id -> ApiKey
	mu   sync.RWMutex
}

// NewAuthStore creates a new in-memory key store.
func NewAuthStore() *AuthStore {
	return &AuthStore{keys: make(map[string]*auth.ApiKey)}
}

func (s *AuthStore) Create(_ context.Context, key *auth.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *AuthStore) Get(_ context.Context, id string) (*auth.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *AuthStore) List(_ context.Context) ([]*auth.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.ApiKey, 0, len(s.keys))
	for _, key := range s.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (s *AuthStore) Update(_ context.Context, key *auth.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return auth.ErrKeyNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *AuthStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

var _ auth.KeyStore = (*AuthStore)(nil)
