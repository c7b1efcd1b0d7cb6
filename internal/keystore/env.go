package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// EnvStore is an auth.KeyStore that loads its initial key set from a JSON
// blob in an environment variable, for deployments that inject bootstrap
// credentials via the process environment (container secrets, systemd
// EnvironmentFile) rather than a mounted file. It keeps keys in memory
// after load; Export re-serializes the current set for the caller to write
// back to whatever supervises the environment variable.
type EnvStore struct {
	envVar string

	mu   sync.RWMutex
	keys map[string]*auth.ApiKey
}

// NewEnvStore creates a store that will read its bootstrap keys from the
// named environment variable on Load. An unset or empty variable is
// treated as an empty store, not an error.
func NewEnvStore(envVar string) *EnvStore {
	return &EnvStore{envVar: envVar, keys: make(map[string]*auth.ApiKey)}
}

// Load parses the environment variable's JSON array of keys into memory.
func (s *EnvStore) Load() error {
	raw := os.Getenv(s.envVar)
	if raw == "" {
		return nil
	}

	var keys []*auth.ApiKey
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return fmt.Errorf("keystore: parse %s: %w", s.envVar, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.keys[k.ID] = k
	}
	return nil
}

// Export serializes the current key set back to a JSON blob suitable for
// re-injection into the environment variable this store reads from.
func (s *EnvStore) Export() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*auth.ApiKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal export: %w", err)
	}
	return string(data), nil
}

func (s *EnvStore) Create(_ context.Context, key *auth.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *EnvStore) Get(_ context.Context, id string) (*auth.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *EnvStore) List(_ context.Context) ([]*auth.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.ApiKey, 0, len(s.keys))
	for _, key := range s.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (s *EnvStore) Update(_ context.Context, key *auth.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return auth.ErrKeyNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *EnvStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return auth.ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

var _ auth.KeyStore = (*EnvStore)(nil)
