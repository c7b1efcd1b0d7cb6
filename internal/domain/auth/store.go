package auth

import (
	"context"
	"errors"
)

// Sentinel errors returned by KeyStore implementations.
var (
	ErrKeyNotFound = errors.New("auth: api key not found")
	ErrInvalidKey  = errors.New("auth: invalid api key")
)

// KeyStore is the persistence port for API keys (spec §3 C3). Concrete
// adapters live under internal/adapter/outbound/memory (in-memory),
// internal/keystore (env-blob, file-encrypted) and internal/sqlstore
// (durable, optional).
type KeyStore interface {
	// Create persists a new key. The key's Secret field must already be
	// cleared by the caller; only SecretHash is stored.
	Create(ctx context.Context, key *ApiKey) error

	// Get retrieves a key by ID.
	Get(ctx context.Context, id string) (*ApiKey, error)

	// List returns every stored key (no plaintext secrets).
	List(ctx context.Context) ([]*ApiKey, error)

	// Update persists changes to an existing key (role, active, expiry,
	// whitelist, usage tracking).
	Update(ctx context.Context, key *ApiKey) error

	// Delete removes a key permanently.
	Delete(ctx context.Context, id string) error
}
