package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mcpanvil/core/internal/domain/ratelimit"
)

const secretRandomBytes = 24 // 48 hex chars of entropy per key

// Failure is returned by Validate when a key fails validation; it never
// reveals whether the id existed, matching spec §3's "no user enumeration"
// invariant.
type Failure struct {
	Reason      ratelimit.FailureReason
	RateLimited bool
	RetryAfter  time.Duration
}

func (f *Failure) Error() string {
	if f.RateLimited {
		return "auth: rate limited"
	}
	return fmt.Sprintf("auth: validation failed (%s)", f.Reason)
}

// Manager implements API key lifecycle and validation (spec §3 C3+C4):
// create_key, validate, list, revoke, update, stats.
type Manager struct {
	store    KeyStore
	failures *ratelimit.FailureTracker
}

// NewManager builds a Manager over store, tracking validation failures
// under policy.
func NewManager(store KeyStore, policy ratelimit.FailurePolicy) *Manager {
	return &Manager{store: store, failures: ratelimit.NewFailureTracker(policy)}
}

// CreateKey generates a new key's id/secret/hash, persists the secure
// projection, and returns the ApiKey carrying the plaintext secret exactly
// once (spec §3 invariant).
func (m *Manager) CreateKey(ctx context.Context, name string, role Role, expiresAt *time.Time, whitelist IPWhitelist) (*ApiKey, error) {
	id, err := generateID(role)
	if err != nil {
		return nil, err
	}
	randomPart, err := generateRandomHex(secretRandomBytes)
	if err != nil {
		return nil, err
	}
	secret := id + "." + randomPart

	hash, err := HashSecretArgon2id(secret)
	if err != nil {
		return nil, fmt.Errorf("auth: hash secret: %w", err)
	}

	key := &ApiKey{
		ID:          id,
		Name:        name,
		Secret:      secret,
		SecretHash:  hash,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
		IPWhitelist: whitelist,
		Active:      true,
	}

	persisted := key.Secure().Restore()
	if err := m.store.Create(ctx, persisted); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate resolves secret to an AuthContext. It first tries the id-prefix
// fast path (secret carries "<id>.<random>"), falling back to a full scan
// with constant-time comparison for keys presented without a resolvable
// prefix. On failure it records the failure against clientIP and returns a
// *Failure, blocking the client once the configured threshold is crossed.
func (m *Manager) Validate(ctx context.Context, secret, clientIP string) (*AuthContext, error) {
	if clientIP != "" {
		if blocked, retryAfter := m.failures.Blocked(clientIP, ratelimit.ReasonInvalidKey); blocked {
			return nil, &Failure{Reason: ratelimit.ReasonInvalidKey, RateLimited: true, RetryAfter: retryAfter}
		}
	}

	key, err := m.resolve(ctx, secret)
	if err != nil {
		return nil, m.recordFailure(clientIP, ratelimit.ReasonInvalidKey)
	}

	if !key.Active {
		return nil, m.recordFailure(clientIP, ratelimit.ReasonRevokedKey)
	}
	if key.Expired() {
		return nil, m.recordFailure(clientIP, ratelimit.ReasonExpiredKey)
	}
	if clientIP != "" && !key.IPWhitelist.Allows(clientIP) {
		return nil, m.recordFailure(clientIP, ratelimit.ReasonIPMismatch)
	}

	if clientIP != "" {
		m.failures.Reset(clientIP, ratelimit.ReasonInvalidKey)
	}

	now := time.Now().UTC()
	key.LastUsed = &now
	key.UsageCount++
	if err := m.store.Update(ctx, key); err != nil {
		return nil, err
	}

	return &AuthContext{
		UserID:   key.ID,
		Roles:    []Role{key.Role},
		APIKeyID: key.ID,
	}, nil
}

func (m *Manager) recordFailure(clientIP string, reason ratelimit.FailureReason) error {
	if clientIP == "" {
		return &Failure{Reason: reason}
	}
	blocked, retryAfter := m.failures.RecordFailure(clientIP, reason)
	return &Failure{Reason: reason, RateLimited: blocked, RetryAfter: retryAfter}
}

// resolve finds the key a secret belongs to, by id-prefix fast path when
// the secret has the "<id>.<random>" shape, or by scanning all keys with
// constant-time comparison otherwise.
func (m *Manager) resolve(ctx context.Context, secret string) (*ApiKey, error) {
	if id, _, ok := strings.Cut(secret, "."); ok {
		if key, err := m.store.Get(ctx, id); err == nil {
			if match, _ := VerifySecret(secret, key.SecretHash); match {
				return key, nil
			}
		}
	}

	keys, err := m.store.List(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, candidate := range keys {
		match, verifyErr := VerifySecret(secret, candidate.SecretHash)
		if verifyErr != nil {
			continue
		}
		if match {
			return candidate, nil
		}
	}
	return nil, ErrKeyNotFound
}

// List returns every key's secure projection restored (no plaintext).
func (m *Manager) List(ctx context.Context) ([]*ApiKey, error) {
	return m.store.List(ctx)
}

// Revoke deactivates a key without deleting its record, preserving audit
// history (spec §3 update path).
func (m *Manager) Revoke(ctx context.Context, id string) error {
	key, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	key.Active = false
	return m.store.Update(ctx, key)
}

// Update applies a mutation function to an existing key and persists it.
func (m *Manager) Update(ctx context.Context, id string, mutate func(*ApiKey)) error {
	key, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(key)
	return m.store.Update(ctx, key)
}

// Stats summarizes the key population for the supplemented reporting
// feature (SPEC_FULL.md §3.1).
type Stats struct {
	Total       int
	Active      int
	Expired     int
	Revoked     int
	ByRole      map[string]int
	TotalUsage  uint64
}

// Stats aggregates current key population metrics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByRole: make(map[string]int)}
	for _, k := range keys {
		s.Total++
		s.ByRole[k.Role.Kind.String()]++
		s.TotalUsage += k.UsageCount
		switch {
		case !k.Active:
			s.Revoked++
		case k.Expired():
			s.Expired++
		default:
			s.Active++
		}
	}
	return s, nil
}

func generateID(role Role) (string, error) {
	random, err := generateRandomHex(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d_%s", role.Kind.String(), time.Now().UTC().UnixNano(), random), nil
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
