package auth

import (
	"context"
	"testing"
	"time"

	"github.com/mcpanvil/core/internal/domain/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory KeyStore for manager tests.
type memStore struct {
	keys map[string]*ApiKey
}

func newMemStore() *memStore { return &memStore{keys: make(map[string]*ApiKey)} }

func (s *memStore) Create(_ context.Context, key *ApiKey) error {
	s.keys[key.ID] = key
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*ApiKey, error) {
	k, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func (s *memStore) List(_ context.Context) ([]*ApiKey, error) {
	out := make([]*ApiKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (s *memStore) Update(_ context.Context, key *ApiKey) error {
	s.keys[key.ID] = key
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	delete(s.keys, id)
	return nil
}

func testPolicy() ratelimit.FailurePolicy {
	return ratelimit.FailurePolicy{MaxFailedAttempts: 3, Window: time.Minute, BlockDuration: time.Minute}
}

func TestManagerCreateAndValidate(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	key, err := m.CreateKey(context.Background(), "ops", NewOperatorRole(), nil, IPWhitelist{})
	require.NoError(t, err)
	require.NotEmpty(t, key.Secret)

	ctx, err := m.Validate(context.Background(), key.Secret, "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, key.ID, ctx.APIKeyID)
	assert.True(t, ctx.HasPermission("tools.call"))
	assert.False(t, ctx.HasPermission("admin.keys.create"))
}

func TestManagerValidateWrongSecretFails(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	_, err := m.CreateKey(context.Background(), "ops", NewOperatorRole(), nil, IPWhitelist{})
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), "bogus.secret", "203.0.113.2")
	require.Error(t, err)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, ratelimit.ReasonInvalidKey, failure.Reason)
	assert.False(t, failure.RateLimited)
}

func TestManagerRateLimitTripsAfterThreshold(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, ratelimit.FailurePolicy{MaxFailedAttempts: 3, Window: time.Minute, BlockDuration: 5 * time.Minute})

	for i := 0; i < 3; i++ {
		_, err := m.Validate(context.Background(), "bad-key", "203.0.113.7")
		require.Error(t, err)
	}

	_, err := m.Validate(context.Background(), "bad-key", "203.0.113.7")
	require.Error(t, err)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.RateLimited)
	assert.Greater(t, failure.RetryAfter, time.Duration(0))
}

func TestManagerExpiredKeyRejected(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	past := time.Now().UTC().Add(-time.Hour)
	key, err := m.CreateKey(context.Background(), "expired", NewMonitorRole(), &past, IPWhitelist{})
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), key.Secret, "203.0.113.3")
	require.Error(t, err)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, ratelimit.ReasonExpiredKey, failure.Reason)
}

func TestManagerIPWhitelistEnforced(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	key, err := m.CreateKey(context.Background(), "scoped", NewAdminRole(), nil, NewIPWhitelist("203.0.113.0/24"))
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), key.Secret, "198.51.100.1")
	require.Error(t, err)

	ctx, err := m.Validate(context.Background(), key.Secret, "203.0.113.42")
	require.NoError(t, err)
	assert.Equal(t, key.ID, ctx.APIKeyID)
}

func TestManagerRevoke(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	key, err := m.CreateKey(context.Background(), "to-revoke", NewOperatorRole(), nil, IPWhitelist{})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), key.ID))

	_, err = m.Validate(context.Background(), key.Secret, "")
	require.Error(t, err)
}

func TestManagerStats(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testPolicy())

	_, err := m.CreateKey(context.Background(), "a", NewAdminRole(), nil, IPWhitelist{})
	require.NoError(t, err)
	_, err = m.CreateKey(context.Background(), "b", NewOperatorRole(), nil, IPWhitelist{})
	require.NoError(t, err)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.ByRole["admin"])
	assert.Equal(t, 1, stats.ByRole["operator"])
}

func TestRoleHasPermission(t *testing.T) {
	admin := NewAdminRole()
	assert.True(t, admin.HasPermission("admin.keys.create"))

	operator := NewOperatorRole()
	assert.True(t, operator.HasPermission("tools.call"))
	assert.False(t, operator.HasPermission("admin.keys.create"))

	monitor := NewMonitorRole()
	assert.True(t, monitor.HasPermission("read.status"))
	assert.True(t, monitor.HasPermission("health.check"))
	assert.False(t, monitor.HasPermission("tools.call"))

	device := NewDeviceRole("dev-1")
	assert.True(t, device.HasPermission("device.dev-1"))
	assert.False(t, device.HasPermission("device.dev-2"))

	custom := NewCustomRole("tools.call", "resources.read")
	assert.True(t, custom.HasPermission("tools.call"))
	assert.False(t, custom.HasPermission("admin.keys.create"))
}

func TestIPWhitelistAllows(t *testing.T) {
	empty := IPWhitelist{}
	assert.True(t, empty.Allows("1.2.3.4"))

	w := NewIPWhitelist("203.0.113.7", "10.0.0.0/8")
	assert.True(t, w.Allows("203.0.113.7"))
	assert.True(t, w.Allows("10.1.2.3"))
	assert.False(t, w.Allows("203.0.113.8"))
}
