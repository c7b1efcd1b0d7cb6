package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKeyStoreCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := db.KeyStore()

	expiry := time.Now().UTC().Add(time.Hour)
	key := &auth.ApiKey{
		ID: "op_1_abc", Name: "ci", SecretHash: "hash", Salt: "salt",
		Role: auth.NewDeviceRole("dev-1", "dev-2"), CreatedAt: time.Now().UTC(),
		ExpiresAt: &expiry, IPWhitelist: auth.NewIPWhitelist("10.0.0.0/8"),
		Active: true, UsageCount: 3,
	}
	require.NoError(t, store.Create(ctx, key))

	got, err := store.Get(ctx, "op_1_abc")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Name)
	assert.Equal(t, auth.RoleDevice, got.Role.Kind)
	assert.True(t, got.Role.HasPermission("device.dev-1"))
	assert.False(t, got.Role.HasPermission("device.dev-3"))
	assert.True(t, got.IPWhitelist.Allows("10.1.2.3"))
	assert.False(t, got.IPWhitelist.Allows("203.0.113.1"))
	require.NotNil(t, got.ExpiresAt)

	got.Name = "ci-renamed"
	got.Active = false
	require.NoError(t, store.Update(ctx, got))

	reloaded, err := store.Get(ctx, "op_1_abc")
	require.NoError(t, err)
	assert.Equal(t, "ci-renamed", reloaded.Name)
	assert.False(t, reloaded.Active)

	require.NoError(t, store.Delete(ctx, "op_1_abc"))
	_, err = store.Get(ctx, "op_1_abc")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestKeyStoreGetNonExistent(t *testing.T) {
	db := openTestDB(t)
	_, err := db.KeyStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestKeyStoreUpdateNonExistent(t *testing.T) {
	db := openTestDB(t)
	err := db.KeyStore().Update(context.Background(), &auth.ApiKey{ID: "missing", Role: auth.NewOperatorRole()})
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestKeyStoreList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := db.KeyStore()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &auth.ApiKey{
			ID: id, Role: auth.NewAdminRole(), CreatedAt: time.Now().UTC(), Active: true,
		}))
	}

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestSessionStoreCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := db.SessionStore()

	now := time.Now().UTC()
	sess := &session.Session{
		ID: "sess-1", UserID: "user-1", APIKeyID: "key-1",
		Roles: []auth.Role{auth.NewOperatorRole(), auth.NewCustomRole("tools.call")},
		IP: "203.0.113.1", RefreshToken: "refresh-1",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastAccess: now,
	}
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	require.Len(t, got.Roles, 2)
	assert.True(t, got.Roles[1].HasPermission("tools.call"))

	byRefresh, err := store.GetByRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", byRefresh.ID)

	got.UserID = "user-2"
	require.NoError(t, store.Update(ctx, got))
	reloaded, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", reloaded.UserID)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSessionStoreListByUserAndExpired(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := db.SessionStore()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, &session.Session{
		ID: "s1", UserID: "user-1", CreatedAt: now, ExpiresAt: now.Add(-time.Minute), LastAccess: now,
	}))
	require.NoError(t, store.Create(ctx, &session.Session{
		ID: "s2", UserID: "user-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastAccess: now,
	}))
	require.NoError(t, store.Create(ctx, &session.Session{
		ID: "s3", UserID: "user-2", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastAccess: now,
	}))

	byUser, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "s1", expired[0].ID)
}

func TestSessionStoreUpdateNonExistent(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	err := db.SessionStore().Update(context.Background(), &session.Session{
		ID: "missing", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastAccess: now,
	})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
