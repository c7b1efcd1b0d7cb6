package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mcpanvil/core/internal/domain/auth"
)

func TestAuthStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	key := &auth.ApiKey{ID: "operator_1_abc", Name: "ci", Role: auth.NewOperatorRole(), Active: true}
	if err := store.Create(ctx, key); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "operator_1_abc")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "ci" {
		t.Errorf("Name = %q, want %q", got.Name, "ci")
	}
}

func TestAuthStore_GetNonExistent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	_, err := store.Get(ctx, "missing")
	if !errors.Is(err, auth.ErrKeyNotFound) {
		t.Errorf("Get() error = %v, want ErrKeyNotFound", err)
	}
}

func TestAuthStore_CopyOnReturn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	key := &auth.ApiKey{ID: "k1", Name: "original", Active: true}
	if err := store.Create(ctx, key); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	got.Name = "mutated"

	got2, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() second call error: %v", err)
	}
	if got2.Name == "mutated" {
		t.Error("store returned a reference instead of a copy")
	}
}

func TestAuthStore_UpdateNonExistent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	err := store.Update(ctx, &auth.ApiKey{ID: "missing"})
	if !errors.Is(err, auth.ErrKeyNotFound) {
		t.Errorf("Update() error = %v, want ErrKeyNotFound", err)
	}
}

func TestAuthStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	key := &auth.ApiKey{ID: "to-delete", Active: true}
	if err := store.Create(ctx, key); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Delete(ctx, "to-delete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "to-delete"); !errors.Is(err, auth.ErrKeyNotFound) {
		t.Errorf("Get() after Delete() = %v, want ErrKeyNotFound", err)
	}
}

func TestAuthStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &auth.ApiKey{ID: id, Active: true}); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("List() returned %d keys, want 3", len(keys))
	}
}

func TestAuthStore_Overwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	if err := store.Create(ctx, &auth.ApiKey{ID: "k1", Name: "first"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Update(ctx, &auth.ApiKey{ID: "k1", Name: "second"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "second" {
		t.Errorf("Name = %q, want %q (update failed)", got.Name, "second")
	}
}

func TestAuthStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewAuthStore()

	for i := 0; i < 10; i++ {
		id := "key-" + string(rune('0'+i))
		if err := store.Create(ctx, &auth.ApiKey{ID: id, Active: true}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 200)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := "key-" + string(rune('0'+(idx%10)))
			if _, err := store.Get(ctx, id); err != nil {
				errCh <- err
			}
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := "key-" + string(rune('0'+(idx%10)))
			_ = store.Update(ctx, &auth.ApiKey{ID: id, Active: true, UsageCount: uint64(idx)})
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}
}
