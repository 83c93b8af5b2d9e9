package idempotency

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lucidlens/server/internal/config"
)

func TestMemoryStore_BasicOperations(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()
	ctx := context.Background()

	response := &Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"success":true}`),
		CachedAt:   time.Now(),
	}
	if err := store.Set(ctx, "key1", response, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, found := store.Get(ctx, "key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if retrieved.StatusCode != 200 || string(retrieved.Body) != `{"success":true}` {
		t.Errorf("unexpected response %+v", retrieved)
	}

	if err := store.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found := store.Get(ctx, "key1"); found {
		t.Error("expected key1 to be deleted")
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()
	ctx := context.Background()

	_ = store.Set(ctx, "expiring", &Response{StatusCode: 200}, 10*time.Millisecond)
	if _, found := store.Get(ctx, "expiring"); !found {
		t.Fatal("expected key immediately after setting")
	}

	time.Sleep(20 * time.Millisecond)
	if _, found := store.Get(ctx, "expiring"); found {
		t.Error("expected key to expire")
	}

	store.sweep(time.Now())
	if store.Len() != 0 {
		t.Errorf("expected sweep to remove expired entry, have %d", store.Len())
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	store := NewMemoryStoreWithSize(3)
	defer store.Stop()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = store.Set(ctx, fmt.Sprintf("key%d", i), &Response{StatusCode: 200}, time.Hour)
	}
	// Touch key1 so key2 becomes the least recently used.
	store.Get(ctx, "key1")
	_ = store.Set(ctx, "key4", &Response{StatusCode: 200}, time.Hour)

	if _, found := store.Get(ctx, "key2"); found {
		t.Error("expected key2 to be evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, found := store.Get(ctx, key); !found {
			t.Errorf("expected %s to remain", key)
		}
	}
	if store.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", store.Len())
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStoreWithSize(10)
	defer store.Stop()
	ctx := context.Background()

	_ = store.Set(ctx, "key", &Response{StatusCode: 200, Body: []byte("v1")}, time.Hour)
	_ = store.Set(ctx, "key", &Response{StatusCode: 201, Body: []byte("v2")}, time.Hour)

	got, _ := store.Get(ctx, "key")
	if got.StatusCode != 201 || string(got.Body) != "v2" {
		t.Errorf("expected updated response, got %+v", got)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", store.Len())
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStoreWithSize(50)
	defer store.Stop()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key-%d-%d", i, j)
				_ = store.Set(ctx, key, &Response{StatusCode: 200}, time.Minute)
				store.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() > 50 {
		t.Errorf("store exceeded max size: %d", store.Len())
	}
}

func TestMemoryStore_StopTwice(t *testing.T) {
	store := NewMemoryStore()
	store.Stop()
	store.Stop()
}

func TestNewStore(t *testing.T) {
	store, cleanup, err := NewStore(config.IdempotencyConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", store)
	}
	_ = cleanup()

	if _, _, err := NewStore(config.IdempotencyConfig{Backend: "memcached"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, _, err := NewStore(config.IdempotencyConfig{Backend: "redis", RedisURL: "not a url"}); err == nil {
		t.Error("expected error for malformed redis url")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("LUCIDLENS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LUCIDLENS_TEST_REDIS_URL not set")
	}
	store, err := NewRedisStore(url, fmt.Sprintf("lucidlens:test:%d:", time.Now().UnixNano()))
	if err != nil {
		t.Skip("redis not available:", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, found := store.Get(ctx, "missing"); found {
		t.Fatal("expected miss")
	}
	want := &Response{StatusCode: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: []byte(`{"id":"d1"}`)}
	if err := store.Set(ctx, "key", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found := store.Get(ctx, "key")
	if !found || got.StatusCode != 200 || string(got.Body) != `{"id":"d1"}` {
		t.Fatalf("unexpected cached response %+v (found=%v)", got, found)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found := store.Get(ctx, "key"); found {
		t.Fatal("expected miss after delete")
	}
}
