package idempotency

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucidlens/server/internal/config"
)

// Response represents a cached idempotent response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
	CachedAt   time.Time         `json:"cachedAt"`
}

// Store manages idempotency keys and cached responses
type Store interface {
	// Get retrieves a cached response for the given key
	Get(ctx context.Context, key string) (*Response, bool)

	// Set stores a response for the given key with TTL
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error

	// Delete removes a cached response
	Delete(ctx context.Context, key string) error
}

// NewStore returns the store selected by cfg.Backend. The returned cleanup
// function releases background resources.
func NewStore(cfg config.IdempotencyConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		s := NewMemoryStore()
		return s, func() error { s.Stop(); return nil }, nil
	case "redis":
		s, err := NewRedisStore(cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown idempotency backend: %s", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store with LRU eviction. Entries are not shared
// between instances.
type MemoryStore struct {
	mu          sync.Mutex
	cache       map[string]*cacheEntry
	lru         *list.List
	maxSize     int
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

type cacheEntry struct {
	key      string
	response *Response
	expires  time.Time
	element  *list.Element
}

// NewMemoryStore creates an in-memory store holding at most 10,000 entries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000)
}

// NewMemoryStoreWithSize creates an in-memory store with a custom max size.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	s := &MemoryStore{
		cache:       make(map[string]*cacheEntry),
		lru:         list.New(),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Get returns an unexpired response and marks it recently used.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.cache[key]
	if !found || now.After(entry.expires) {
		return nil, false
	}
	s.lru.MoveToFront(entry.element)
	return entry.response, true
}

// Set stores response under key for ttl, evicting the least recently used entry when full.
func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		entry.response = response
		entry.expires = now.Add(ttl)
		s.lru.MoveToFront(entry.element)
		return nil
	}

	if len(s.cache) >= s.maxSize {
		s.evictLRU()
	}

	entry := &cacheEntry{key: key, response: response, expires: now.Add(ttl)}
	entry.element = s.lru.PushFront(entry)
	s.cache[key] = entry
	return nil
}

// evictLRU removes the least recently used entry (caller must hold lock)
func (s *MemoryStore) evictLRU() {
	element := s.lru.Back()
	if element == nil {
		return
	}
	s.removeLocked(element.Value.(*cacheEntry))
}

func (s *MemoryStore) removeLocked(entry *cacheEntry) {
	s.lru.Remove(entry.element)
	delete(s.cache, entry.key)
}

// Delete removes a cached response
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.cache[key]; exists {
		s.removeLocked(entry)
	}
	return nil
}

// Len reports the number of cached entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.cache {
		if now.After(entry.expires) {
			s.removeLocked(entry)
		}
	}
}

// Stop shuts down the cleanup goroutine. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	<-s.cleanupDone
}
