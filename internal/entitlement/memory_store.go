package entitlement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-instance development.
// Entitlements are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]any
	updated map[string]time.Time
	hub     *hub
	now     func() time.Time
	closed  bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]any),
		updated: make(map[string]time.Time),
		hub:     newHub(),
		now:     time.Now,
	}
}

// Get returns the user's record, or an empty record if none exists.
func (m *MemoryStore) Get(_ context.Context, userID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}
	return recordFromFields(userID, m.records[userID], m.updated[userID]), nil
}

// MergeSet merges fields into the user's record.
func (m *MemoryStore) MergeSet(_ context.Context, userID string, fields map[string]any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	doc := m.records[userID]
	if doc == nil {
		doc = make(map[string]any, len(fields))
		m.records[userID] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	m.updated[userID] = m.now()
	rec := recordFromFields(userID, doc, m.updated[userID])
	m.mu.Unlock()

	m.hub.publish(rec)
	return nil
}

// Subscribe streams snapshots of the user's record.
func (m *MemoryStore) Subscribe(ctx context.Context, userID string) (<-chan Record, error) {
	sub, err := m.hub.subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.hub.deliver(sub, rec)
	return sub.ch, nil
}

// Ping reports whether the store is open.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close releases subscribers. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}
