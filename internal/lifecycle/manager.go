package lifecycle

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager closes registered resources in reverse registration order.
type Manager struct {
	mu        sync.Mutex
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates a new resource lifecycle manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a resource. Nil closers are ignored.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc wraps a cleanup function as a Closer for convenience.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	if fn == nil {
		return
	}
	m.Register(name, closerFunc(fn))
}

// RegisterIfCloser registers v when it implements io.Closer, such as a
// notifier that may or may not own background goroutines.
func (m *Manager) RegisterIfCloser(name string, v any) {
	if c, ok := v.(io.Closer); ok {
		m.Register(name, c)
	}
}

// Close closes every resource even when some fail, logging each failure and
// returning the first. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			log.Error().
				Err(err).
				Str("resource", res.name).
				Msg("lifecycle.close_resource_failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown runs Close but gives up waiting when ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- m.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("lifecycle.shutdown_timeout")
		return ctx.Err()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
