package entitlement

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
)

func newListenerTestStore(open func() (*pq.Listener, error)) *PostgresStore {
	return &PostgresStore{
		hub:          newHub(),
		openListener: open,
		stopListener: make(chan struct{}),
		listenerDone: make(chan struct{}),
	}
}

func TestPostgresListenerRetriesAfterFailure(t *testing.T) {
	errDown := errors.New("connection refused")
	notify := make(chan *pq.Notification)
	calls := 0
	s := newListenerTestStore(func() (*pq.Listener, error) {
		calls++
		if calls < 3 {
			return nil, errDown
		}
		return &pq.Listener{Notify: notify}, nil
	})
	defer s.hub.close()

	for i := 0; i < 2; i++ {
		if err := s.ensureListener(); !errors.Is(err, errDown) {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, errDown, err)
		}
	}
	if err := s.ensureListener(); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if err := s.ensureListener(); err != nil {
		t.Fatalf("already listening: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 open attempts, got %d", calls)
	}

	close(s.stopListener)
	select {
	case <-s.listenerDone:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not stop")
	}
}

func TestPostgresCloseAfterFailedListen(t *testing.T) {
	s := newListenerTestStore(func() (*pq.Listener, error) {
		return nil, errors.New("connection refused")
	})

	if err := s.ensureListener(); err == nil {
		t.Fatal("expected listen error")
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close blocked waiting for a dispatcher that never started")
	}

	if err := s.ensureListener(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
