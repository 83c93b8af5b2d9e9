package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCloseReverseOrder(t *testing.T) {
	m := NewManager()
	var order []string
	for _, name := range []string{"store", "notifier", "server"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"server", "notifier", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestCloseContinuesAfterError(t *testing.T) {
	m := NewManager()
	first := errors.New("first")
	closed := 0
	m.RegisterFunc("a", func() error { closed++; return nil })
	m.RegisterFunc("b", func() error { closed++; return errors.New("second") })
	m.RegisterFunc("c", func() error { closed++; return first })

	if err := m.Close(); !errors.Is(err, first) {
		t.Fatalf("expected first error in close order, got %v", err)
	}
	if closed != 3 {
		t.Errorf("expected all 3 resources closed, got %d", closed)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if closed != 3 {
		t.Errorf("resources closed twice")
	}
}

type plain struct{}

type closable struct{ closed bool }

func (c *closable) Close() error { c.closed = true; return nil }

func TestRegisterIfCloser(t *testing.T) {
	m := NewManager()
	c := &closable{}
	m.RegisterIfCloser("closable", c)
	m.RegisterIfCloser("plain", plain{})
	m.Register("nil", nil)

	_ = m.Close()
	if !c.closed {
		t.Error("closable resource not closed")
	}
}

func TestShutdownTimeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.RegisterFunc("slow", func() error { <-release; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
