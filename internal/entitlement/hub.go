package entitlement

import (
	"context"
	"sync"
)

// hub fans record snapshots out to per-user subscribers.
// Each subscriber has a one-slot buffer that always holds the newest undelivered
// snapshot, so publishers never block on readers.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch   chan Record
	last Record
	sent bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscription]struct{})}
}

// subscribe registers a subscriber for userID. The returned subscription is
// removed and its channel closed when ctx ends or the hub is closed.
func (h *hub) subscribe(ctx context.Context, userID string) (*subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscription{ch: make(chan Record, 1)}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		h.remove(userID, sub)
	}()
	return sub, nil
}

func (h *hub) remove(userID string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	close(sub.ch)
}

// publish delivers rec to every subscriber of rec.UserID.
func (h *hub) publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[rec.UserID] {
		sub.offer(rec)
	}
}

// deliver sends rec to a single subscriber, typically its initial snapshot.
func (h *hub) deliver(sub *subscription, rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[rec.UserID][sub]; ok {
		sub.offer(rec)
	}
}

// users lists the user ids that currently have subscribers.
func (h *hub) users() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for id := range h.subs {
		out = append(out, id)
	}
	return out
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, userID)
	}
}

// offer replaces any pending snapshot with rec. Snapshots older than the last
// one offered are dropped. Offers to one subscription must not run concurrently.
func (s *subscription) offer(rec Record) {
	if s.sent && !rec.UpdatedAt.IsZero() && rec.UpdatedAt.Before(s.last.UpdatedAt) {
		return
	}
	s.last = rec
	s.sent = true
	for {
		select {
		case s.ch <- rec:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
