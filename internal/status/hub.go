package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrHubClosed = errors.New("hub closed")

// LagError reports that a subscription fell more than the ring capacity
// behind the head. Missed counts the events evicted before they were read;
// the subscription resumes from the oldest event still retained.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscription lagged, %d events dropped", e.Missed)
}

const DefaultHubCapacity = 10

// Hub fans out every published StatusEvent to all current subscriptions.
// It retains only the most recent capacity events in a ring; a slow
// subscriber drops events rather than stall publishers or grow memory.
type Hub struct {
	mu     sync.Mutex
	ring   []StatusEvent
	head   uint64
	subs   map[*Subscription]struct{}
	closed bool
	done   chan struct{}
}

// Subscription is one cursor into the hub's event stream. It belongs to
// exactly one delivery loop and is unregistered by Close.
type Subscription struct {
	hub    *Hub
	cursor uint64
	notify chan struct{}
	closed bool
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultHubCapacity
	}
	return &Hub{
		ring: make([]StatusEvent, capacity),
		subs: map[*Subscription]struct{}{},
		done: make(chan struct{}),
	}
}

// Subscribe registers a new subscription whose stream starts at the next
// published event; there is no backfill of earlier events.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &Subscription{
		hub:    h,
		cursor: h.head,
		notify: make(chan struct{}, 1),
	}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Publish appends the event to the ring and wakes subscribers. It never
// waits on subscriber consumption; the oldest retained event is simply
// overwritten once the ring is full. Returns the number of subscriptions
// registered at publish time.
func (h *Hub) Publish(ev StatusEvent) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrHubClosed
	}
	h.ring[h.head%uint64(len(h.ring))] = ev
	h.head++
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	return len(subs), nil
}

// Subscribers reports the number of registered subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down: every subscription transitions to its terminal
// state and every pending Recv returns ErrHubClosed. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.closed = true
		delete(h.subs, sub)
	}
	h.mu.Unlock()
	close(h.done)
}

// Recv blocks until the next event for this subscription. If the cursor
// fell off the ring it returns a *LagError and advances to the oldest
// retained event, so the following Recv resumes from there. Returns
// ErrHubClosed after hub shutdown or Close on the subscription, and
// ctx.Err() when the context is cancelled.
func (s *Subscription) Recv(ctx context.Context) (StatusEvent, error) {
	for {
		s.hub.mu.Lock()
		if s.closed || s.hub.closed {
			s.hub.mu.Unlock()
			return StatusEvent{}, ErrHubClosed
		}
		capacity := uint64(len(s.hub.ring))
		if behind := s.hub.head - s.cursor; behind > 0 {
			if behind > capacity {
				missed := behind - capacity
				s.cursor = s.hub.head - capacity
				s.hub.mu.Unlock()
				return StatusEvent{}, &LagError{Missed: missed}
			}
			ev := s.hub.ring[s.cursor%capacity]
			s.cursor++
			s.hub.mu.Unlock()
			return ev, nil
		}
		s.hub.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.hub.done:
		case <-ctx.Done():
			return StatusEvent{}, ctx.Err()
		}
	}
}

// Close unregisters the subscription. Subsequent Recv calls return
// ErrHubClosed. Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	s.closed = true
	delete(h.subs, s)
	h.mu.Unlock()
}
