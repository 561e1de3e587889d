// Package hub fans published values out to any number of subscribers
// without letting a slow subscriber hold up the publisher.
//
// Values live in a fixed-size ring. Each subscriber reads through its own
// cursor; one that falls more than the ring's capacity behind loses the
// oldest values and is told how many with a *LagError.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const DefaultCapacity = 100

// ErrClosed is returned once the hub is closed and a subscriber has drained
// everything published before the close.
var ErrClosed = errors.New("hub: closed")

// LagError reports values overwritten before the subscriber read them. The
// subscriber's next Recv returns the oldest value still retained.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("hub: subscriber lagged, skipped %d", e.Skipped)
}

type Hub[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   uint64 // sequence number of the next publish
	closed bool
	// notify is closed and replaced on every publish and on Close.
	notify chan struct{}
	subs   map[string]*Subscriber[T]
}

func New[T any](capacity int) *Hub[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
		subs:   make(map[string]*Subscriber[T]),
	}
}

func (h *Hub[T]) Capacity() int { return len(h.buf) }

// Publish stores v and wakes waiting subscribers. It never blocks on a
// subscriber. With no subscribers the value is discarded. It returns the
// number of subscribers that can observe v.
func (h *Hub[T]) Publish(v T) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	n := len(h.subs)
	if n == 0 {
		h.mu.Unlock()
		return 0, nil
	}
	h.buf[h.head%uint64(len(h.buf))] = v
	h.head++
	wake := h.notify
	h.notify = make(chan struct{})
	h.mu.Unlock()

	close(wake)
	return n, nil
}

// Close stops further publishing. Subscribers drain what is retained and
// then get ErrClosed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
}

// Subscribe registers a subscriber that sees values published from now on.
// label is informational (logs, debug pages).
func (h *Hub[T]) Subscribe(label string) *Subscriber[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Subscriber[T]{
		hub:    h,
		id:     uuid.NewString(),
		label:  label,
		cursor: h.head,
	}
	if !h.closed {
		h.subs[s.id] = s
	}
	return s
}

func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SubscriberInfo describes one subscriber for status pages.
type SubscriberInfo struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Pending uint64 `json:"pending"`
	Skipped uint64 `json:"skipped_total"`
}

func (h *Hub[T]) Subscribers() []SubscriberInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SubscriberInfo, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, SubscriberInfo{
			ID:      s.id,
			Label:   s.label,
			Pending: h.head - s.cursor,
			Skipped: s.skipped,
		})
	}
	return out
}

// Subscriber is one consumer's view of a Hub. Recv must not be called
// concurrently on the same Subscriber.
type Subscriber[T any] struct {
	hub     *Hub[T]
	id      string
	label   string
	cursor  uint64
	skipped uint64
	left    bool
}

func (s *Subscriber[T]) ID() string { return s.id }

// Recv returns the next value, waiting until one is published, the hub is
// closed, or ctx is done.
func (s *Subscriber[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	h := s.hub
	for {
		h.mu.Lock()
		if s.left {
			h.mu.Unlock()
			return zero, ErrClosed
		}
		size := uint64(len(h.buf))
		oldest := uint64(0)
		if h.head > size {
			oldest = h.head - size
		}
		if s.cursor < oldest {
			skipped := oldest - s.cursor
			s.cursor = oldest
			s.skipped += skipped
			h.mu.Unlock()
			return zero, &LagError{Skipped: skipped}
		}
		if s.cursor < h.head {
			v := h.buf[s.cursor%size]
			s.cursor++
			h.mu.Unlock()
			return v, nil
		}
		if h.closed {
			h.mu.Unlock()
			return zero, ErrClosed
		}
		wait := h.notify
		h.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close unsubscribes. Pending values are dropped.
func (s *Subscriber[T]) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	s.left = true
	delete(h.subs, s.id)
}
