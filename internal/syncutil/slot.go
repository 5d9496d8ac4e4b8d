package syncutil

import (
	"context"
	"sync"
)

// Slot holds a value that may be set, replaced and cleared, with Get blocking
// until a value is present. The watching-channel slot is the main user: the
// watch loop blocks on Get while the scheduler sets and clears the channel.
type Slot[T any] struct {
	mu    sync.Mutex
	set   bool
	value T
	ch    chan struct{} // closed exactly when set flips to true
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan struct{})}
}

// Has reports whether a value is present.
func (s *Slot[T]) Has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Peek returns the held value, or def when the slot is empty.
func (s *Slot[T]) Peek(def T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return s.value
	}
	return def
}

// Set stores v, waking all pending Gets. Setting an occupied slot replaces
// the value without an edge.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear empties the slot so Get blocks again.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		var zero T
		s.value = zero
		s.ch = make(chan struct{})
	}
}

// ClearIf empties the slot only when the held value satisfies match,
// reporting whether it did. Lets a consumer drop a stale value without
// racing a concurrent Set of a fresh one.
func (s *Slot[T]) ClearIf(match func(T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || !match(s.value) {
		return false
	}
	s.set = false
	var zero T
	s.value = zero
	s.ch = make(chan struct{})
	return true
}

// Get blocks until the slot holds a value or ctx is done.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		if s.set {
			v := s.value
			s.mu.Unlock()
			return v, nil
		}
		ch := s.ch
		s.mu.Unlock()
		select {
		case <-ch:
			// Re-check: a Clear may have raced the wakeup.
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
