// Package ratelimit implements the sliding-window gate in front of the
// GraphQL client. It bounds both the number of requests issued within a
// window and the number in flight at any instant; the platform blocks
// accounts that exceed roughly five requests per second, so the GraphQL
// defaults must not be raised without evidence.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits an operation only while max(total, concurrent) < capacity,
// where total counts admissions in the current window and concurrent counts
// operations between Acquire and Release. The window starts at the first
// admission after a reset; when it elapses, total returns to zero.
type Limiter struct {
	mu         sync.Mutex
	capacity   int
	window     time.Duration
	total      int
	concurrent int
	resetArmed bool
	wake       chan struct{}

	// afterFunc defaults to time.AfterFunc. Injectable for tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a Limiter. capacity must be >= 1 and window > 0.
func New(capacity int, window time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		capacity:  capacity,
		window:    window,
		wake:      make(chan struct{}),
		afterFunc: time.AfterFunc,
	}
}

// Acquire blocks until the operation may proceed or ctx is done. Each
// successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	for max(l.total, l.concurrent) >= l.capacity {
		wake := l.wake
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
		l.mu.Lock()
	}
	l.total++
	l.concurrent++
	if !l.resetArmed {
		// First admission of an empty window starts the reset countdown.
		l.resetArmed = true
		l.afterFunc(l.window, l.reset)
	}
	l.mu.Unlock()
	return nil
}

// Release ends an in-flight operation and wakes waiters.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.concurrent--
	l.wakeLocked()
	l.mu.Unlock()
}

func (l *Limiter) reset() {
	l.mu.Lock()
	l.resetArmed = false
	l.total = 0
	if l.concurrent < l.capacity {
		l.wakeLocked()
	}
	l.mu.Unlock()
}

// wakeLocked wakes every waiter; each re-checks the admission predicate under
// the mutex, so at most capacity-concurrent of them proceed.
func (l *Limiter) wakeLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// Counters returns the current (total, concurrent) values. Used by tests and
// debug logging.
func (l *Limiter) Counters() (total, concurrent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.concurrent
}
