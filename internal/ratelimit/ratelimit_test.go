package ratelimit

import (
	"context"
	"testing"
	"time"
)

// newManual returns a Limiter whose window reset fires only when the
// returned func is called.
func newManual(capacity int) (*Limiter, func()) {
	l := New(capacity, time.Second)
	var resetFn func()
	l.afterFunc = func(_ time.Duration, f func()) *time.Timer {
		resetFn = f
		return nil
	}
	return l, func() {
		if resetFn != nil {
			f := resetFn
			resetFn = nil
			f()
		}
	}
}

func mustAcquire(t *testing.T, l *Limiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestLimiter_AdmitsUpToCapacity(t *testing.T) {
	l, _ := newManual(5)
	for i := 0; i < 5; i++ {
		mustAcquire(t, l)
	}
	total, concurrent := l.Counters()
	if total != 5 || concurrent != 5 {
		t.Fatalf("counters = (%d, %d), want (5, 5)", total, concurrent)
	}
}

func TestLimiter_SixthAcquireBlocksUntilWindowReset(t *testing.T) {
	l, fireReset := newManual(5)
	for i := 0; i < 5; i++ {
		mustAcquire(t, l)
	}
	for i := 0; i < 5; i++ {
		l.Release()
	}

	// total is still 5 for this window, so the sixth acquire must block
	// even though nothing is in flight.
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(context.Background())
	}()
	select {
	case <-done:
		t.Fatal("acquire admitted before window reset")
	case <-time.After(50 * time.Millisecond):
	}

	fireReset()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire after reset: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire still blocked after window reset")
	}
}

func TestLimiter_ReleaseAloneDoesNotRefillWindow(t *testing.T) {
	l, _ := newManual(3)
	for i := 0; i < 3; i++ {
		mustAcquire(t, l)
	}
	l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("acquire admitted although window total is exhausted")
	}
}

func TestLimiter_ConcurrentCapsInFlightAcrossResets(t *testing.T) {
	l, fireReset := newManual(2)
	mustAcquire(t, l)
	mustAcquire(t, l)
	fireReset() // total back to 0, but both operations still in flight

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("acquire admitted above concurrent capacity")
	}

	l.Release()
	mustAcquire(t, l)
	total, concurrent := l.Counters()
	if concurrent != 2 {
		t.Fatalf("concurrent = %d, want 2", concurrent)
	}
	if total > 2 {
		t.Fatalf("total = %d exceeds capacity", total)
	}
}

func TestLimiter_CountersNeverExceedCapacity(t *testing.T) {
	l, fireReset := newManual(4)
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			mustAcquire(t, l)
			total, concurrent := l.Counters()
			if total > 4 || concurrent > 4 {
				t.Fatalf("round %d: counters (%d, %d) exceed capacity", round, total, concurrent)
			}
		}
		for i := 0; i < 4; i++ {
			l.Release()
		}
		fireReset()
	}
}

func TestLimiter_AcquireHonorsContextCancel(t *testing.T) {
	l, _ := newManual(1)
	mustAcquire(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
}

func TestLimiter_RealTimerResetsWindow(t *testing.T) {
	l := New(2, 30*time.Millisecond)
	mustAcquire(t, l)
	mustAcquire(t, l)
	l.Release()
	l.Release()

	// Window elapses on the real timer; the next acquire must be admitted.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after real window elapsed: %v", err)
	}
}
