package syncutil

import "context"

// Signal is an edge-triggered wakeup with single-slot coalescing: any number
// of Notify calls between two Waits release exactly one Wait. Used for the
// scheduler's state-change wakeup, the watch loop's restart request and the
// per-socket topics-changed tick.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify wakes one pending or future Wait. Never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a notification arrives or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the notification channel for use in select loops. Receiving
// from it consumes one notification, exactly like Wait.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Drain discards a pending notification, if any. Callers use it to start a
// fresh wait that ignores notifications delivered before the interesting
// window began.
func (s *Signal) Drain() {
	select {
	case <-s.ch:
	default:
	}
}

// Pending reports whether a notification is queued without consuming it.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}
