// Package syncutil provides the small coordination primitives shared by the
// auth flow, the websocket pool and the miner scheduler: a reopenable gate,
// an edge-triggered signal, and a clearable value slot. All waits are
// context-aware.
package syncutil

import (
	"context"
	"sync"
)

// Gate is a level-triggered condition: Wait returns immediately while the
// gate is open and blocks while it is closed. Open and Close may be called
// any number of times, from any goroutine.
type Gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{} // closed exactly when open flips to true
}

// NewGate returns a closed Gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases all current and future waiters until Close is called.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.ch)
	}
}

// Close makes subsequent Wait calls block again.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.ch = make(chan struct{})
	}
}

// IsOpen reports the gate state without blocking.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return nil
	}
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
