package pubsub

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/retry"
)

// Config wires a Pool to its credentials and, optionally, a proxy. The zero
// value of every field except Creds is usable.
type Config struct {
	Creds TokenSource

	// URL overrides the edge endpoint; tests point it at a fake.
	URL string
	// ProxyURL returns the proxy to dial through, or "".
	ProxyURL func() string
	// Sleep waits between reconnect attempts; injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pool distributes topic subscriptions across up to MaxWebsockets
// connections, TopicsLimit topics each, and keeps the connection count as
// small as the topic count allows. Topic changes may arrive while the pool
// is stopped; they take effect when the connections come up.
type Pool struct {
	cfg *Config

	mu      sync.Mutex
	conns   []*Conn
	running bool
	runCtx  context.Context
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.URL == "" {
		cfg.URL = Endpoint
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	return &Pool{cfg: &cfg}
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches every connection and waits until each reports connected.
// Connections created later by AddTopics start themselves.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.runCtx = ctx
	conns := slices.Clone(p.conns)
	p.mu.Unlock()

	for _, c := range conns {
		c.Start(ctx)
	}
	for _, c := range conns {
		if err := c.WaitConnected(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop winds down every connection in parallel. With clearTopics set, held
// subscriptions are dropped so a later Start begins empty.
func (p *Pool) Stop(clearTopics bool) {
	p.mu.Lock()
	p.running = false
	conns := slices.Clone(p.conns)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop(clearTopics)
		}()
	}
	wg.Wait()
}

// AddTopics registers topics, filling existing connections first and opening
// new ones as needed. Topics already registered anywhere in the pool are
// skipped. Returns ErrMaxTopicsExceeded when topics are left over after all
// MaxWebsockets connections are full.
func (p *Pool) AddTopics(topics ...*Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(topics)
}

func (p *Pool) addLocked(topics []*Topic) error {
	pending := make(map[string]*Topic, len(topics))
	for _, topic := range topics {
		if topic != nil {
			pending[topic.Name()] = topic
		}
	}
	for name := range pending {
		for _, c := range p.conns {
			if c.hasTopic(name) {
				delete(pending, name)
				break
			}
		}
	}
	if len(pending) == 0 {
		return nil
	}
	for idx := 0; idx < MaxWebsockets; idx++ {
		var c *Conn
		if idx < len(p.conns) {
			c = p.conns[idx]
		} else {
			c = newConn(p.cfg, idx)
			if p.running {
				c.Start(p.runCtx)
			}
			p.conns = append(p.conns, c)
		}
		c.takeTopics(pending)
		if len(pending) == 0 {
			return nil
		}
	}
	return ErrMaxTopicsExceeded
}

// RemoveTopics drops subscriptions by name, then compacts: while the
// remaining topics fit in one fewer connection, the last connection is
// drained, stopped and its topics redistributed over the rest.
func (p *Pool) RemoveTopics(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := make(map[string]bool, len(names))
	for _, name := range names {
		pending[name] = true
	}
	if len(pending) == 0 {
		return
	}
	for _, c := range p.conns {
		c.removeTopics(pending)
	}

	var recycled []*Topic
	for len(p.conns) > 0 {
		if p.topicCountLocked() > (len(p.conns)-1)*TopicsLimit {
			break
		}
		last := p.conns[len(p.conns)-1]
		p.conns = p.conns[:len(p.conns)-1]
		recycled = append(recycled, last.drainTopics()...)
		go last.Stop(true)
	}
	if len(recycled) > 0 {
		// Cannot overflow: the recycled topics came out of the pool's own
		// capacity.
		_ = p.addLocked(recycled)
	}
}

// TopicCount returns the number of registered topics across the pool.
func (p *Pool) TopicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topicCountLocked()
}

func (p *Pool) topicCountLocked() int {
	total := 0
	for _, c := range p.conns {
		total += c.TopicCount()
	}
	return total
}

// ConnCount returns how many connections the pool currently holds, running
// or not.
func (p *Pool) ConnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
