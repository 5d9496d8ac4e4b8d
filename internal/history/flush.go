package history

import (
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
)

// DefaultFlushInterval is used when the configured interval is unset.
const DefaultFlushInterval = 30 * time.Second

// FlushWorker periodically flushes staged journal rows. On Stop a final
// flush runs before returning, so callers stop the worker before closing
// the store.
type FlushWorker struct {
	store    *Store
	interval time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewFlushWorker creates a flush worker writing every interval; interval <= 0
// falls back to DefaultFlushInterval.
func NewFlushWorker(store *Store, interval time.Duration) *FlushWorker {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &FlushWorker{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (w *FlushWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop signals the worker to stop and performs a final flush.
// Blocks until the goroutine exits.
func (w *FlushWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *FlushWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.doFlush()
			return
		case <-ticker.C:
			if w.store.Pending() == 0 {
				continue
			}
			w.doFlush()
		}
	}
}

func (w *FlushWorker) doFlush() {
	if err := w.store.Flush(); err != nil {
		logx.Warnf("history", "flush error (rows re-merged): %v", err)
	}
}
