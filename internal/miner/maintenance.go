package miner

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/retry"
)

// maintenance owns the periodic reload cycle. Each cycle runs for one
// period: campaign phase-change triggers inside the period each request a
// channel cleanup, and the period ending requests an inventory reload,
// which in turn restarts the cycle with fresh triggers.
type maintenance struct {
	period time.Duration
	notify func(State)

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newMaintenance(period time.Duration, notify func(State)) *maintenance {
	return &maintenance{period: period, notify: notify}
}

// Restart stops the previous cycle and starts a new one with the given
// cleanup triggers, which must be sorted ascending. Triggers beyond the
// period end are ignored; the reload recomputes them anyway.
func (mt *maintenance) Restart(ctx context.Context, triggers []time.Time) {
	mt.Stop()

	now := time.Now()
	periodEnd := now.Add(mt.period)
	kept := make([]time.Time, 0, len(triggers))
	for _, stamp := range triggers {
		if !stamp.After(periodEnd) {
			kept = append(kept, stamp)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(cron.Every(mt.period), cron.FuncJob(func() {
		logx.Callf("maintenance", "period ended, requesting an inventory reload")
		mt.notify(StateInventoryFetch)
	}))
	c.Start()

	mt.mu.Lock()
	mt.cron = c
	mt.cancel = cancel
	mt.mu.Unlock()

	mt.wg.Add(1)
	go mt.drainTriggers(runCtx, kept)
	logx.Callf("maintenance", "cycle started: %d cleanup triggers, reload in %s", len(kept), mt.period)
}

// Stop halts the running cycle, if any, and waits for its goroutine.
func (mt *maintenance) Stop() {
	mt.mu.Lock()
	c := mt.cron
	cancel := mt.cancel
	mt.cron = nil
	mt.cancel = nil
	mt.mu.Unlock()
	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}
	mt.wg.Wait()
}

// drainTriggers sleeps to each trigger instant in turn and requests a
// channel cleanup for it. Duplicate instants collapse into one wakeup.
func (mt *maintenance) drainTriggers(ctx context.Context, triggers []time.Time) {
	defer mt.wg.Done()
	for len(triggers) > 0 {
		next := triggers[0]
		for len(triggers) > 0 && triggers[0].Equal(next) {
			triggers = triggers[1:]
		}
		logx.Callf("maintenance", "waiting until %s for a channels cleanup", next.Format(time.TimeOnly))
		if err := retry.Sleep(ctx, time.Until(next)); err != nil {
			return
		}
		logx.Callf("maintenance", "trigger fired, requesting a channels cleanup")
		mt.notify(StateChannelsCleanup)
	}
}
