package tracking

import (
	"context"
	"log"
	"time"
)

// Reaper periodically evicts trackers older than the retention window so the
// registry's memory stays bounded.
type Reaper struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	onEvict   func(count int)
}

// NewReaper creates a reaper over registry with the given retention window
// and sweep cadence.
func NewReaper(registry *Registry, retention, interval time.Duration) *Reaper {
	return &Reaper{
		registry:  registry,
		retention: retention,
		interval:  interval,
	}
}

// OnEvict registers a callback invoked with the eviction count after each
// sweep that removed at least one tracker.
func (rp *Reaper) OnEvict(fn func(count int)) {
	rp.onEvict = fn
}

// Sweep evicts expired trackers once and returns how many were removed.
func (rp *Reaper) Sweep() int {
	evicted := rp.registry.EvictOlderThan(rp.retention)
	if len(evicted) > 0 {
		log.Printf(`{"level":"info","message":"Evicted expired call trackers","count":%d}`, len(evicted))
		if rp.onEvict != nil {
			rp.onEvict(len(evicted))
		}
	}
	return len(evicted)
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.Sweep()
		}
	}
}
