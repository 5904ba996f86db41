package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
)

// workerSet is the published result of one worker-discovery poll: every
// bus endpoint currently advertising the configured workers tube, in a
// stable order so round-robin dispatch is deterministic between polls
// that don't change membership.
type workerSet struct {
	addrs []string
}

func (w *workerSet) len() int {
	if w == nil {
		return 0
	}
	return len(w.addrs)
}

// discovery runs the worker-discovery loop: every interval, enumerate bus
// endpoints, drop non-positive-score ones, keep those advertising
// workersTube, and atomically publish the result. A query failure retains
// the previous set and logs.
type discovery struct {
	bus         bus.Bus
	workersTube string
	interval    time.Duration
	log         *logger.Logger

	mu      sync.RWMutex
	current *workerSet
}

func newDiscovery(b bus.Bus, workersTube string, interval time.Duration, log *logger.Logger) *discovery {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &discovery{
		bus:         b,
		workersTube: workersTube,
		interval:    interval,
		log:         log.With("component", "Discovery"),
		current:     &workerSet{},
	}
}

func (d *discovery) get() *workerSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// run polls until ctx is canceled. It polls once immediately so the
// dispatch loop has a worker set to read as soon as the orchestrator
// starts, then on the configured interval.
func (d *discovery) run(ctx context.Context) {
	d.poll(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *discovery) poll(ctx context.Context) {
	endpoints, err := d.bus.Endpoints(ctx)
	if err != nil {
		d.log.Warn("worker discovery failed, retaining previous set", "error", err)
		return
	}

	var live []string
	for addr, score := range endpoints {
		if score <= 0 {
			continue
		}
		tubes, err := d.bus.Tubes(ctx, addr)
		if err != nil {
			d.log.Warn("tube query failed, retaining previous set", "addr", addr, "error", err)
			return
		}
		for _, t := range tubes {
			if t == d.workersTube {
				live = append(live, addr)
				break
			}
		}
	}
	sort.Strings(live)

	next := &workerSet{addrs: live}
	d.mu.Lock()
	d.current = next
	d.mu.Unlock()
}
