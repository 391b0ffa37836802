package swarm

import (
	"sync"
	"time"
)

// stallDetector tracks the last progress signal per worker. A worker
// whose silence exceeds the grace period is reported as expired exactly
// once; the coordinator cancels it and spawns a single replacement.
type stallDetector struct {
	mu      sync.Mutex
	grace   time.Duration
	last    map[string]time.Time
	expired map[string]bool
}

func newStallDetector(grace time.Duration) *stallDetector {
	return &stallDetector{
		grace:   grace,
		last:    make(map[string]time.Time),
		expired: make(map[string]bool),
	}
}

// Watch registers a worker with a fresh grace timer.
func (d *stallDetector) Watch(workerID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[workerID] = now
}

// Observe resets the worker's grace timer.
func (d *stallDetector) Observe(workerID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.last[workerID]; ok {
		d.last[workerID] = at
	}
}

// Forget stops watching a worker that finished.
func (d *stallDetector) Forget(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, workerID)
}

// Expired returns workers whose silence exceeds the grace period. Each
// worker is reported at most once.
func (d *stallDetector) Expired(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for id, last := range d.last {
		if d.expired[id] {
			continue
		}
		if now.Sub(last) >= d.grace {
			d.expired[id] = true
			out = append(out, id)
		}
	}
	return out
}
