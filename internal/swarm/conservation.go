package swarm

import (
	"strings"
	"sync"

	"github.com/kestrelworks/swarmgate/internal/config"
)

// conservationTracker watches the three exhaustion signals for a long
// session: coordination iterations, total workers spawned, and
// accumulated log volume. Crossing any threshold flips the coordinator
// into conservation mode for the rest of the session.
type conservationTracker struct {
	mu         sync.Mutex
	cfg        config.SwarmConfig
	iterations int
	spawned    int
	logBytes   int64
	active     bool
	reason     string
}

func newConservationTracker(cfg config.SwarmConfig) *conservationTracker {
	return &conservationTracker{cfg: cfg}
}

// NoteIteration records one coordination iteration (a wave).
func (c *conservationTracker) NoteIteration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterations++
	c.checkLocked()
}

// NoteSpawned records newly spawned workers.
func (c *conservationTracker) NoteSpawned(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawned += n
	c.checkLocked()
}

// NoteLog records accumulated log volume.
func (c *conservationTracker) NoteLog(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logBytes += bytes
	c.checkLocked()
}

// Active reports whether conservation mode is on. Once on, it stays on.
func (c *conservationTracker) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Reason returns which threshold tripped conservation mode.
func (c *conservationTracker) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Spawned returns the total workers spawned so far.
func (c *conservationTracker) Spawned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawned
}

func (c *conservationTracker) checkLocked() {
	if c.active {
		return
	}
	switch {
	case c.iterations >= c.cfg.ConservationMaxIterations:
		c.active = true
		c.reason = "iteration ceiling reached"
	case c.spawned >= c.cfg.ConservationMaxSpawned:
		c.active = true
		c.reason = "spawn ceiling reached"
	case c.logBytes >= c.cfg.ConservationMaxLogBytes:
		c.active = true
		c.reason = "log volume ceiling reached"
	}
}

// Compress trims a worker summary to the conservation limit, keeping
// the leading text which carries the outcome.
func (c *conservationTracker) Compress(summary string) string {
	if !c.Active() {
		return summary
	}
	limit := c.cfg.SummaryLimit
	if limit <= 0 || len(summary) <= limit {
		return strings.TrimSpace(summary)
	}
	return strings.TrimSpace(summary[:limit])
}
