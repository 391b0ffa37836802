package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// registered pairs a hook with its registration sequence number so that
// priority ties resolve in registration order.
type registered struct {
	hook Hook
	seq  int
}

// Registry holds hooks per lifecycle point.
type Registry struct {
	mu      sync.RWMutex
	hooks   map[Point][]registered
	nextSeq int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[Point][]registered)}
}

// Register adds a hook at its declared lifecycle point.
func (r *Registry) Register(h Hook) error {
	if h == nil {
		return fmt.Errorf("hook must not be nil")
	}
	point := h.Point()
	if !point.Valid() {
		return fmt.Errorf("unknown lifecycle point %q", point)
	}
	if h.Name() == "" {
		return fmt.Errorf("hook must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[point] = append(r.hooks[point], registered{hook: h, seq: r.nextSeq})
	r.nextSeq++
	return nil
}

// At returns the hooks registered at a point, stable-sorted by priority
// ascending with ties broken by registration order.
func (r *Registry) At(point Point) []Hook {
	r.mu.RLock()
	regs := make([]registered, len(r.hooks[point]))
	copy(regs, r.hooks[point])
	r.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].hook.Priority() != regs[j].hook.Priority() {
			return regs[i].hook.Priority() < regs[j].hook.Priority()
		}
		return regs[i].seq < regs[j].seq
	})

	out := make([]Hook, len(regs))
	for i, reg := range regs {
		out[i] = reg.hook
	}
	return out
}

// Count returns the number of hooks registered at a point.
func (r *Registry) Count(point Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[point])
}
