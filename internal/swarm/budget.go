package swarm

import (
	"sort"
	"strings"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// assignment is the unit of work handed to one worker: one or more
// tasks executed sequentially. Merging related tasks onto one worker is
// how the budget controller reduces concurrency without dropping work.
type assignment struct {
	tasks []models.AgentTask
}

func (a *assignment) critical() bool {
	for _, t := range a.tasks {
		if t.Critical {
			return true
		}
	}
	return false
}

func (a *assignment) primary() models.AgentTask {
	return a.tasks[0]
}

// planWaves shapes a task set into execution waves that never exceed
// the worker ceiling. Pressure is relieved in order: merge tasks that
// target the same resource area onto shared workers, defer non-critical
// work that would not fit within two waves, then split what remains
// into smaller sequential waves. In conservation mode merging is
// applied up front and everything past a single wave of non-critical
// work is deferred, keeping waves larger-scoped and the worker count
// low.
func planWaves(tasks []models.AgentTask, maxWorkers int, conservation bool) (waves [][]*assignment, deferred []models.AgentTask) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	assignments := make([]*assignment, 0, len(tasks))
	for _, t := range tasks {
		assignments = append(assignments, &assignment{tasks: []models.AgentTask{t}})
	}

	if conservation || len(assignments) > maxWorkers {
		assignments = mergeRelated(assignments)
	}

	limit := maxWorkers * 2
	if conservation {
		limit = maxWorkers
	}
	if len(assignments) > limit {
		assignments, deferred = deferNonCritical(assignments, limit)
	}

	for len(assignments) > 0 {
		n := maxWorkers
		if n > len(assignments) {
			n = len(assignments)
		}
		waves = append(waves, assignments[:n])
		assignments = assignments[n:]
	}
	return waves, deferred
}

// mergeRelated groups assignments whose tasks target the same top-level
// resource area onto a single worker. Grouping never combines two
// areas, so merged tasks stay narrowly scoped.
func mergeRelated(assignments []*assignment) []*assignment {
	groups := make(map[string]*assignment)
	var order []string
	for _, a := range assignments {
		area := resourceArea(a.primary())
		if g, ok := groups[area]; ok {
			g.tasks = append(g.tasks, a.tasks...)
			continue
		}
		merged := &assignment{tasks: append([]models.AgentTask(nil), a.tasks...)}
		groups[area] = merged
		order = append(order, area)
	}

	out := make([]*assignment, 0, len(groups))
	for _, area := range order {
		out = append(out, groups[area])
	}
	return out
}

// resourceArea returns the top-level segment of a task's first resource,
// or the task ID when the task declares no resources.
func resourceArea(t models.AgentTask) string {
	if len(t.Resources) == 0 {
		return t.ID
	}
	r := t.Resources[0]
	if i := strings.IndexByte(r, '/'); i > 0 {
		return r[:i]
	}
	return r
}

// deferNonCritical pushes non-critical assignments past the limit to a
// later phase. Critical assignments are never deferred; if critical
// work alone exceeds the limit it is split into extra waves instead.
func deferNonCritical(assignments []*assignment, limit int) (kept []*assignment, deferred []models.AgentTask) {
	// Defer the largest non-critical assignments first.
	idx := make([]int, len(assignments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return len(assignments[idx[a]].tasks) > len(assignments[idx[b]].tasks)
	})

	over := len(assignments) - limit
	drop := make(map[int]bool)
	for _, i := range idx {
		if over <= 0 {
			break
		}
		if assignments[i].critical() {
			continue
		}
		drop[i] = true
		over--
	}

	for i, a := range assignments {
		if drop[i] {
			for _, t := range a.tasks {
				t.Status = models.TaskStatusDeferred
				deferred = append(deferred, t)
			}
			continue
		}
		kept = append(kept, a)
	}
	return kept, deferred
}
