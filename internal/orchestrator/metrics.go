package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus instrumentation.
type Metrics struct {
	// RequestsTotal counts classified requests by selected plan class.
	RequestsTotal *prometheus.CounterVec
	// TierDecisions counts risk-tier assignments by tier.
	TierDecisions *prometheus.CounterVec
	// PhasesTotal counts finished phases by outcome.
	PhasesTotal *prometheus.CounterVec
	// WorkersSpawned counts swarm workers, replacements included.
	WorkersSpawned prometheus.Counter
	// WorkerReplacements counts stalled-worker replacements.
	WorkerReplacements prometheus.Counter
	// Escalations counts phase escalations by outcome.
	Escalations *prometheus.CounterVec
	// HookDispatchSeconds observes aggregate hook dispatch latency by point.
	HookDispatchSeconds *prometheus.HistogramVec
	// PhaseSeconds observes phase wall-clock duration by phase name.
	PhaseSeconds *prometheus.HistogramVec
}

// NewMetrics registers the orchestrator metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "requests_total",
			Help:      "Classified requests by selected plan class.",
		}, []string{"plan_class"}),
		TierDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "tier_decisions_total",
			Help:      "Risk tier assignments by tier.",
		}, []string{"tier"}),
		PhasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "phases_total",
			Help:      "Finished phases by outcome.",
		}, []string{"outcome"}),
		WorkersSpawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "workers_spawned_total",
			Help:      "Swarm workers spawned, replacements included.",
		}),
		WorkerReplacements: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "worker_replacements_total",
			Help:      "Stalled workers replaced.",
		}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmgate",
			Name:      "escalations_total",
			Help:      "Phase escalations by outcome.",
		}, []string{"outcome"}),
		HookDispatchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swarmgate",
			Name:      "hook_dispatch_seconds",
			Help:      "Aggregate hook dispatch latency by point.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 5},
		}, []string{"point"}),
		PhaseSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swarmgate",
			Name:      "phase_seconds",
			Help:      "Phase wall-clock duration by phase name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
}
