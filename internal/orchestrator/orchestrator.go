// Package orchestrator wires the full request pipeline: submit hooks,
// risk classification, plan selection, phase execution through the
// swarm coordinator, verification and confirmation gates, and stop
// hooks at the end of the workflow.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/decision"
	"github.com/kestrelworks/swarmgate/internal/hooks"
	"github.com/kestrelworks/swarmgate/internal/risk"
	"github.com/kestrelworks/swarmgate/internal/runner"
	"github.com/kestrelworks/swarmgate/internal/state"
	"github.com/kestrelworks/swarmgate/internal/swarm"
	"github.com/kestrelworks/swarmgate/internal/workflow"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// TaskPlanner derives the task set for one phase of a plan. Tasks must
// declare disjoint resources; overlap is rejected as a planning bug.
type TaskPlanner func(req models.Request, phase models.Phase, plan models.WorkflowPlan) []models.AgentTask

// AssessmentProvider supplies the risk assessment answers required
// before T1+ work may start.
type AssessmentProvider func(req models.Request, tier models.RiskTier) *risk.Assessment

// Result is the final outcome of one orchestrated request.
type Result struct {
	// RequestID is the processed request.
	RequestID string
	// InstanceID is the workflow instance, empty if refused before planning.
	InstanceID string
	// Tier is the request's risk tier.
	Tier models.RiskTier
	// Score holds the classification dimension scores.
	Score models.Score
	// Plan is the selected workflow plan.
	Plan models.WorkflowPlan
	// State is the instance's terminal lifecycle state.
	State workflow.State
	// Phases holds the per-phase swarm results in execution order.
	Phases []*swarm.PhaseResult
	// StopHookFailures lists blocking stop hooks that failed. A clean
	// completion requires this to be empty.
	StopHookFailures []hooks.Result
}

// RequiredConfig contains the dependencies every orchestrator needs.
type RequiredConfig struct {
	// Config is the resolved configuration.
	Config *config.Config
	// Runners creates worker execution backends. Required.
	Runners runner.Factory
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHookRegistry installs a pre-populated hook registry.
func WithHookRegistry(reg *hooks.Registry) Option {
	return func(o *Orchestrator) { o.registry = reg }
}

// WithStateDB enables session persistence.
func WithStateDB(db *state.DB) Option {
	return func(o *Orchestrator) { o.db = db }
}

// WithRules overrides the built-in classification rule tables.
func WithRules(rules *config.RuleTables) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithTaskPlanner overrides the default single-task phase planner.
func WithTaskPlanner(p TaskPlanner) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithVerifier installs the per-task verification provider.
func WithVerifier(v swarm.VerifyFunc) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithAssessments installs the provider for T1+ risk assessments.
func WithAssessments(p AssessmentProvider) Option {
	return func(o *Orchestrator) { o.assessments = p }
}

// WithMetrics installs Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger installs a debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator drives one request at a time through the pipeline.
type Orchestrator struct {
	cfg         *config.Config
	runners     runner.Factory
	rules       *config.RuleTables
	registry    *hooks.Registry
	dispatcher  *hooks.Dispatcher
	engine      *decision.Engine
	classifier  *risk.Classifier
	ledger      *risk.Ledger
	coordinator *swarm.Coordinator
	gate        *workflow.ConfirmationGate
	planner     TaskPlanner
	verifier    swarm.VerifyFunc
	assessments AssessmentProvider
	db          *state.DB
	emitter     *EventEmitter
	metrics     *Metrics
	logger      *DebugLogger
}

// New creates an Orchestrator using functional options.
func New(required RequiredConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     required.Config,
		runners: required.Runners,
		emitter: NewEventEmitter(100),
		gate:    workflow.NewConfirmationGate(),
		ledger:  risk.NewLedger(),
		logger:  NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.rules == nil {
		o.rules = config.DefaultRules()
	}
	if o.registry == nil {
		o.registry = hooks.NewRegistry()
	}
	if o.planner == nil {
		o.planner = defaultPlanner
	}
	o.dispatcher = hooks.NewDispatcher(o.registry, o.cfg.Hooks)
	o.engine = decision.NewEngine(o.cfg.Decision, o.rules)
	o.classifier = risk.NewClassifier(o.rules)
	o.coordinator = swarm.NewCoordinator(o.cfg.Swarm, o.runners, o.verifier)
	setPackageLogger(o.logger)
	return o
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Gate returns the confirmation gate operators respond through.
func (o *Orchestrator) Gate() *workflow.ConfirmationGate {
	return o.gate
}

// DroppedEventCount returns the number of dropped events.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.emitter.DroppedCount()
}

// SetRules swaps the classification rule tables at runtime. Used by
// the rule watcher on hot reload.
func (o *Orchestrator) SetRules(rules *config.RuleTables) {
	o.engine.SetRules(rules)
	o.classifier.SetRules(rules)
}

// defaultPlanner assigns the whole phase to a single critical task
// scoped to the request's file hints.
func defaultPlanner(req models.Request, phase models.Phase, plan models.WorkflowPlan) []models.AgentTask {
	resources := req.FileHints
	if len(resources) == 0 {
		resources = []string{"workspace"}
	}
	return []models.AgentTask{{
		ID:        req.ID + "-" + phase.Name,
		Phase:     phase.Name,
		Title:     req.Description,
		Resources: resources,
		Status:    models.TaskStatusPending,
		Critical:  true,
	}}
}

// moduleHints derives the distinct top-level areas touched by the
// request's file hints, used by the risk classifier's multi-module rule.
func moduleHints(fileHints []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range fileHints {
		area := h
		if i := strings.IndexByte(h, '/'); i > 0 {
			area = h[:i]
		}
		if !seen[area] {
			seen[area] = true
			out = append(out, area)
		}
	}
	return out
}

// Run drives a request through the full pipeline and returns its
// terminal result. The returned error reports refusals and unclean
// completions; partial results are always in the Result.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()[:8]
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}

	res := &Result{RequestID: req.ID}
	o.emitter.Emit(Event{Type: EventRequestReceived, RequestID: req.ID, Message: req.Description})
	debugLog("request %s received: %s", req.ID, req.Description)
	if o.db != nil {
		if err := o.db.SaveRequest(req); err != nil {
			debugLog("request %s: persist failed: %v", req.ID, err)
		}
	}

	// Submit hooks run exactly once per request, before classification.
	hctx := &hooks.Context{RequestID: req.ID, State: map[string]any{}}
	submitResults := o.dispatch(ctx, hooks.PointRequestSubmit, hctx)
	if blocked := hooks.BlockingFailures(o.registry, hooks.PointRequestSubmit, submitResults); len(blocked) > 0 {
		return res, fmt.Errorf("request %s refused: blocking submit hook %s failed", req.ID, blocked[0].Hook)
	}

	// Risk classification. The recorded tier is monotonic for the
	// request's lifetime.
	cls := o.classifier.Classify(risk.TaskDescriptor{
		Description: req.Description,
		Modules:     moduleHints(req.FileHints),
	})
	res.Tier = o.ledger.Record(req.ID, cls.Tier)
	if o.db != nil {
		_ = o.db.SaveTierDecision(req.ID, req.ID, res.Tier, cls.Reason)
	}
	if o.metrics != nil {
		o.metrics.TierDecisions.WithLabelValues(string(res.Tier)).Inc()
	}
	o.emitter.Emit(Event{Type: EventTierAssigned, RequestID: req.ID, Message: fmt.Sprintf("%s: %s", res.Tier, cls.Reason)})
	debugLog("request %s tier %s (%s)", req.ID, res.Tier, cls.Reason)

	// T1+ work may not start until the risk assessment is answered.
	if res.Tier.AtLeast(models.TierT1) {
		var assessment *risk.Assessment
		if o.assessments != nil {
			assessment = o.assessments(req, res.Tier)
		}
		if err := risk.Ready(res.Tier, assessment); err != nil {
			return res, fmt.Errorf("request %s refused: %w", req.ID, err)
		}
	}

	// Plan selection.
	score, plan := o.engine.Classify(req)
	res.Score = score
	res.Plan = plan
	if o.db != nil {
		_ = o.db.SaveDecision(req.ID, score, plan)
	}
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(plan.Class)).Inc()
	}
	o.emitter.Emit(Event{Type: EventPlanSelected, RequestID: req.ID, Message: fmt.Sprintf("%s: %s", plan.Class, plan.Reasoning)})
	debugLog("request %s plan %s (%d phases, confidence %.2f)", req.ID, plan.Class, len(plan.Phases), plan.Confidence)

	inst := workflow.NewInstance(req.ID, plan, res.Tier)
	machine := workflow.NewMachine(inst, o.cfg.Workflow, o.gate)
	res.InstanceID = inst.ID

	runErr := o.runPhases(ctx, req, machine, hctx, res)

	res.State = machine.State()
	o.persistInstance(machine)

	// Stop hooks always run, success or abort. Blocking failures leave
	// the workflow unable to complete cleanly.
	hctx.Phase = ""
	hctx.Resource = ""
	stopResults := o.dispatch(ctx, hooks.PointWorkflowStop, hctx)
	res.StopHookFailures = hooks.BlockingFailures(o.registry, hooks.PointWorkflowStop, stopResults)

	switch {
	case runErr != nil:
		o.emitter.Emit(Event{Type: EventWorkflowAborted, RequestID: req.ID, InstanceID: inst.ID, Message: runErr.Error()})
		return res, runErr
	case res.State == workflow.StateAbortedFailed:
		o.emitter.Emit(Event{Type: EventWorkflowAborted, RequestID: req.ID, InstanceID: inst.ID})
		return res, nil
	case len(res.StopHookFailures) > 0:
		o.emitter.Emit(Event{Type: EventWorkflowAborted, RequestID: req.ID, InstanceID: inst.ID, Message: "blocking stop hook failed"})
		return res, fmt.Errorf("request %s: blocking stop hook %s failed", req.ID, res.StopHookFailures[0].Hook)
	default:
		o.emitter.Emit(Event{Type: EventWorkflowCompleted, RequestID: req.ID, InstanceID: inst.ID})
		return res, nil
	}
}

// runPhases advances the machine through every phase of the plan.
func (o *Orchestrator) runPhases(ctx context.Context, req models.Request, machine *workflow.Machine, hctx *hooks.Context, res *Result) error {
	for {
		if machine.State().Terminal() {
			return nil
		}
		idx, err := machine.StartNext()
		if err != nil {
			// No pending phase remains.
			return nil
		}
		phase := res.Plan.Phases[idx]
		o.emitter.Emit(Event{Type: EventPhaseStarted, RequestID: req.ID, Phase: phase.Name})
		debugLog("request %s phase %s started", req.ID, phase.Name)

		start := time.Now()
		err = o.runPhase(ctx, req, machine, idx, phase, hctx, res)
		if o.metrics != nil {
			o.metrics.PhaseSeconds.WithLabelValues(phase.Name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return err
		}
	}
}

// runPhase executes one phase, including recovery re-entry, escalation,
// mutate hooks, and the completion gates.
func (o *Orchestrator) runPhase(ctx context.Context, req models.Request, machine *workflow.Machine, idx int, phase models.Phase, hctx *hooks.Context, res *Result) error {
	skip := make(map[string]bool)

	for {
		tasks := o.planner(req, phase, res.Plan)
		if len(skip) > 0 {
			kept := tasks[:0]
			for _, t := range tasks {
				if !skip[t.ID] {
					kept = append(kept, t)
				}
			}
			tasks = kept
		}

		pres, err := o.coordinator.RunPhase(ctx, phase, tasks)
		if pres != nil {
			res.Phases = append(res.Phases, pres)
			o.observePhase(req, pres)
		}
		if err != nil {
			_ = machine.FailPhase(idx, err.Error())
			o.emitter.Emit(Event{Type: EventPhaseFailed, RequestID: req.ID, Phase: phase.Name, Message: err.Error()})
			_, escErr := machine.Escalate(idx, false)
			if escErr != nil {
				return escErr
			}
			if o.metrics != nil {
				o.metrics.Escalations.WithLabelValues(string(workflow.EscalationAborted)).Inc()
			}
			return nil
		}

		// Mutate hooks fire once per modified resource.
		hctx.Phase = phase.Name
		for _, resource := range pres.Modified {
			hctx.Resource = resource
			o.dispatch(ctx, hooks.PointResourceMutated, hctx)
		}
		hctx.Resource = ""
		machine.RecordModified(pres.Modified...)

		if pres.Succeeded() {
			return o.completePhase(ctx, req, machine, idx, phase, pres, res)
		}

		// Failure path: targeted recovery first, then escalation. Tasks
		// that passed are never re-run, so any re-entry is scoped to the
		// still-failing work. Deferred tasks did not run and stay eligible.
		failedSet := make(map[string]bool, len(pres.Failed))
		for _, id := range pres.Failed {
			failedSet[id] = true
		}
		deferredSet := make(map[string]bool, len(pres.Deferred))
		for _, t := range pres.Deferred {
			deferredSet[t.ID] = true
		}
		for _, t := range tasks {
			if !failedSet[t.ID] && !deferredSet[t.ID] {
				skip[t.ID] = true
			}
		}

		failMsg := fmt.Sprintf("tasks failed after fix round: %s", strings.Join(pres.Failed, ", "))
		_ = machine.FailPhase(idx, failMsg)
		o.emitter.Emit(Event{Type: EventPhaseFailed, RequestID: req.ID, Phase: phase.Name, Message: failMsg})
		if o.metrics != nil {
			o.metrics.PhasesTotal.WithLabelValues("failed").Inc()
		}

		if ok, err := machine.Recover(idx); err != nil {
			return err
		} else if ok {
			debugLog("request %s phase %s re-entered for recovery", req.ID, phase.Name)
			continue
		}

		// Recovery exhausted. Reduced-scope re-plan is possible only
		// when every still-failing task is non-critical.
		canReduce := true
		for _, t := range tasks {
			if failedSet[t.ID] && t.Critical {
				canReduce = false
				break
			}
		}

		outcome, err := machine.Escalate(idx, canReduce)
		if err != nil {
			return err
		}
		if o.metrics != nil {
			o.metrics.Escalations.WithLabelValues(string(outcome)).Inc()
		}
		o.emitter.Emit(Event{Type: EventEscalation, RequestID: req.ID, Phase: phase.Name, Message: string(outcome)})
		debugLog("request %s phase %s escalated: %s", req.ID, phase.Name, outcome)

		if outcome == workflow.EscalationAborted {
			return nil
		}
		for id := range failedSet {
			skip[id] = true
		}
	}
}

// completePhase applies the verification and confirmation gates and
// marks the phase completed.
func (o *Orchestrator) completePhase(ctx context.Context, req models.Request, machine *workflow.Machine, idx int, phase models.Phase, pres *swarm.PhaseResult, res *Result) error {
	if res.Tier.RequiresConfirmation() {
		summary := phaseSummary(pres)
		digest := workflow.Digest(summary)
		o.emitter.Emit(Event{Type: EventConfirmationRequested, RequestID: req.ID, Phase: phase.Name, Message: summary})
		debugLog("request %s phase %s awaiting confirmation", req.ID, phase.Name)

		confirmCtx, cancel := context.WithTimeout(ctx, o.cfg.Workflow.ConfirmationTimeout)
		resp, err := o.gate.Await(confirmCtx, workflow.ConfirmationRequest{
			InstanceID:   res.InstanceID,
			Phase:        idx,
			Summary:      summary,
			ResultDigest: digest,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("phase %s confirmation: %w", phase.Name, err)
		}
		if !resp.Confirmed {
			_ = machine.FailPhase(idx, "confirmation declined: "+resp.Reason)
			if _, err := machine.Escalate(idx, false); err != nil {
				return err
			}
			return nil
		}
		machine.RecordConfirmation(idx, digest)
	}

	achieved := machine.RequiredVerification(idx)
	if err := machine.CompletePhase(idx, achieved); err != nil {
		return fmt.Errorf("complete phase %s: %w", phase.Name, err)
	}
	if o.metrics != nil {
		o.metrics.PhasesTotal.WithLabelValues("completed").Inc()
	}
	o.emitter.Emit(Event{Type: EventPhaseCompleted, RequestID: req.ID, Phase: phase.Name})
	debugLog("request %s phase %s completed", req.ID, phase.Name)
	return nil
}

// dispatch runs the hooks for a point and records outcomes.
func (o *Orchestrator) dispatch(ctx context.Context, point hooks.Point, hctx *hooks.Context) []hooks.Result {
	start := time.Now()
	results := o.dispatcher.Dispatch(ctx, point, hctx)
	if o.metrics != nil {
		o.metrics.HookDispatchSeconds.WithLabelValues(string(point)).Observe(time.Since(start).Seconds())
	}
	if o.db != nil {
		for _, r := range results {
			_ = o.db.RecordHookResult(hctx.RequestID, point, r)
		}
	}
	return results
}

// observePhase records swarm activity from one phase result.
func (o *Orchestrator) observePhase(req models.Request, pres *swarm.PhaseResult) {
	if o.metrics != nil {
		o.metrics.WorkersSpawned.Add(float64(pres.Spawned))
		o.metrics.WorkerReplacements.Add(float64(pres.Replacements))
	}
	for _, w := range pres.Workers {
		if w.IsReplacement() {
			o.emitter.Emit(Event{
				Type:      EventWorkerReplaced,
				RequestID: req.ID,
				Phase:     pres.Phase,
				Message:   fmt.Sprintf("worker %s replaced stalled %s", w.ID, w.Replaces),
			})
		}
	}
	if pres.Conservation {
		o.emitter.Emit(Event{
			Type:      EventConservationEntered,
			RequestID: req.ID,
			Phase:     pres.Phase,
			Message:   pres.ConservationReason,
		})
	}
}

// persistInstance saves the instance summary and its transition log.
func (o *Orchestrator) persistInstance(machine *workflow.Machine) {
	if o.db == nil {
		return
	}
	inst := machine.Instance()
	if err := o.db.SaveInstance(inst); err != nil {
		debugLog("instance %s: persist failed: %v", inst.ID, err)
		return
	}
	for _, tr := range inst.Transitions {
		_ = o.db.RecordTransition(inst.ID, tr)
	}
}

// phaseSummary builds the operator-facing summary a confirmation binds
// to. Any change to the underlying results changes the digest.
func phaseSummary(pres *swarm.PhaseResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase %s: %d workers, %d outcomes", pres.Phase, pres.Spawned, len(pres.Outcomes))
	for _, w := range pres.Workers {
		if w.Summary != "" {
			b.WriteString("\n- " + w.Summary)
		}
	}
	if len(pres.Modified) > 0 {
		b.WriteString("\nmodified: " + strings.Join(pres.Modified, ", "))
	}
	return b.String()
}
