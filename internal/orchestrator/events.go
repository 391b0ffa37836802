package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of orchestration event.
type EventType string

const (
	// EventRequestReceived fires when a request enters the pipeline.
	EventRequestReceived EventType = "request_received"
	// EventTierAssigned fires when risk classification completes.
	EventTierAssigned EventType = "tier_assigned"
	// EventPlanSelected fires when the decision engine picks a plan.
	EventPlanSelected EventType = "plan_selected"
	// EventPhaseStarted fires when a phase moves to in_progress.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted fires when a phase completes.
	EventPhaseCompleted EventType = "phase_completed"
	// EventPhaseFailed fires when a phase fails.
	EventPhaseFailed EventType = "phase_failed"
	// EventWorkerReplaced fires when a stalled worker was replaced.
	EventWorkerReplaced EventType = "worker_replaced"
	// EventEscalation fires when a phase exhausted its recoveries.
	EventEscalation EventType = "escalation"
	// EventConfirmationRequested fires when a T3 phase awaits a human.
	EventConfirmationRequested EventType = "confirmation_requested"
	// EventConservationEntered fires when conservation mode activates.
	EventConservationEntered EventType = "conservation_entered"
	// EventWorkflowCompleted fires on the successful terminal state.
	EventWorkflowCompleted EventType = "workflow_completed"
	// EventWorkflowAborted fires on the failed terminal state.
	EventWorkflowAborted EventType = "workflow_aborted"
)

// Event is one orchestration event delivered to subscribers.
type Event struct {
	// Type identifies the event kind.
	Type EventType
	// RequestID is the owning request.
	RequestID string
	// InstanceID is the workflow instance, when one exists.
	InstanceID string
	// Phase is the phase name for phase-scoped events.
	Phase string
	// Message is a human-readable description.
	Message string
	// At is when the event was emitted.
	At time.Time
}

// EventEmitter handles event emission for the orchestrator.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Channel full; give the receiver 100ms to drain before dropping.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the orchestrator is stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
