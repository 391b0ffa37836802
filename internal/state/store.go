package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelworks/swarmgate/internal/hooks"
	"github.com/kestrelworks/swarmgate/internal/workflow"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DecisionRecord is a persisted classification decision.
type DecisionRecord struct {
	// RequestID is the classified request.
	RequestID string
	// Score holds the eight dimension scores.
	Score models.Score
	// PlanClass is the selected plan class.
	PlanClass models.PlanClass
	// Confidence is the classifier's confidence in the plan.
	Confidence float64
	// Fallback indicates the conservative fallback plan was used.
	Fallback bool
	// Reasoning is the decision transparency text.
	Reasoning string
	// CreatedAt is when the decision was recorded.
	CreatedAt time.Time
}

// SaveRequest persists a submitted request.
func (db *DB) SaveRequest(req models.Request) error {
	_, err := db.Exec(`
		INSERT INTO requests (id, description, tokens_used, request_count, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			tokens_used = excluded.tokens_used,
			request_count = excluded.request_count
	`, req.ID, req.Description, req.Session.TokensUsed, req.Session.RequestCount, formatTime(req.SubmittedAt))
	if err != nil {
		return fmt.Errorf("save request %s: %w", req.ID, err)
	}
	return nil
}

// SaveDecision persists the classification decision for a request.
func (db *DB) SaveDecision(requestID string, score models.Score, plan models.WorkflowPlan) error {
	scores, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	fallback := 0
	if plan.Fallback {
		fallback = 1
	}

	_, err = db.Exec(`
		INSERT INTO decisions (request_id, scores, plan_class, confidence, fallback, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			scores = excluded.scores,
			plan_class = excluded.plan_class,
			confidence = excluded.confidence,
			fallback = excluded.fallback,
			reasoning = excluded.reasoning
	`, requestID, string(scores), string(plan.Class), plan.Confidence, fallback, plan.Reasoning, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save decision for %s: %w", requestID, err)
	}
	return nil
}

// GetDecision loads the classification decision for a request.
func (db *DB) GetDecision(requestID string) (*DecisionRecord, error) {
	row := db.QueryRow(`
		SELECT scores, plan_class, confidence, fallback, reasoning, created_at
		FROM decisions WHERE request_id = ?
	`, requestID)

	var (
		scores    string
		class     string
		conf      float64
		fallback  int
		reasoning sql.NullString
		createdAt string
	)
	if err := row.Scan(&scores, &class, &conf, &fallback, &reasoning, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get decision for %s: %w", requestID, err)
	}

	rec := &DecisionRecord{
		RequestID:  requestID,
		Score:      make(models.Score),
		PlanClass:  models.PlanClass(class),
		Confidence: conf,
		Fallback:   fallback != 0,
		Reasoning:  reasoning.String,
	}
	if err := json.Unmarshal([]byte(scores), &rec.Score); err != nil {
		return nil, fmt.Errorf("unmarshal scores for %s: %w", requestID, err)
	}
	if t, err := parseTime(createdAt); err == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}

// SaveTierDecision persists one task's risk tier for a request.
func (db *DB) SaveTierDecision(requestID, taskID string, tier models.RiskTier, reason string) error {
	_, err := db.Exec(`
		INSERT INTO tier_decisions (task_id, request_id, tier, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, request_id) DO UPDATE SET
			tier = excluded.tier,
			reason = excluded.reason
	`, taskID, requestID, string(tier), reason, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save tier decision for %s/%s: %w", requestID, taskID, err)
	}
	return nil
}

// HighestTier returns the highest tier recorded for a request, or T0
// when no tier decisions exist.
func (db *DB) HighestTier(requestID string) (models.RiskTier, error) {
	rows, err := db.Query(`SELECT tier FROM tier_decisions WHERE request_id = ?`, requestID)
	if err != nil {
		return models.TierT0, fmt.Errorf("query tiers for %s: %w", requestID, err)
	}
	defer rows.Close()

	highest := models.TierT0
	for rows.Next() {
		var tier string
		if err := rows.Scan(&tier); err != nil {
			return models.TierT0, fmt.Errorf("scan tier: %w", err)
		}
		highest = models.MaxTier(highest, models.RiskTier(tier))
	}
	return highest, rows.Err()
}

// SaveInstance upserts a workflow instance's summary row.
func (db *DB) SaveInstance(inst workflow.Instance) error {
	var started, finished any
	if !inst.StartedAt.IsZero() {
		started = formatTime(inst.StartedAt)
	}
	if !inst.FinishedAt.IsZero() {
		finished = formatTime(inst.FinishedAt)
	}

	_, err := db.Exec(`
		INSERT INTO instances (id, request_id, state, tier, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, inst.ID, inst.RequestID, string(inst.State()), string(inst.Tier), started, finished)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

// RecordTransition appends one transition-log entry for an instance.
func (db *DB) RecordTransition(instanceID string, tr workflow.Transition) error {
	_, err := db.Exec(`
		INSERT INTO transitions (instance_id, phase, from_status, to_status, note, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, instanceID, tr.Phase, string(tr.From), string(tr.To), tr.Note, formatTime(tr.At))
	if err != nil {
		return fmt.Errorf("record transition for %s: %w", instanceID, err)
	}
	return nil
}

// Transitions loads the transition log for an instance in insert order.
func (db *DB) Transitions(instanceID string) ([]workflow.Transition, error) {
	rows, err := db.Query(`
		SELECT phase, from_status, to_status, note, at
		FROM transitions WHERE instance_id = ? ORDER BY id
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query transitions for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []workflow.Transition
	for rows.Next() {
		var (
			tr       workflow.Transition
			from, to sql.NullString
			note     sql.NullString
			at       string
		)
		if err := rows.Scan(&tr.Phase, &from, &to, &note, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.PhaseStatus(from.String)
		tr.To = models.PhaseStatus(to.String)
		tr.Note = note.String
		if t, err := parseTime(at); err == nil {
			tr.At = t
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecordHookResult persists one hook dispatch outcome.
func (db *DB) RecordHookResult(requestID string, point hooks.Point, res hooks.Result) error {
	_, err := db.Exec(`
		INSERT INTO hook_results (request_id, point, hook, status, elapsed_ms, display, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, requestID, string(point), res.Hook, string(res.Status), res.Elapsed.Milliseconds(), res.Display, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record hook result %s/%s: %w", point, res.Hook, err)
	}
	return nil
}

// HookResultCount returns how many hook outcomes are recorded for a
// request at a given point.
func (db *DB) HookResultCount(requestID string, point hooks.Point) (int, error) {
	var n int
	row := db.QueryRow(`
		SELECT COUNT(*) FROM hook_results WHERE request_id = ? AND point = ?
	`, requestID, string(point))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count hook results: %w", err)
	}
	return n, nil
}

// RequestSummary is one row of the recent-request listing.
type RequestSummary struct {
	// ID is the request ID.
	ID string
	// Description is the request text.
	Description string
	// PlanClass is the selected plan class, empty if undecided.
	PlanClass string
	// State is the instance state, empty if no instance was created.
	State string
	// SubmittedAt is when the request was submitted.
	SubmittedAt time.Time
}

// RecentRequests lists the most recently submitted requests with their
// decision and instance state, newest first.
func (db *DB) RecentRequests(limit int) ([]RequestSummary, error) {
	rows, err := db.Query(`
		SELECT r.id, r.description, r.submitted_at,
			COALESCE(d.plan_class, ''), COALESCE(i.state, '')
		FROM requests r
		LEFT JOIN decisions d ON d.request_id = r.id
		LEFT JOIN instances i ON i.request_id = r.id
		ORDER BY r.submitted_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent requests: %w", err)
	}
	defer rows.Close()

	var out []RequestSummary
	for rows.Next() {
		var (
			s  RequestSummary
			at string
		)
		if err := rows.Scan(&s.ID, &s.Description, &at, &s.PlanClass, &s.State); err != nil {
			return nil, fmt.Errorf("scan request summary: %w", err)
		}
		if t, err := parseTime(at); err == nil {
			s.SubmittedAt = t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
