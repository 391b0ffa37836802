package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// ConfirmationRequest asks a human operator to confirm a T3 phase
// before it may complete.
type ConfirmationRequest struct {
	// InstanceID is the workflow instance awaiting confirmation.
	InstanceID string
	// Phase is the phase index awaiting confirmation.
	Phase int
	// Summary describes what the phase produced.
	Summary string
	// ResultDigest is the SHA256 digest of the phase result the
	// confirmation binds to.
	ResultDigest string
}

// ConfirmationResponse is the operator's decision.
type ConfirmationResponse struct {
	// InstanceID is the workflow instance the decision applies to.
	InstanceID string
	// Phase is the phase index the decision applies to.
	Phase int
	// Confirmed indicates the operator approved the phase result.
	Confirmed bool
	// Reason provides context for rejections.
	Reason string
	// At is when the operator responded.
	At time.Time
}

// confirmation is a recorded approval bound to a result digest. If the
// phase result changes, the digest no longer matches and re-confirmation
// is required.
type confirmation struct {
	digest string
	at     time.Time
}

// ConfirmationGate routes confirmation requests to an operator and
// records approvals bound to phase-result digests.
type ConfirmationGate struct {
	mu        sync.Mutex
	requestCh chan ConfirmationRequest
	pending   map[string]chan ConfirmationResponse
	recorded  map[string]confirmation
}

// NewConfirmationGate creates a ConfirmationGate.
func NewConfirmationGate() *ConfirmationGate {
	return &ConfirmationGate{
		requestCh: make(chan ConfirmationRequest, 8),
		pending:   make(map[string]chan ConfirmationResponse),
		recorded:  make(map[string]confirmation),
	}
}

// Requests returns the channel operators listen on for confirmation
// requests.
func (g *ConfirmationGate) Requests() <-chan ConfirmationRequest {
	return g.requestCh
}

// Digest computes the result digest a confirmation binds to.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Await sends the request to the operator and blocks until a response
// arrives or the context expires. A confirmed response is recorded
// against the request's result digest.
func (g *ConfirmationGate) Await(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error) {
	key := gateKey(req.InstanceID, req.Phase)
	respCh := make(chan ConfirmationResponse, 1)

	g.mu.Lock()
	g.pending[key] = respCh
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, key)
		g.mu.Unlock()
	}()

	select {
	case g.requestCh <- req:
	case <-ctx.Done():
		return ConfirmationResponse{}, ctx.Err()
	}

	select {
	case resp := <-respCh:
		if resp.Confirmed {
			g.mu.Lock()
			g.recorded[key] = confirmation{digest: req.ResultDigest, at: resp.At}
			g.mu.Unlock()
		}
		return resp, nil
	case <-ctx.Done():
		return ConfirmationResponse{}, ctx.Err()
	}
}

// Submit delivers an operator response for a pending request. Returns
// false if no request is pending for the instance and phase.
func (g *ConfirmationGate) Submit(resp ConfirmationResponse) bool {
	if resp.At.IsZero() {
		resp.At = time.Now()
	}

	g.mu.Lock()
	respCh, ok := g.pending[gateKey(resp.InstanceID, resp.Phase)]
	g.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case respCh <- resp:
		return true
	default:
		return false
	}
}

// Confirmed reports whether a confirmation is recorded for the phase
// and still binds to the given result digest. A changed digest
// invalidates the earlier confirmation.
func (g *ConfirmationGate) Confirmed(instanceID string, phase int, resultDigest string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.recorded[gateKey(instanceID, phase)]
	return ok && rec.digest == resultDigest
}

func gateKey(instanceID string, phase int) string {
	return instanceID + "/" + strconv.Itoa(phase)
}
