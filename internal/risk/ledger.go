package risk

import (
	"sync"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

// Ledger records tier decisions per task unit for one session and
// enforces monotonicity: a recorded tier never decreases. Repeated
// classification may only escalate.
type Ledger struct {
	mu    sync.RWMutex
	tiers map[string]models.RiskTier
}

// NewLedger creates an empty tier ledger.
func NewLedger() *Ledger {
	return &Ledger{tiers: make(map[string]models.RiskTier)}
}

// Record stores a tier decision for the task unit and returns the
// effective tier. If a higher tier was recorded earlier, the earlier
// tier wins and is returned unchanged.
func (l *Ledger) Record(taskID string, tier models.RiskTier) models.RiskTier {
	l.mu.Lock()
	defer l.mu.Unlock()

	effective := models.MaxTier(l.tiers[taskID], tier)
	if !effective.Valid() {
		effective = tier
	}
	l.tiers[taskID] = effective
	return effective
}

// Get returns the recorded tier for a task unit and whether one exists.
func (l *Ledger) Get(taskID string) (models.RiskTier, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tier, ok := l.tiers[taskID]
	return tier, ok
}

// Highest returns the highest tier recorded across all task units.
// Returns T0 when the ledger is empty.
func (l *Ledger) Highest() models.RiskTier {
	l.mu.RLock()
	defer l.mu.RUnlock()

	highest := models.TierT0
	for _, tier := range l.tiers {
		highest = models.MaxTier(highest, tier)
	}
	return highest
}
