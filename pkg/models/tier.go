package models

// RiskTier is the ordinal risk classification assigned to a task unit.
// It governs the required controls: validation depth, review type, and
// approval mode. A tier is never downgraded once assigned; it may only
// be escalated by explicit re-classification.
type RiskTier string

const (
	// TierT0 is routine work with no user-visible or structural impact.
	TierT0 RiskTier = "T0"
	// TierT1 covers user-visible behavior changes or multi-module edits.
	TierT1 RiskTier = "T1"
	// TierT2 covers security, privacy, or data-integrity implications.
	TierT2 RiskTier = "T2"
	// TierT3 covers irreversible or regulated effects (migrations without
	// rollback, payment or credential changes).
	TierT3 RiskTier = "T3"
)

// Valid returns true if the tier is a known value.
func (t RiskTier) Valid() bool {
	switch t {
	case TierT0, TierT1, TierT2, TierT3:
		return true
	default:
		return false
	}
}

// Level returns the ordinal level of the tier (0-3).
// Unknown tiers return -1.
func (t RiskTier) Level() int {
	switch t {
	case TierT0:
		return 0
	case TierT1:
		return 1
	case TierT2:
		return 2
	case TierT3:
		return 3
	default:
		return -1
	}
}

// AtLeast returns true if the tier is at or above the given tier.
func (t RiskTier) AtLeast(other RiskTier) bool {
	return t.Level() >= other.Level()
}

// MaxTier returns the higher of two tiers. Used when merging classification
// results so that a tier never decreases.
func MaxTier(a, b RiskTier) RiskTier {
	if b.Level() > a.Level() {
		return b
	}
	return a
}

// VerificationLevel describes how much verification a phase requires
// before it may complete.
type VerificationLevel string

const (
	// VerifyNone skips verification entirely.
	VerifyNone VerificationLevel = "none"
	// VerifyBasic runs the basic per-task verification checks.
	VerifyBasic VerificationLevel = "basic"
	// VerifyFull runs the complete verification suite.
	VerifyFull VerificationLevel = "full"
	// VerifyFullSecurity runs full verification plus security checks and
	// requires a recorded rollback plan.
	VerifyFullSecurity VerificationLevel = "full_security_rollback"
)

// Valid returns true if the level is a known value.
func (v VerificationLevel) Valid() bool {
	switch v {
	case VerifyNone, VerifyBasic, VerifyFull, VerifyFullSecurity:
		return true
	default:
		return false
	}
}

// VerificationFor returns the verification level required for a tier.
func VerificationFor(t RiskTier) VerificationLevel {
	switch t {
	case TierT0:
		return VerifyBasic
	case TierT1:
		return VerifyFull
	case TierT2, TierT3:
		return VerifyFullSecurity
	default:
		return VerifyFullSecurity
	}
}

// RequiresConfirmation returns true if the tier requires an explicit
// human-confirmation gate before a phase may complete.
func (t RiskTier) RequiresConfirmation() bool {
	return t == TierT3
}
