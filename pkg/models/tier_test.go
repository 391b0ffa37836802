package models

import "testing"

func TestRiskTier_Valid(t *testing.T) {
	tests := []struct {
		name string
		tier RiskTier
		want bool
	}{
		{"T0 is valid", TierT0, true},
		{"T1 is valid", TierT1, true},
		{"T2 is valid", TierT2, true},
		{"T3 is valid", TierT3, true},
		{"empty string is invalid", RiskTier(""), false},
		{"unknown tier is invalid", RiskTier("T4"), false},
		{"lowercase is invalid", RiskTier("t1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Valid(); got != tt.want {
				t.Errorf("RiskTier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestRiskTier_Level(t *testing.T) {
	tests := []struct {
		tier RiskTier
		want int
	}{
		{TierT0, 0},
		{TierT1, 1},
		{TierT2, 2},
		{TierT3, 3},
		{RiskTier("bogus"), -1},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := tt.tier.Level(); got != tt.want {
				t.Errorf("RiskTier(%q).Level() = %d, want %d", tt.tier, got, tt.want)
			}
		})
	}
}

func TestMaxTier_NeverDecreases(t *testing.T) {
	tests := []struct {
		name string
		a, b RiskTier
		want RiskTier
	}{
		{"equal tiers", TierT1, TierT1, TierT1},
		{"escalation wins", TierT1, TierT3, TierT3},
		{"downgrade ignored", TierT3, TierT0, TierT3},
		{"from zero", TierT0, TierT2, TierT2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxTier(tt.a, tt.b); got != tt.want {
				t.Errorf("MaxTier(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestVerificationFor(t *testing.T) {
	tests := []struct {
		tier RiskTier
		want VerificationLevel
	}{
		{TierT0, VerifyBasic},
		{TierT1, VerifyFull},
		{TierT2, VerifyFullSecurity},
		{TierT3, VerifyFullSecurity},
		{RiskTier("unknown"), VerifyFullSecurity},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := VerificationFor(tt.tier); got != tt.want {
				t.Errorf("VerificationFor(%s) = %s, want %s", tt.tier, got, tt.want)
			}
		})
	}
}

func TestRiskTier_RequiresConfirmation(t *testing.T) {
	if TierT2.RequiresConfirmation() {
		t.Error("T2 should not require human confirmation")
	}
	if !TierT3.RequiresConfirmation() {
		t.Error("T3 must require human confirmation")
	}
}
