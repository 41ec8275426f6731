// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"testing"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

func TestDecide_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  datatypes.Decision
	}{
		{1.0, datatypes.DecisionPass},
		{0.90, datatypes.DecisionPass},
		{0.899999, datatypes.DecisionRegenerate},
		{0.70, datatypes.DecisionRegenerate},
		{0.648, datatypes.DecisionQuarantine},
		{0.50, datatypes.DecisionQuarantine},
		{0.49, datatypes.DecisionEscalate},
		{0.30, datatypes.DecisionEscalate},
		{0.29, datatypes.DecisionBlock},
		{0.0, datatypes.DecisionBlock},
	}

	for _, tt := range tests {
		if got := Decide(tt.score); got != tt.want {
			t.Errorf("Decide(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestDecide_TotalPartition(t *testing.T) {
	// Every score in [0,1] must map to exactly one decision; walking a
	// fine grid must never produce an unknown decision and must be
	// monotonically non-increasing in strictness.
	valid := map[datatypes.Decision]bool{
		datatypes.DecisionPass:       true,
		datatypes.DecisionRegenerate: true,
		datatypes.DecisionQuarantine: true,
		datatypes.DecisionEscalate:   true,
		datatypes.DecisionBlock:      true,
	}
	for i := 0; i <= 1000; i++ {
		score := float64(i) / 1000
		if !valid[Decide(score)] {
			t.Fatalf("Decide(%v) produced unknown decision %v", score, Decide(score))
		}
	}
}

func TestNeedsReview(t *testing.T) {
	tests := []struct {
		decision datatypes.Decision
		want     bool
	}{
		{datatypes.DecisionPass, false},
		{datatypes.DecisionRegenerate, false},
		{datatypes.DecisionQuarantine, true},
		{datatypes.DecisionEscalate, true},
		{datatypes.DecisionBlock, false},
	}
	for _, tt := range tests {
		if got := NeedsReview(tt.decision); got != tt.want {
			t.Errorf("NeedsReview(%v) = %v, want %v", tt.decision, got, tt.want)
		}
	}
}

func TestProfile_Tiering(t *testing.T) {
	t.Run("default profile is untier-ed", func(t *testing.T) {
		p := DefaultProfile()
		if p.Tiered() {
			t.Error("DefaultProfile().Tiered() = true, want false")
		}
	})

	t.Run("tiered requires a rapid subset", func(t *testing.T) {
		p := Profile{TieredEnabled: true}
		if p.Tiered() {
			t.Error("Tiered() = true with empty RapidCriticIDs")
		}
	})

	t.Run("rapid subset preserves order", func(t *testing.T) {
		p := Profile{
			TieredEnabled:  true,
			RapidCriticIDs: []string{"c3", "c1"},
		}
		critics := []datatypes.ResolvedCritic{
			{Critic: datatypes.Critic{ID: "c1"}},
			{Critic: datatypes.Critic{ID: "c2"}},
			{Critic: datatypes.Critic{ID: "c3"}},
		}
		subset := p.RapidSubset(critics)
		if len(subset) != 2 {
			t.Fatalf("RapidSubset returned %d critics, want 2", len(subset))
		}
		if subset[0].Critic.ID != "c1" || subset[1].Critic.ID != "c3" {
			t.Errorf("RapidSubset order = [%s, %s], want input order [c1, c3]",
				subset[0].Critic.ID, subset[1].Critic.ID)
		}
	})

	t.Run("rapid screen threshold", func(t *testing.T) {
		p := Profile{RapidThreshold: 0.6}
		if !p.PassesRapidScreen(0.6) {
			t.Error("PassesRapidScreen(0.6) = false at the threshold")
		}
		if p.PassesRapidScreen(0.59) {
			t.Error("PassesRapidScreen(0.59) = true below the threshold")
		}
	})
}

func TestSampler_ShouldEvaluate(t *testing.T) {
	s := NewSampler(1)

	t.Run("rate one always evaluates", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			if !s.ShouldEvaluate(1.0) {
				t.Fatal("ShouldEvaluate(1.0) = false")
			}
		}
	})

	t.Run("rate zero never evaluates", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			if s.ShouldEvaluate(0.0) {
				t.Fatal("ShouldEvaluate(0.0) = true")
			}
		}
	})

	t.Run("fractional rate approximates its probability", func(t *testing.T) {
		s := NewSampler(42)
		evaluated := 0
		const n = 10000
		for i := 0; i < n; i++ {
			if s.ShouldEvaluate(0.25) {
				evaluated++
			}
		}
		frac := float64(evaluated) / n
		if frac < 0.20 || frac > 0.30 {
			t.Errorf("evaluated fraction = %v, expected ≈ 0.25", frac)
		}
	})
}
