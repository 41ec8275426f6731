// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package aggregate

import (
	"math"
	"testing"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

func verdictsOf(scores ...float64) []datatypes.CriticVerdict {
	out := make([]datatypes.CriticVerdict, len(scores))
	for i, s := range scores {
		out[i] = datatypes.CriticVerdict{Score: s}
	}
	return out
}

func TestCompute_WeightedMean(t *testing.T) {
	// 0.95·1.0 + 0.40·1.2 over total weight 2.2 ≈ 0.648.
	agg := Compute(verdictsOf(0.95, 0.40), []float64{1.0, 1.2})

	want := (0.95*1.0 + 0.40*1.2) / 2.2
	if math.Abs(agg.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %v, want %v", agg.OverallScore, want)
	}
	if agg.OverallScore < 0.647 || agg.OverallScore > 0.649 {
		t.Errorf("OverallScore = %v, expected ≈ 0.648", agg.OverallScore)
	}
}

func TestCompute_ZeroTotalWeight(t *testing.T) {
	agg := Compute(verdictsOf(0.9, 0.8), []float64{0, 0})
	if agg.OverallScore != 0.0 {
		t.Errorf("OverallScore = %v, want 0.0 for zero total weight", agg.OverallScore)
	}
}

func TestCompute_EmptyBatch(t *testing.T) {
	agg := Compute(nil, nil)
	if agg.OverallScore != 0.0 {
		t.Errorf("OverallScore = %v, want 0.0", agg.OverallScore)
	}
	if agg.Agreement != 0.0 {
		t.Errorf("Agreement = %v, want 0.0 for fewer than 2 verdicts", agg.Agreement)
	}
}

func TestCompute_ScoreWithinBounds(t *testing.T) {
	// With all weights >= 0 and not all zero, the weighted mean must
	// lie within [min(score), max(score)].
	cases := []struct {
		name    string
		scores  []float64
		weights []float64
	}{
		{"uniform weights", []float64{0.1, 0.5, 0.9}, []float64{1, 1, 1}},
		{"skewed weights", []float64{0.2, 0.8}, []float64{10, 0.1}},
		{"single verdict", []float64{0.42}, []float64{3}},
		{"zero weight member", []float64{0.0, 1.0}, []float64{0, 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg := Compute(verdictsOf(tc.scores...), tc.weights)

			lo, hi := tc.scores[0], tc.scores[0]
			for _, s := range tc.scores {
				lo = math.Min(lo, s)
				hi = math.Max(hi, s)
			}
			if agg.OverallScore < lo-1e-9 || agg.OverallScore > hi+1e-9 {
				t.Errorf("OverallScore = %v outside [%v, %v]", agg.OverallScore, lo, hi)
			}
		})
	}
}

func TestCompute_AgreementIdenticalScores(t *testing.T) {
	agg := Compute(verdictsOf(0.7, 0.7, 0.7), []float64{1, 1, 1})
	if agg.Agreement != 1.0 {
		t.Errorf("Agreement = %v, want 1.0 for identical scores", agg.Agreement)
	}
}

func TestCompute_AgreementDecreasesWithSpread(t *testing.T) {
	tight := Compute(verdictsOf(0.80, 0.82), []float64{1, 1})
	wide := Compute(verdictsOf(0.10, 0.90), []float64{1, 1})

	if tight.Agreement <= wide.Agreement {
		t.Errorf("agreement should fall as spread grows: tight=%v wide=%v",
			tight.Agreement, wide.Agreement)
	}
	// [0, 1] has the maximum possible stddev (0.5) for the range, so
	// agreement bottoms out at exactly 0.
	floor := Compute(verdictsOf(0.0, 1.0), []float64{1, 1})
	if floor.Agreement != 0.0 {
		t.Errorf("Agreement = %v, want 0.0 at maximum spread", floor.Agreement)
	}
}

func TestCompute_AgreementRounding(t *testing.T) {
	agg := Compute(verdictsOf(0.95, 0.40), []float64{1, 1})

	// stddev = 0.275, agreement = 1 - 0.275/0.5 = 0.45.
	if agg.Agreement != 0.45 {
		t.Errorf("Agreement = %v, want 0.45", agg.Agreement)
	}
}

func TestCompute_DisagreementFlag(t *testing.T) {
	t.Run("flagged above threshold", func(t *testing.T) {
		// stddev of {0.1, 0.9} is 0.4 > 0.3.
		agg := Compute(verdictsOf(0.1, 0.9), []float64{1, 1})
		if !contains(agg.Flags, FlagCriticDisagreement) {
			t.Errorf("expected %q in flags %v", FlagCriticDisagreement, agg.Flags)
		}
	})

	t.Run("not flagged at modest spread", func(t *testing.T) {
		// stddev of {0.5, 0.7} is 0.1.
		agg := Compute(verdictsOf(0.5, 0.7), []float64{1, 1})
		if contains(agg.Flags, FlagCriticDisagreement) {
			t.Errorf("unexpected %q in flags %v", FlagCriticDisagreement, agg.Flags)
		}
	})
}

func TestCompute_FlagUnion(t *testing.T) {
	verdicts := []datatypes.CriticVerdict{
		{Score: 0.9, Flags: []string{"tone_shift", "critic_error"}},
		{Score: 0.8, Flags: []string{"tone_shift"}},
		{Score: 0.85, Flags: nil},
	}
	agg := Compute(verdicts, []float64{1, 1, 1})

	if len(agg.Flags) != 2 {
		t.Fatalf("Flags = %v, want exactly 2 distinct flags", agg.Flags)
	}
	if !contains(agg.Flags, "tone_shift") || !contains(agg.Flags, "critic_error") {
		t.Errorf("Flags = %v, missing expected members", agg.Flags)
	}
}

func contains(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
