// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy maps aggregate scores to terminal decisions and
// implements the entry-stage choices of the pipeline state machine:
// the consent short-circuit, the probabilistic sampling bypass, and
// the rapid/full tier transition.
package policy

import (
	"math/rand"
	"sync"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// Decision thresholds. They partition [0,1] totally and without
// overlap: every score maps to exactly one decision.
const (
	ThresholdPass       = 0.90
	ThresholdRegenerate = 0.70
	ThresholdQuarantine = 0.50
	ThresholdEscalate   = 0.30
)

// Decide maps an aggregate score to its terminal decision.
func Decide(score float64) datatypes.Decision {
	switch {
	case score >= ThresholdPass:
		return datatypes.DecisionPass
	case score >= ThresholdRegenerate:
		return datatypes.DecisionRegenerate
	case score >= ThresholdQuarantine:
		return datatypes.DecisionQuarantine
	case score >= ThresholdEscalate:
		return datatypes.DecisionEscalate
	default:
		return datatypes.DecisionBlock
	}
}

// NeedsReview reports whether the decision triggers the external
// review-queue enqueue.
func NeedsReview(d datatypes.Decision) bool {
	return d == datatypes.DecisionQuarantine || d == datatypes.DecisionEscalate
}

// -----------------------------------------------------------------------------
// Evaluation Profiles
// -----------------------------------------------------------------------------

// Profile carries the tiering and sampling policy for a run.
type Profile struct {
	ID string `yaml:"id" json:"id"`

	// SamplingRate is the probability that a request is actually
	// evaluated. A uniform draw at or above the rate short-circuits
	// to a sampled pass with zero critic work. Default 1.0 evaluates
	// everything.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`

	// TieredEnabled turns on the rapid screening pass.
	TieredEnabled bool `yaml:"tiered_enabled" json:"tiered_enabled"`

	// RapidCriticIDs designates the rapid-screen critic subset.
	// Tiering is skipped when empty even if TieredEnabled is set.
	RapidCriticIDs []string `yaml:"rapid_critic_ids" json:"rapid_critic_ids"`

	// RapidThreshold is the minimum rapid-pass aggregate score needed
	// to proceed to the full tier.
	RapidThreshold float64 `yaml:"rapid_threshold" json:"rapid_threshold" validate:"gte=0,lte=1"`
}

// DefaultProfile evaluates every request with no tiering.
func DefaultProfile() Profile {
	return Profile{
		ID:           "default",
		SamplingRate: 1.0,
	}
}

// Tiered reports whether the rapid screening pass applies.
func (p Profile) Tiered() bool {
	return p.TieredEnabled && len(p.RapidCriticIDs) > 0
}

// RapidSubset filters the resolved set down to the rapid-screen
// critics, preserving order.
func (p Profile) RapidSubset(critics []datatypes.ResolvedCritic) []datatypes.ResolvedCritic {
	if !p.Tiered() {
		return critics
	}
	rapid := make(map[string]struct{}, len(p.RapidCriticIDs))
	for _, id := range p.RapidCriticIDs {
		rapid[id] = struct{}{}
	}
	var out []datatypes.ResolvedCritic
	for _, rc := range critics {
		if _, ok := rapid[rc.Critic.ID]; ok {
			out = append(out, rc)
		}
	}
	return out
}

// PassesRapidScreen reports whether the rapid-tier aggregate admits
// the run to the full tier.
func (p Profile) PassesRapidScreen(score float64) bool {
	return score >= p.RapidThreshold
}

// -----------------------------------------------------------------------------
// Sampling
// -----------------------------------------------------------------------------

// Sampler draws the probabilistic full-bypass decision.
//
// Description:
//
//	ShouldEvaluate draws uniform [0,1) and compares against the
//	profile's sampling rate; a draw at or above the rate produces a
//	sampled pass without any critic work. This cost-control bypass is
//	preserved from the original system — see design notes.
//
// Thread Safety: Safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a sampler with the given seed. Tests pass a fixed
// seed for deterministic draws.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// ShouldEvaluate returns true when the request must go through the
// critic pipeline, false when it short-circuits to a sampled pass.
func (s *Sampler) ShouldEvaluate(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0 {
		return false
	}
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()
	return draw < rate
}
