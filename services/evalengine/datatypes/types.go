// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the data model shared by the evaluation
// engine: character spec versions, critics and their configurations,
// evaluation runs and verdicts, drift baselines, and experiments.
//
// All types here are plain data. Behavior lives in the packages that
// consume them (consent, criticconfig, dispatch, aggregate, policy,
// pipeline, drift, experiment).
package datatypes

import (
	"time"
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Modality identifies the content type a critic can score.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"

	// ModalityMulti marks a critic that can score any content type.
	ModalityMulti Modality = "multi"
)

// Matches reports whether a critic with this modality can score
// content of the given modality.
func (m Modality) Matches(content Modality) bool {
	return m == ModalityMulti || m == content
}

// Decision is the terminal outcome of an evaluation run.
type Decision string

const (
	DecisionPass       Decision = "pass"
	DecisionRegenerate Decision = "regenerate"
	DecisionQuarantine Decision = "quarantine"
	DecisionEscalate   Decision = "escalate"
	DecisionBlock      Decision = "block"
)

// RunStatus tracks the lifecycle of an EvaluationRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// Tier identifies which evaluation pass produced a result.
type Tier string

const (
	// TierRapid is the cheap screening pass over a critic subset.
	TierRapid Tier = "rapid"

	// TierFull is the complete pass over the resolved critic set.
	TierFull Tier = "full"
)

// ConfigScope identifies the precedence level of a CriticConfiguration.
// Character-scoped configs dominate franchise-scoped configs, which
// dominate org/global-scoped ones.
type ConfigScope int

const (
	// ScopeOrg is an org-wide or global default configuration.
	ScopeOrg ConfigScope = iota

	// ScopeFranchise binds a configuration to one franchise.
	ScopeFranchise

	// ScopeCharacter binds a configuration to one character.
	ScopeCharacter
)

// String returns the string representation.
func (s ConfigScope) String() string {
	switch s {
	case ScopeOrg:
		return "org"
	case ScopeFranchise:
		return "franchise"
	case ScopeCharacter:
		return "character"
	default:
		return "unknown"
	}
}

// DriftSeverity classifies the magnitude of a detected deviation.
type DriftSeverity string

const (
	SeverityLow      DriftSeverity = "low"
	SeverityMedium   DriftSeverity = "medium"
	SeverityHigh     DriftSeverity = "high"
	SeverityCritical DriftSeverity = "critical"
)

// -----------------------------------------------------------------------------
// Character Specs
// -----------------------------------------------------------------------------

// Pack names within a CharacterSpecVersion.
const (
	PackCanon  = "canon"
	PackLegal  = "legal"
	PackSafety = "safety"
	PackVisual = "visual"
	PackAudio  = "audio"
)

// CharacterSpecVersion is an immutable snapshot of a character's five
// specification packs. Versions are never mutated after creation, only
// superseded; exactly one version per character is active at a time.
type CharacterSpecVersion struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	Version     int    `json:"version"`

	// Packs maps pack name (canon, legal, safety, visual, audio) to an
	// opaque structured document. The engine never interprets pack
	// contents; they are serialized into critic prompts as-is.
	Packs map[string]map[string]any `json:"packs"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Critics and Configuration
// -----------------------------------------------------------------------------

// Critic is a configured scoring agent: a prompt template bound to a
// judge capability, with a default weight and a modality tag.
type Critic struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OrgID string `json:"org_id,omitempty"` // empty = global

	// CapabilityRef names the judge backend this critic delegates to
	// (e.g. "openai:gpt-4o-mini", "anthropic:claude-3-5-sonnet").
	CapabilityRef string `json:"capability_ref"`

	// Template is the instruction template with named placeholders,
	// e.g. {{canon}}, {{safety}}, {{content}}, {{extra_instructions}}.
	Template string `json:"template"`

	// DefaultWeight is the critic's weight when no override applies.
	// Must be >= 0.
	DefaultWeight float64 `json:"default_weight"`

	Modality Modality `json:"modality"`
}

// CriticConfiguration binds a Critic to a scope with optional
// overrides. At most one configuration is effective per
// (critic, evaluation target) after resolution.
type CriticConfiguration struct {
	ID       string `json:"id"`
	CriticID string `json:"critic_id"`
	OrgID    string `json:"org_id"`

	// FranchiseID and CharacterID narrow the scope. Both empty means
	// the org-wide default.
	FranchiseID string `json:"franchise_id,omitempty"`
	CharacterID string `json:"character_id,omitempty"`

	// Enabled defaults to true when nil.
	Enabled *bool `json:"enabled,omitempty"`

	WeightOverride    *float64 `json:"weight_override,omitempty"`
	ThresholdOverride *float64 `json:"threshold_override,omitempty"`
	ExtraInstructions string   `json:"extra_instructions,omitempty"`
}

// Scope returns the precedence level implied by the binding fields.
func (c *CriticConfiguration) Scope() ConfigScope {
	switch {
	case c.CharacterID != "":
		return ScopeCharacter
	case c.FranchiseID != "":
		return ScopeFranchise
	default:
		return ScopeOrg
	}
}

// ResolvedCritic pairs a critic with its effective configuration after
// the three-tier merge. The dispatcher consumes these without any
// scope awareness.
type ResolvedCritic struct {
	Critic Critic

	// Config is nil when the critic was selected by the fail-open
	// fallback (no configuration resolved at all).
	Config *CriticConfiguration

	// Weight is the effective weight: WeightOverride if present, else
	// the critic's DefaultWeight.
	Weight float64
}

// ExtraInstructions returns the configured extra instructions, if any.
func (r *ResolvedCritic) ExtraInstructions() string {
	if r.Config == nil {
		return ""
	}
	return r.Config.ExtraInstructions
}

// -----------------------------------------------------------------------------
// Evaluation Requests and Runs
// -----------------------------------------------------------------------------

// EvaluationRequest is one request to evaluate a piece of content
// against a character's active spec version.
type EvaluationRequest struct {
	OrgID       string   `json:"org_id"`
	CharacterID string   `json:"character_id"`
	FranchiseID string   `json:"franchise_id,omitempty"`
	Content     string   `json:"content"`
	Modality    Modality `json:"modality"`
	Territory   string   `json:"territory,omitempty"`

	// ProfileID optionally references an evaluation profile carrying
	// tiering and sampling policy. Empty selects the default profile.
	ProfileID string `json:"profile_id,omitempty"`
}

// EvaluationRun is one pipeline invocation. It is created once,
// mutated only by the pipeline that owns it, and terminal once
// Status == RunCompleted.
type EvaluationRun struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	CharacterID   string    `json:"character_id"`
	SpecVersionID string    `json:"spec_version_id"`
	Modality      Modality  `json:"modality"`
	Status        RunStatus `json:"status"`
	Tier          Tier      `json:"tier"`

	// Sampled is true when the run was finalized by the sampling
	// bypass without any critic work.
	Sampled bool `json:"sampled"`

	OverallScore    float64  `json:"overall_score"` // in [0,1]
	Decision        Decision `json:"decision"`
	ConsentVerified bool     `json:"consent_verified"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// TokenUsage records the judge-side cost of one verdict.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model"`
}

// CriticVerdict is one critic's output for one run. Append-only, one
// per (EvaluationRun, Critic).
type CriticVerdict struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	CriticID string `json:"critic_id"`

	Score      float64  `json:"score"`      // in [0,1]
	Confidence float64  `json:"confidence"` // in [0,1]
	Reasoning  string   `json:"reasoning"`
	Flags      []string `json:"flags,omitempty"`

	Latency    time.Duration `json:"latency_ns"`
	TokenUsage TokenUsage    `json:"token_usage"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EvaluationResult is the aggregate derived from a run's verdicts.
// Exactly one per completed, non-sampled EvaluationRun.
type EvaluationResult struct {
	RunID string `json:"run_id"`

	WeightedScore float64 `json:"weighted_score"`

	// Agreement is the inter-critic agreement coefficient in [0,1],
	// rounded to 4 decimals. Zero when fewer than 2 verdicts exist.
	Agreement float64 `json:"agreement"`

	Flags           []string `json:"flags,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Drift
// -----------------------------------------------------------------------------

// DriftBaseline captures the historical score distribution for one
// (character, critic) pair, pinned to a spec version. Recomputation
// fully replaces the prior baseline.
type DriftBaseline struct {
	CharacterID   string `json:"character_id"`
	CriticID      string `json:"critic_id"`
	SpecVersionID string `json:"spec_version_id"`

	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"` // sample stddev; 0 when n < 2
	SampleCount int     `json:"sample_count"`

	// Threshold is the alert threshold in stddev units.
	Threshold float64 `json:"threshold"`

	ComputedAt time.Time `json:"computed_at"`
}

// DriftEvent is an immutable record of one detected deviation.
type DriftEvent struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	CriticID    string `json:"critic_id"`

	DetectedMean float64       `json:"detected_mean"`
	BaselineMean float64       `json:"baseline_mean"`
	Deviation    float64       `json:"deviation"`
	ZScore       float64       `json:"z_score"`
	Severity     DriftSeverity `json:"severity"`

	// TriggerRunID links the most recent run of the detection window.
	TriggerRunID string `json:"trigger_run_id,omitempty"`

	Acknowledged bool      `json:"acknowledged"`
	DetectedAt   time.Time `json:"detected_at"`
}

// -----------------------------------------------------------------------------
// Experiments
// -----------------------------------------------------------------------------

// VariantName identifies one side of an experiment.
type VariantName string

const (
	VariantA VariantName = "a"
	VariantB VariantName = "b"
)

// Variant is one experiment arm: a set of critic-weight overrides
// applied on top of the resolved configuration.
type Variant struct {
	Name VariantName `json:"name"`

	// WeightOverrides maps critic id to the weight used for this arm.
	// Critics absent from the map keep their resolved weight.
	WeightOverrides map[string]float64 `json:"weight_overrides,omitempty"`
}

// ExperimentStatus tracks the experiment lifecycle.
type ExperimentStatus string

const (
	ExperimentRunning ExperimentStatus = "running"
	ExperimentClosed  ExperimentStatus = "closed"
)

// Experiment compares two variant configurations over accumulated
// paired trials.
type Experiment struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`

	VariantA Variant `json:"variant_a"`
	VariantB Variant `json:"variant_b"`

	TargetSampleSize int              `json:"target_sample_size"`
	Status           ExperimentStatus `json:"status"`

	// Winner and PValue are frozen when the experiment closes.
	// Winner is empty while running or when inconclusive.
	Winner VariantName `json:"winner,omitempty"`
	PValue float64     `json:"p_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitzero"`
}

// TrialRun is one paired (variant, EvaluationRun) observation.
// Append-only; appends are independent across trials.
type TrialRun struct {
	ID           string      `json:"id"`
	ExperimentID string      `json:"experiment_id"`
	Variant      VariantName `json:"variant"`
	RunID        string      `json:"run_id"`

	Score    float64   `json:"score"`
	Decision Decision  `json:"decision"`
	AddedAt  time.Time `json:"added_at"`
}

// Passed reports whether this trial counts as a pass for the
// two-proportion fallback test.
func (t *TrialRun) Passed() bool {
	return t.Decision == DecisionPass
}
