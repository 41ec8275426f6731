// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the persistence contracts the evaluation
// engine is written against, plus in-memory implementations used in
// tests. The durable implementation lives in storage/badger.
//
// Writes for runs, verdicts, results, drift events and trials are
// append-only; only EvaluationRun is mutated, and only by the pipeline
// that owns it. Queries are scoped by org/character and time-ordered
// (most recent first).
package storage

import (
	"context"
	"errors"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoActiveVersion indicates the character has no active spec version.
	ErrNoActiveVersion = errors.New("no active spec version")
)

// -----------------------------------------------------------------------------
// Store Interfaces
// -----------------------------------------------------------------------------

// SpecStore provides read access to character spec versions.
type SpecStore interface {
	// GetActiveVersion returns the character's active spec version.
	// Returns ErrNotFound for an unknown character and
	// ErrNoActiveVersion when the character exists but has no active
	// version.
	GetActiveVersion(ctx context.Context, characterID string) (*datatypes.CharacterSpecVersion, error)

	// PutVersion stores a spec version. Storing an active version
	// deactivates any prior active version for the same character.
	PutVersion(ctx context.Context, v *datatypes.CharacterSpecVersion) error
}

// CriticStore provides access to critics and their configurations.
type CriticStore interface {
	// ListCritics returns all critics visible to the org: org-owned
	// plus global ones.
	ListCritics(ctx context.Context, orgID string) ([]datatypes.Critic, error)

	// GetCritic returns one critic by id.
	GetCritic(ctx context.Context, criticID string) (*datatypes.Critic, error)

	// ListConfigurations returns every configuration in the org,
	// across all scopes. The resolver performs the precedence merge.
	ListConfigurations(ctx context.Context, orgID string) ([]datatypes.CriticConfiguration, error)

	PutCritic(ctx context.Context, c *datatypes.Critic) error
	PutConfiguration(ctx context.Context, cfg *datatypes.CriticConfiguration) error
}

// RunStore persists evaluation runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *datatypes.EvaluationRun) error

	// UpdateRun replaces the stored run. Callers must not update a
	// run once Status == RunCompleted (single-writer assumption).
	UpdateRun(ctx context.Context, run *datatypes.EvaluationRun) error

	GetRun(ctx context.Context, runID string) (*datatypes.EvaluationRun, error)

	// ListCompletedRuns returns up to limit completed runs for the
	// character, most recent first.
	ListCompletedRuns(ctx context.Context, characterID string, limit int) ([]datatypes.EvaluationRun, error)
}

// VerdictStore persists per-critic verdicts. Append-only.
type VerdictStore interface {
	AppendVerdicts(ctx context.Context, verdicts []datatypes.CriticVerdict) error
	ListVerdicts(ctx context.Context, runID string) ([]datatypes.CriticVerdict, error)
}

// ResultStore persists aggregated results. Append-only, 1:1 with runs.
type ResultStore interface {
	PutResult(ctx context.Context, result *datatypes.EvaluationResult) error
	GetResult(ctx context.Context, runID string) (*datatypes.EvaluationResult, error)
}

// DriftStore persists baselines and drift events.
type DriftStore interface {
	// PutBaseline fully replaces the baseline for the
	// (character, critic) pair.
	PutBaseline(ctx context.Context, b *datatypes.DriftBaseline) error

	GetBaseline(ctx context.Context, characterID, criticID string) (*datatypes.DriftBaseline, error)
	ListBaselines(ctx context.Context, characterID string) ([]datatypes.DriftBaseline, error)

	AppendDriftEvent(ctx context.Context, e *datatypes.DriftEvent) error
	ListDriftEvents(ctx context.Context, characterID string, limit int) ([]datatypes.DriftEvent, error)

	// AckDriftEvent marks an event acknowledged.
	AckDriftEvent(ctx context.Context, eventID string) error
}

// ExperimentStore persists experiments and their trials.
type ExperimentStore interface {
	PutExperiment(ctx context.Context, e *datatypes.Experiment) error
	GetExperiment(ctx context.Context, experimentID string) (*datatypes.Experiment, error)

	// AppendTrial appends one trial observation. Appends are safely
	// concurrent across different trials of the same experiment.
	AppendTrial(ctx context.Context, t *datatypes.TrialRun) error
	ListTrials(ctx context.Context, experimentID string) ([]datatypes.TrialRun, error)
}
