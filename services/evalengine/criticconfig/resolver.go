// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package criticconfig resolves the three-tier critic configuration
// (org → franchise → character) into one flat effective set per
// evaluation target, so the dispatcher never needs scope awareness.
package criticconfig

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// Resolver merges critic configurations by precedence.
//
// Description:
//
//	For each distinct critic id, a character-scoped configuration
//	always wins; otherwise a franchise-scoped one wins over the
//	org/global default. Resolution is idempotent and independent of
//	the order configurations are returned by the store.
//
// Thread Safety: Safe for concurrent use (stateless beyond the store).
type Resolver struct {
	critics storage.CriticStore
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given critic store.
func NewResolver(critics storage.CriticStore, logger *slog.Logger) (*Resolver, error) {
	if critics == nil {
		return nil, fmt.Errorf("critic store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{critics: critics, logger: logger}, nil
}

// Target identifies the evaluation target the merge is performed for.
type Target struct {
	OrgID       string
	CharacterID string
	FranchiseID string
	Modality    datatypes.Modality
}

// Resolve returns the effective critic set for the target, one entry
// per distinct critic id, with effective weight and enablement applied.
//
// Description:
//
//	Configurations that bind a different character or franchise than
//	the target are ignored. Disabled configurations remove their
//	critic from the set. When no configurations resolve at all, the
//	resolver falls back to every critic registered for the org whose
//	modality matches the request — fail-open, preserved from the
//	original system and logged at Warn.
//
// Outputs:
//   - []datatypes.ResolvedCritic: Effective set, stable order by
//     critic id as returned by the store.
//   - error: Non-nil on store failure only.
func (r *Resolver) Resolve(ctx context.Context, target Target) ([]datatypes.ResolvedCritic, error) {
	configs, err := r.critics.ListConfigurations(ctx, target.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}

	// Precedence merge into a flat map keyed by critic id.
	effective := make(map[string]datatypes.CriticConfiguration)
	for _, cfg := range configs {
		if !appliesTo(cfg, target) {
			continue
		}
		current, ok := effective[cfg.CriticID]
		if !ok || cfg.Scope() > current.Scope() {
			effective[cfg.CriticID] = cfg
		}
	}

	if len(effective) == 0 {
		return r.fallback(ctx, target)
	}

	allCritics, err := r.critics.ListCritics(ctx, target.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list critics: %w", err)
	}

	var resolved []datatypes.ResolvedCritic
	for _, critic := range allCritics {
		cfg, ok := effective[critic.ID]
		if !ok {
			continue
		}
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}
		weight := critic.DefaultWeight
		if cfg.WeightOverride != nil {
			weight = *cfg.WeightOverride
		}
		cfgCopy := cfg
		resolved = append(resolved, datatypes.ResolvedCritic{
			Critic: critic,
			Config: &cfgCopy,
			Weight: weight,
		})
	}
	return resolved, nil
}

// fallback returns every org critic whose modality matches the request.
// This widens the evaluated set rather than failing the request; see
// the design notes for why this stays fail-open.
func (r *Resolver) fallback(ctx context.Context, target Target) ([]datatypes.ResolvedCritic, error) {
	allCritics, err := r.critics.ListCritics(ctx, target.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list critics: %w", err)
	}

	var resolved []datatypes.ResolvedCritic
	for _, critic := range allCritics {
		if !critic.Modality.Matches(target.Modality) {
			continue
		}
		resolved = append(resolved, datatypes.ResolvedCritic{
			Critic: critic,
			Weight: critic.DefaultWeight,
		})
	}

	if len(resolved) > 0 {
		r.logger.Warn("no critic configurations resolved, falling back to all modality-matched critics",
			"org_id", target.OrgID,
			"character_id", target.CharacterID,
			"modality", string(target.Modality),
			"critic_count", len(resolved),
		)
	}
	return resolved, nil
}

// appliesTo reports whether the configuration's binding is compatible
// with the target. An org-scoped config applies everywhere in the org;
// narrower scopes must name the target exactly.
func appliesTo(cfg datatypes.CriticConfiguration, target Target) bool {
	if cfg.CharacterID != "" && cfg.CharacterID != target.CharacterID {
		return false
	}
	if cfg.FranchiseID != "" && cfg.FranchiseID != target.FranchiseID {
		return false
	}
	return true
}
