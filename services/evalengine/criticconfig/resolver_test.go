// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package criticconfig

import (
	"context"
	"testing"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func seedStore(t *testing.T, configs ...datatypes.CriticConfiguration) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()

	critics := []datatypes.Critic{
		{ID: "canon-check", OrgID: "org-1", DefaultWeight: 1.0, Modality: datatypes.ModalityText},
		{ID: "tone-check", OrgID: "org-1", DefaultWeight: 0.8, Modality: datatypes.ModalityText},
		{ID: "visual-check", OrgID: "org-1", DefaultWeight: 1.0, Modality: datatypes.ModalityImage},
		{ID: "global-safety", OrgID: "", DefaultWeight: 1.5, Modality: datatypes.ModalityMulti},
	}
	for i := range critics {
		if err := mem.PutCritic(ctx, &critics[i]); err != nil {
			t.Fatalf("PutCritic: %v", err)
		}
	}
	for i := range configs {
		if err := mem.PutConfiguration(ctx, &configs[i]); err != nil {
			t.Fatalf("PutConfiguration: %v", err)
		}
	}
	return mem
}

func defaultTarget() Target {
	return Target{
		OrgID:       "org-1",
		CharacterID: "char-1",
		FranchiseID: "fr-1",
		Modality:    datatypes.ModalityText,
	}
}

func resolve(t *testing.T, mem *storage.Memory, target Target) []datatypes.ResolvedCritic {
	t.Helper()
	r, err := NewResolver(mem, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	resolved, err := r.Resolve(context.Background(), target)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return resolved
}

func weightOf(t *testing.T, resolved []datatypes.ResolvedCritic, criticID string) float64 {
	t.Helper()
	for _, rc := range resolved {
		if rc.Critic.ID == criticID {
			return rc.Weight
		}
	}
	t.Fatalf("critic %s not in resolved set", criticID)
	return 0
}

func TestResolve_CharacterScopeDominates(t *testing.T) {
	// All three scopes configure the same critic; character must win
	// regardless of the order the store returns them.
	orgCfg := datatypes.CriticConfiguration{
		ID: "cfg-org", CriticID: "canon-check", OrgID: "org-1",
		WeightOverride: floatPtr(0.1),
	}
	franchiseCfg := datatypes.CriticConfiguration{
		ID: "cfg-fr", CriticID: "canon-check", OrgID: "org-1",
		FranchiseID:    "fr-1",
		WeightOverride: floatPtr(0.5),
	}
	characterCfg := datatypes.CriticConfiguration{
		ID: "cfg-char", CriticID: "canon-check", OrgID: "org-1",
		CharacterID:    "char-1",
		WeightOverride: floatPtr(2.0),
	}

	permutations := [][]datatypes.CriticConfiguration{
		{orgCfg, franchiseCfg, characterCfg},
		{characterCfg, orgCfg, franchiseCfg},
		{franchiseCfg, characterCfg, orgCfg},
	}
	for _, perm := range permutations {
		mem := seedStore(t, perm...)
		resolved := resolve(t, mem, defaultTarget())
		if got := weightOf(t, resolved, "canon-check"); got != 2.0 {
			t.Errorf("weight = %v, want character override 2.0", got)
		}
	}
}

func TestResolve_FranchiseBeatsOrg(t *testing.T) {
	mem := seedStore(t,
		datatypes.CriticConfiguration{
			ID: "cfg-org", CriticID: "tone-check", OrgID: "org-1",
			WeightOverride: floatPtr(0.1),
		},
		datatypes.CriticConfiguration{
			ID: "cfg-fr", CriticID: "tone-check", OrgID: "org-1",
			FranchiseID:    "fr-1",
			WeightOverride: floatPtr(0.9),
		},
	)
	resolved := resolve(t, mem, defaultTarget())
	if got := weightOf(t, resolved, "tone-check"); got != 0.9 {
		t.Errorf("weight = %v, want franchise override 0.9", got)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	mem := seedStore(t,
		datatypes.CriticConfiguration{ID: "cfg-1", CriticID: "canon-check", OrgID: "org-1"},
		datatypes.CriticConfiguration{ID: "cfg-2", CriticID: "tone-check", OrgID: "org-1",
			WeightOverride: floatPtr(0.3)},
	)
	first := resolve(t, mem, defaultTarget())
	second := resolve(t, mem, defaultTarget())

	if len(first) != len(second) {
		t.Fatalf("resolution not idempotent: %d vs %d critics", len(first), len(second))
	}
	for i := range first {
		if first[i].Critic.ID != second[i].Critic.ID || first[i].Weight != second[i].Weight {
			t.Errorf("entry %d differs between resolutions", i)
		}
	}
}

func TestResolve_DisabledRemovesCritic(t *testing.T) {
	mem := seedStore(t,
		datatypes.CriticConfiguration{ID: "cfg-1", CriticID: "canon-check", OrgID: "org-1"},
		datatypes.CriticConfiguration{ID: "cfg-2", CriticID: "tone-check", OrgID: "org-1",
			Enabled: boolPtr(false)},
	)
	resolved := resolve(t, mem, defaultTarget())

	for _, rc := range resolved {
		if rc.Critic.ID == "tone-check" {
			t.Error("disabled critic present in resolved set")
		}
	}
	if len(resolved) != 1 {
		t.Errorf("resolved %d critics, want 1", len(resolved))
	}
}

func TestResolve_OtherCharacterConfigIgnored(t *testing.T) {
	mem := seedStore(t,
		datatypes.CriticConfiguration{ID: "cfg-other", CriticID: "canon-check", OrgID: "org-1",
			CharacterID:    "char-other",
			WeightOverride: floatPtr(9.9)},
		datatypes.CriticConfiguration{ID: "cfg-org", CriticID: "canon-check", OrgID: "org-1"},
	)
	resolved := resolve(t, mem, defaultTarget())
	if got := weightOf(t, resolved, "canon-check"); got != 1.0 {
		t.Errorf("weight = %v, want default 1.0 (other character's override must not apply)", got)
	}
}

func TestResolve_FailOpenFallback(t *testing.T) {
	// No configurations at all: fall back to every org critic whose
	// modality matches the request.
	mem := seedStore(t)
	resolved := resolve(t, mem, defaultTarget())

	ids := make(map[string]bool)
	for _, rc := range resolved {
		ids[rc.Critic.ID] = true
		if rc.Config != nil {
			t.Errorf("fallback entry %s carries a config", rc.Critic.ID)
		}
	}
	if !ids["canon-check"] || !ids["tone-check"] {
		t.Errorf("fallback missing text critics: %v", ids)
	}
	if !ids["global-safety"] {
		t.Errorf("fallback must include multi-modality critics: %v", ids)
	}
	if ids["visual-check"] {
		t.Errorf("fallback included modality-mismatched critic: %v", ids)
	}
}
