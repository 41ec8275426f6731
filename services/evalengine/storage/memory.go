// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// Memory is an in-memory implementation of every store interface.
//
// Description:
//
//	Memory backs tests and short-lived processes. Data is lost when
//	the process exits. All methods copy on read so callers never
//	share slices or structs with the store.
//
// Thread Safety: Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	specs       map[string][]datatypes.CharacterSpecVersion // by character id
	critics     map[string]datatypes.Critic
	configs     map[string]datatypes.CriticConfiguration
	runs        map[string]datatypes.EvaluationRun
	runOrder    []string // insertion order of run ids
	verdicts    map[string][]datatypes.CriticVerdict // by run id
	results     map[string]datatypes.EvaluationResult
	baselines   map[string]datatypes.DriftBaseline // by character|critic
	driftEvents []datatypes.DriftEvent
	experiments map[string]datatypes.Experiment
	trials      map[string][]datatypes.TrialRun // by experiment id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		specs:       make(map[string][]datatypes.CharacterSpecVersion),
		critics:     make(map[string]datatypes.Critic),
		configs:     make(map[string]datatypes.CriticConfiguration),
		runs:        make(map[string]datatypes.EvaluationRun),
		verdicts:    make(map[string][]datatypes.CriticVerdict),
		results:     make(map[string]datatypes.EvaluationResult),
		baselines:   make(map[string]datatypes.DriftBaseline),
		experiments: make(map[string]datatypes.Experiment),
		trials:      make(map[string][]datatypes.TrialRun),
	}
}

func baselineKey(characterID, criticID string) string {
	return characterID + "|" + criticID
}

// -----------------------------------------------------------------------------
// SpecStore
// -----------------------------------------------------------------------------

// GetActiveVersion implements SpecStore.
func (m *Memory) GetActiveVersion(_ context.Context, characterID string) (*datatypes.CharacterSpecVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.specs[characterID]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range versions {
		if versions[i].Active {
			v := versions[i]
			return &v, nil
		}
	}
	return nil, ErrNoActiveVersion
}

// PutVersion implements SpecStore.
func (m *Memory) PutVersion(_ context.Context, v *datatypes.CharacterSpecVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.specs[v.CharacterID]
	if v.Active {
		for i := range versions {
			versions[i].Active = false
		}
	}
	m.specs[v.CharacterID] = append(versions, *v)
	return nil
}

// -----------------------------------------------------------------------------
// CriticStore
// -----------------------------------------------------------------------------

// ListCritics implements CriticStore.
func (m *Memory) ListCritics(_ context.Context, orgID string) ([]datatypes.Critic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.Critic
	for _, c := range m.critics {
		if c.OrgID == "" || c.OrgID == orgID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCritic implements CriticStore.
func (m *Memory) GetCritic(_ context.Context, criticID string) (*datatypes.Critic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.critics[criticID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListConfigurations implements CriticStore.
func (m *Memory) ListConfigurations(_ context.Context, orgID string) ([]datatypes.CriticConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.CriticConfiguration
	for _, cfg := range m.configs {
		if cfg.OrgID == orgID {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutCritic implements CriticStore.
func (m *Memory) PutCritic(_ context.Context, c *datatypes.Critic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critics[c.ID] = *c
	return nil
}

// PutConfiguration implements CriticStore.
func (m *Memory) PutConfiguration(_ context.Context, cfg *datatypes.CriticConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = *cfg
	return nil
}

// -----------------------------------------------------------------------------
// RunStore
// -----------------------------------------------------------------------------

// CreateRun implements RunStore.
func (m *Memory) CreateRun(_ context.Context, run *datatypes.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

// UpdateRun implements RunStore.
func (m *Memory) UpdateRun(_ context.Context, run *datatypes.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

// GetRun implements RunStore.
func (m *Memory) GetRun(_ context.Context, runID string) (*datatypes.EvaluationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

// ListCompletedRuns implements RunStore. Most recent first.
func (m *Memory) ListCompletedRuns(_ context.Context, characterID string, limit int) ([]datatypes.EvaluationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.EvaluationRun
	for i := len(m.runOrder) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		run := m.runs[m.runOrder[i]]
		if run.CharacterID == characterID && run.Status == datatypes.RunCompleted {
			out = append(out, run)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// VerdictStore
// -----------------------------------------------------------------------------

// AppendVerdicts implements VerdictStore.
func (m *Memory) AppendVerdicts(_ context.Context, verdicts []datatypes.CriticVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range verdicts {
		m.verdicts[v.RunID] = append(m.verdicts[v.RunID], v)
	}
	return nil
}

// ListVerdicts implements VerdictStore.
func (m *Memory) ListVerdicts(_ context.Context, runID string) ([]datatypes.CriticVerdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.verdicts[runID]
	out := make([]datatypes.CriticVerdict, len(src))
	copy(out, src)
	return out, nil
}

// -----------------------------------------------------------------------------
// ResultStore
// -----------------------------------------------------------------------------

// PutResult implements ResultStore.
func (m *Memory) PutResult(_ context.Context, result *datatypes.EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.RunID] = *result
	return nil
}

// GetResult implements ResultStore.
func (m *Memory) GetResult(_ context.Context, runID string) (*datatypes.EvaluationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// -----------------------------------------------------------------------------
// DriftStore
// -----------------------------------------------------------------------------

// PutBaseline implements DriftStore. Full replace.
func (m *Memory) PutBaseline(_ context.Context, b *datatypes.DriftBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[baselineKey(b.CharacterID, b.CriticID)] = *b
	return nil
}

// GetBaseline implements DriftStore.
func (m *Memory) GetBaseline(_ context.Context, characterID, criticID string) (*datatypes.DriftBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[baselineKey(characterID, criticID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// ListBaselines implements DriftStore.
func (m *Memory) ListBaselines(_ context.Context, characterID string) ([]datatypes.DriftBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.DriftBaseline
	for _, b := range m.baselines {
		if b.CharacterID == characterID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CriticID < out[j].CriticID })
	return out, nil
}

// AppendDriftEvent implements DriftStore.
func (m *Memory) AppendDriftEvent(_ context.Context, e *datatypes.DriftEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftEvents = append(m.driftEvents, *e)
	return nil
}

// ListDriftEvents implements DriftStore. Most recent first.
func (m *Memory) ListDriftEvents(_ context.Context, characterID string, limit int) ([]datatypes.DriftEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.DriftEvent
	for i := len(m.driftEvents) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.driftEvents[i].CharacterID == characterID {
			out = append(out, m.driftEvents[i])
		}
	}
	return out, nil
}

// AckDriftEvent implements DriftStore.
func (m *Memory) AckDriftEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.driftEvents {
		if m.driftEvents[i].ID == eventID {
			m.driftEvents[i].Acknowledged = true
			return nil
		}
	}
	return ErrNotFound
}

// -----------------------------------------------------------------------------
// ExperimentStore
// -----------------------------------------------------------------------------

// PutExperiment implements ExperimentStore.
func (m *Memory) PutExperiment(_ context.Context, e *datatypes.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[e.ID] = *e
	return nil
}

// GetExperiment implements ExperimentStore.
func (m *Memory) GetExperiment(_ context.Context, experimentID string) (*datatypes.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.experiments[experimentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// AppendTrial implements ExperimentStore.
func (m *Memory) AppendTrial(_ context.Context, t *datatypes.TrialRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials[t.ExperimentID] = append(m.trials[t.ExperimentID], *t)
	return nil
}

// ListTrials implements ExperimentStore.
func (m *Memory) ListTrials(_ context.Context, experimentID string) ([]datatypes.TrialRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.trials[experimentID]
	out := make([]datatypes.TrialRun, len(src))
	copy(out, src)
	return out, nil
}
