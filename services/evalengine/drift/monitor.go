// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package drift detects statistically significant deviation of recent
// per-critic scores from a historical baseline. It is a batch consumer
// of completed runs: it never races with an in-flight evaluation.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

const (
	// DefaultLookback is the number of most-recent completed runs a
	// baseline is computed over.
	DefaultLookback = 50

	// DefaultWindow is the number of most-recent completed runs a
	// drift check inspects.
	DefaultWindow = 10

	// DefaultThreshold is the alert threshold in stddev units.
	DefaultThreshold = 2.0

	// fallbackStdDev substitutes for a zero baseline stddev so a flat
	// history still yields a finite threshold and z-score.
	fallbackStdDev = 5.0
)

// Monitor computes baselines and checks recent windows against them.
//
// Description:
//
//	Baseline recomputation is a full replace, not a merge. Concurrent
//	recomputations for the same (character, critic) pair must be
//	serialized by the caller; the monitor assumes a single writer.
//
// Thread Safety: Safe for concurrent reads; baseline writes require
// caller serialization per character.
type Monitor struct {
	specs    storage.SpecStore
	runs     storage.RunStore
	verdicts storage.VerdictStore
	drift    storage.DriftStore

	lookback  int
	window    int
	threshold float64
	logger    *slog.Logger
}

// Option configures the monitor.
type Option func(*Monitor)

// WithLookback overrides the baseline lookback run count.
func WithLookback(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.lookback = n
		}
	}
}

// WithWindow overrides the drift-check window run count.
func WithWindow(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithThreshold overrides the default alert threshold for newly
// computed baselines.
func WithThreshold(t float64) Option {
	return func(m *Monitor) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a drift monitor.
func NewMonitor(specs storage.SpecStore, runs storage.RunStore, verdicts storage.VerdictStore, drift storage.DriftStore, opts ...Option) (*Monitor, error) {
	if specs == nil || runs == nil || verdicts == nil || drift == nil {
		return nil, fmt.Errorf("all stores must be non-nil")
	}
	m := &Monitor{
		specs:     specs,
		runs:      runs,
		verdicts:  verdicts,
		drift:     drift,
		lookback:  DefaultLookback,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Baseline Computation
// -----------------------------------------------------------------------------

// ComputeBaselines recomputes one baseline per critic observed in the
// character's recent history.
//
// Description:
//
//	Groups per-critic scores across the lookback runs, computes mean
//	and sample standard deviation (zero when fewer than 2 points),
//	and fully replaces the stored baseline for each (character,
//	critic) pair, pinned to the character's current active spec
//	version. An existing baseline's alert threshold survives the
//	replace; new pairs get the default.
//
// Outputs:
//   - []datatypes.DriftBaseline: The baselines written, one per critic.
//   - error: Store failures only. A character with no completed runs
//     yields an empty slice, not an error.
func (m *Monitor) ComputeBaselines(ctx context.Context, characterID string) ([]datatypes.DriftBaseline, error) {
	spec, err := m.specs.GetActiveVersion(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("load spec version: %w", err)
	}

	scores, _, err := m.collectScores(ctx, characterID, m.lookback)
	if err != nil {
		return nil, err
	}

	baselines := make([]datatypes.DriftBaseline, 0, len(scores))
	for criticID, s := range scores {
		threshold := m.threshold
		if prev, err := m.drift.GetBaseline(ctx, characterID, criticID); err == nil && prev.Threshold > 0 {
			threshold = prev.Threshold
		}

		b := datatypes.DriftBaseline{
			CharacterID:   characterID,
			CriticID:      criticID,
			SpecVersionID: spec.ID,
			Mean:          mean(s),
			StdDev:        sampleStdDev(s),
			SampleCount:   len(s),
			Threshold:     threshold,
			ComputedAt:    time.Now(),
		}
		if err := m.drift.PutBaseline(ctx, &b); err != nil {
			return nil, fmt.Errorf("put baseline for critic %s: %w", criticID, err)
		}
		baselines = append(baselines, b)
	}

	m.logger.Info("drift baselines recomputed",
		"character_id", characterID,
		"critic_count", len(baselines),
		"lookback", m.lookback,
	)
	return baselines, nil
}

// -----------------------------------------------------------------------------
// Drift Checking
// -----------------------------------------------------------------------------

// CheckDrift compares the recent window against each stored baseline
// and records one DriftEvent per critic whose window mean deviates
// beyond the baseline's threshold.
//
// Description:
//
//	deviation = |mean(window scores) − baseline.mean|. The threshold
//	value is baseline.threshold · baseline.stddev, with a fallback
//	constant when the baseline stddev is zero. The z-score uses the
//	same denominator: z ≥ 4 is critical, ≥ 3 high, ≥ 2 medium, else
//	low. Critics without a baseline or without window scores are
//	skipped.
func (m *Monitor) CheckDrift(ctx context.Context, characterID string) ([]datatypes.DriftEvent, error) {
	baselines, err := m.drift.ListBaselines(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	if len(baselines) == 0 {
		return nil, nil
	}

	scores, triggerRunID, err := m.collectScores(ctx, characterID, m.window)
	if err != nil {
		return nil, err
	}

	var events []datatypes.DriftEvent
	for _, b := range baselines {
		window, ok := scores[b.CriticID]
		if !ok || len(window) == 0 {
			continue
		}

		windowMean := mean(window)
		deviation := math.Abs(windowMean - b.Mean)

		denom := b.StdDev
		if denom == 0 {
			denom = fallbackStdDev
		}
		if deviation <= b.Threshold*denom {
			continue
		}

		z := deviation / denom
		event := datatypes.DriftEvent{
			ID:           uuid.NewString(),
			CharacterID:  characterID,
			CriticID:     b.CriticID,
			DetectedMean: windowMean,
			BaselineMean: b.Mean,
			Deviation:    deviation,
			ZScore:       z,
			Severity:     ClassifySeverity(z),
			TriggerRunID: triggerRunID,
			DetectedAt:   time.Now(),
		}
		if err := m.drift.AppendDriftEvent(ctx, &event); err != nil {
			return nil, fmt.Errorf("append drift event for critic %s: %w", b.CriticID, err)
		}
		m.logger.Warn("drift detected",
			"character_id", characterID,
			"critic_id", b.CriticID,
			"z_score", z,
			"severity", string(event.Severity),
		)
		events = append(events, event)
	}

	return events, nil
}

// Acknowledge marks a drift event as acknowledged.
func (m *Monitor) Acknowledge(ctx context.Context, eventID string) error {
	return m.drift.AckDriftEvent(ctx, eventID)
}

// ClassifySeverity maps a z-score to its severity band. Monotonic in z.
//
// With the default threshold of 2.0 stddev units, no event with z < 2
// can be emitted, so SeverityLow is unreachable in the default
// configuration; the band exists for operator-lowered thresholds.
func ClassifySeverity(z float64) datatypes.DriftSeverity {
	switch {
	case z >= 4:
		return datatypes.SeverityCritical
	case z >= 3:
		return datatypes.SeverityHigh
	case z >= 2:
		return datatypes.SeverityMedium
	default:
		return datatypes.SeverityLow
	}
}

// -----------------------------------------------------------------------------
// Score Collection
// -----------------------------------------------------------------------------

// collectScores groups per-critic verdict scores across the most
// recent completed runs. Sampled and consent-blocked runs carry no
// verdicts and contribute nothing. Also returns the most recent run id
// as the trigger link.
func (m *Monitor) collectScores(ctx context.Context, characterID string, limit int) (map[string][]float64, string, error) {
	runs, err := m.runs.ListCompletedRuns(ctx, characterID, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list completed runs: %w", err)
	}

	scores := make(map[string][]float64)
	var triggerRunID string
	for i, run := range runs {
		if i == 0 {
			triggerRunID = run.ID
		}
		verdicts, err := m.verdicts.ListVerdicts(ctx, run.ID)
		if err != nil {
			return nil, "", fmt.Errorf("list verdicts for run %s: %w", run.ID, err)
		}
		for _, v := range verdicts {
			scores[v.CriticID] = append(scores[v.CriticID], v.Score)
		}
	}
	return scores, triggerRunID, nil
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// sampleStdDev computes the sample (n−1) standard deviation. Zero when
// fewer than 2 points exist.
func sampleStdDev(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	m := mean(s)
	var sumSq float64
	for _, v := range s {
		diff := v - m
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(s)-1))
}
