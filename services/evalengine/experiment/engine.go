// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package experiment runs A/B comparisons of critic-weight
// configurations. Each trial executes the full evaluation pipeline
// twice against the same content, once per variant; significance is
// computed over the accumulated trials.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/pipeline"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// DefaultAlpha is the significance level for declaring a winner.
const DefaultAlpha = 0.05

var (
	// ErrExperimentClosed indicates a trial was attempted on a closed
	// experiment.
	ErrExperimentClosed = errors.New("experiment is closed")

	// ErrNoTrials indicates significance was requested with no
	// accumulated trials.
	ErrNoTrials = errors.New("experiment has no trials")
)

// Engine executes trials and computes experiment outcomes.
//
// Thread Safety: Safe for concurrent use. Trial appends are
// independent; Close must not race with itself for one experiment.
type Engine struct {
	experiments storage.ExperimentStore
	pipeline    *pipeline.Pipeline
	alpha       float64
	logger      *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithAlpha overrides the significance level.
func WithAlpha(alpha float64) Option {
	return func(e *Engine) {
		if alpha > 0 && alpha < 1 {
			e.alpha = alpha
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an experiment engine.
func NewEngine(experiments storage.ExperimentStore, pipe *pipeline.Pipeline, opts ...Option) (*Engine, error) {
	if experiments == nil {
		return nil, fmt.Errorf("experiment store must not be nil")
	}
	if pipe == nil {
		return nil, fmt.Errorf("pipeline must not be nil")
	}
	e := &Engine{
		experiments: experiments,
		pipeline:    pipe,
		alpha:       DefaultAlpha,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateExperiment registers a new running experiment.
func (e *Engine) CreateExperiment(ctx context.Context, exp *datatypes.Experiment) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	exp.VariantA.Name = datatypes.VariantA
	exp.VariantB.Name = datatypes.VariantB
	exp.Status = datatypes.ExperimentRunning
	exp.CreatedAt = time.Now()
	return e.experiments.PutExperiment(ctx, exp)
}

// -----------------------------------------------------------------------------
// Trials
// -----------------------------------------------------------------------------

// TrialOutcome is the paired result of one trial.
type TrialOutcome struct {
	TrialA datatypes.TrialRun
	TrialB datatypes.TrialRun
}

// RunTrial evaluates the same content once per variant.
//
// Description:
//
//	Executes the entire pipeline twice with each variant's
//	critic-weight overrides applied after resolution, producing two
//	independent EvaluationRuns and one TrialRun pair. The two runs
//	share content, character, and spec version; only the effective
//	weights differ.
//
// Outputs:
//   - *TrialOutcome: Both trial observations.
//   - error: ErrExperimentClosed, pipeline input errors, or store
//     failures. A failed variant evaluation fails the whole trial;
//     no partial pair is recorded.
func (e *Engine) RunTrial(ctx context.Context, experimentID string, req *datatypes.EvaluationRequest) (*TrialOutcome, error) {
	exp, err := e.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if exp.Status != datatypes.ExperimentRunning {
		return nil, ErrExperimentClosed
	}

	trialA, err := e.runVariant(ctx, exp, exp.VariantA, req)
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", exp.VariantA.Name, err)
	}
	trialB, err := e.runVariant(ctx, exp, exp.VariantB, req)
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", exp.VariantB.Name, err)
	}

	if err := e.experiments.AppendTrial(ctx, trialA); err != nil {
		return nil, fmt.Errorf("append trial: %w", err)
	}
	if err := e.experiments.AppendTrial(ctx, trialB); err != nil {
		return nil, fmt.Errorf("append trial: %w", err)
	}

	e.logger.Info("trial recorded",
		"experiment_id", exp.ID,
		"score_a", trialA.Score,
		"score_b", trialB.Score,
	)
	return &TrialOutcome{TrialA: *trialA, TrialB: *trialB}, nil
}

func (e *Engine) runVariant(ctx context.Context, exp *datatypes.Experiment, variant datatypes.Variant, req *datatypes.EvaluationRequest) (*datatypes.TrialRun, error) {
	run, _, err := e.pipeline.EvaluateVariant(ctx, req, variant.WeightOverrides)
	if err != nil {
		return nil, err
	}
	return &datatypes.TrialRun{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		Variant:      variant.Name,
		RunID:        run.ID,
		Score:        run.OverallScore,
		Decision:     run.Decision,
		AddedAt:      time.Now(),
	}, nil
}

// -----------------------------------------------------------------------------
// Significance
// -----------------------------------------------------------------------------

// Report summarizes an experiment's accumulated evidence.
type Report struct {
	ExperimentID string `json:"experiment_id"`

	SampleSizeA int     `json:"sample_size_a"`
	SampleSizeB int     `json:"sample_size_b"`
	MeanA       float64 `json:"mean_a"`
	MeanB       float64 `json:"mean_b"`
	StdDevA     float64 `json:"std_dev_a"`
	StdDevB     float64 `json:"std_dev_b"`
	PassRateA   float64 `json:"pass_rate_a"`
	PassRateB   float64 `json:"pass_rate_b"`

	PValue float64    `json:"p_value"`
	Method TestMethod `json:"method"`

	// Winner is the variant with the higher mean score when the
	// p-value clears the significance level, empty when inconclusive.
	Winner datatypes.VariantName `json:"winner,omitempty"`
}

// ComputeSignificance analyzes all accumulated trials.
//
// Description:
//
//	Scores are compared with Welch's t-test when both variants have
//	at least 2 samples; smaller or zero-variance sets fall back to a
//	two-proportion z-test on pass counts. The winner is the variant
//	with the higher mean score iff p < alpha, else inconclusive.
func (e *Engine) ComputeSignificance(ctx context.Context, experimentID string) (*Report, error) {
	trials, err := e.experiments.ListTrials(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	if len(trials) == 0 {
		return nil, ErrNoTrials
	}

	var scoresA, scoresB []float64
	var passA, passB int
	for i := range trials {
		t := &trials[i]
		switch t.Variant {
		case datatypes.VariantA:
			scoresA = append(scoresA, t.Score)
			if t.Passed() {
				passA++
			}
		case datatypes.VariantB:
			scoresB = append(scoresB, t.Score)
			if t.Passed() {
				passB++
			}
		}
	}

	report := &Report{
		ExperimentID: experimentID,
		SampleSizeA:  len(scoresA),
		SampleSizeB:  len(scoresB),
		MeanA:        mean(scoresA),
		MeanB:        mean(scoresB),
		StdDevA:      stdDev(scoresA),
		StdDevB:      stdDev(scoresB),
	}
	if len(scoresA) > 0 {
		report.PassRateA = float64(passA) / float64(len(scoresA))
	}
	if len(scoresB) > 0 {
		report.PassRateB = float64(passB) / float64(len(scoresB))
	}

	result, err := WelchTTest(scoresA, scoresB, e.alpha)
	if err != nil {
		result, err = TwoProportionZTest(passA, len(scoresA), passB, len(scoresB), e.alpha)
		if err != nil {
			return nil, err
		}
	}

	report.PValue = result.PValue
	report.Method = result.Method
	if result.Significant {
		if report.MeanA > report.MeanB {
			report.Winner = datatypes.VariantA
		} else if report.MeanB > report.MeanA {
			report.Winner = datatypes.VariantB
		}
	}

	return report, nil
}

// Close freezes the experiment's winner and p-value and marks it
// closed. Further trials are rejected.
func (e *Engine) Close(ctx context.Context, experimentID string) (*Report, error) {
	exp, err := e.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if exp.Status == datatypes.ExperimentClosed {
		return nil, ErrExperimentClosed
	}

	report, err := e.ComputeSignificance(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	exp.Status = datatypes.ExperimentClosed
	exp.Winner = report.Winner
	exp.PValue = report.PValue
	exp.ClosedAt = time.Now()
	if err := e.experiments.PutExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("close experiment: %w", err)
	}

	e.logger.Info("experiment closed",
		"experiment_id", exp.ID,
		"winner", string(exp.Winner),
		"p_value", exp.PValue,
	)
	return report, nil
}
