// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates one evaluation run end to end:
// consent gate → critic resolution and prompt assembly → concurrent
// dispatch → aggregation → terminal decision, with durable persistence
// and best-effort downstream signals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/aggregate"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/consent"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/criticconfig"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/dispatch"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/policy"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Input errors fail the whole request synchronously, before any run is
// created or critic work begins.
var (
	// ErrUnknownCharacter indicates the character does not exist.
	ErrUnknownCharacter = errors.New("unknown character")

	// ErrNoActiveSpecVersion indicates the character has no active
	// spec version to evaluate against.
	ErrNoActiveSpecVersion = errors.New("character has no active spec version")

	// ErrEmptyContent indicates the request carried no content.
	ErrEmptyContent = errors.New("content must not be empty")
)

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

// Stores groups the persistence collaborators the pipeline writes to.
type Stores struct {
	Specs    storage.SpecStore
	Runs     storage.RunStore
	Verdicts storage.VerdictStore
	Results  storage.ResultStore
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithReviewQueue sets the outbound review queue.
func WithReviewQueue(q ReviewQueue) Option {
	return func(p *Pipeline) {
		if q != nil {
			p.review = q
		}
	}
}

// WithNotifier sets the outbound event notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithProfiles registers evaluation profiles by id.
func WithProfiles(profiles map[string]policy.Profile) Option {
	return func(p *Pipeline) {
		for id, prof := range profiles {
			p.profiles[id] = prof
		}
	}
}

// WithSampler replaces the sampling source. Tests use a fixed seed.
func WithSampler(s *policy.Sampler) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sampler = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline executes evaluation runs.
//
// Description:
//
//	One Pipeline serves many concurrent runs. Each run's verdicts are
//	local to that run until the single aggregation step, so there is
//	no shared-memory mutation across runs; the stores provide the
//	only cross-run visibility, and only for completed, immutable
//	records.
//
// Thread Safety: Safe for concurrent use.
type Pipeline struct {
	stores     Stores
	gate       *consent.Gate
	resolver   *criticconfig.Resolver
	dispatcher *dispatch.Dispatcher
	sampler    *policy.Sampler
	profiles   map[string]policy.Profile
	review     ReviewQueue
	notifier   Notifier
	logger     *slog.Logger
}

// New creates a pipeline.
//
// Inputs:
//   - stores: All four store fields must be non-nil.
//   - gate: The consent gate. Must not be nil.
//   - resolver: The critic config resolver. Must not be nil.
//   - dispatcher: The critic dispatcher. Must not be nil.
//   - opts: Optional configuration.
func New(stores Stores, gate *consent.Gate, resolver *criticconfig.Resolver, dispatcher *dispatch.Dispatcher, opts ...Option) (*Pipeline, error) {
	if stores.Specs == nil || stores.Runs == nil || stores.Verdicts == nil || stores.Results == nil {
		return nil, fmt.Errorf("all stores must be non-nil")
	}
	if gate == nil || resolver == nil || dispatcher == nil {
		return nil, fmt.Errorf("gate, resolver, and dispatcher must be non-nil")
	}

	p := &Pipeline{
		stores:     stores,
		gate:       gate,
		resolver:   resolver,
		dispatcher: dispatcher,
		sampler:    policy.NewSampler(time.Now().UnixNano()),
		profiles:   map[string]policy.Profile{"default": policy.DefaultProfile()},
		review:     LogReviewQueue{},
		notifier:   LogNotifier{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Evaluate runs the full pipeline for one request.
//
// Outputs:
//   - *datatypes.EvaluationRun: The completed run. Never nil on
//     success.
//   - *datatypes.EvaluationResult: The aggregate. Nil for consent
//     blocks and sampled passes, which produce no result by contract.
//   - error: Input errors (ErrUnknownCharacter, ErrNoActiveSpecVersion,
//     ErrEmptyContent) or store failures. Judge failures never surface
//     here; they degrade inside the dispatcher.
func (p *Pipeline) Evaluate(ctx context.Context, req *datatypes.EvaluationRequest) (*datatypes.EvaluationRun, *datatypes.EvaluationResult, error) {
	return p.evaluate(ctx, req, nil)
}

// EvaluateVariant runs the pipeline with per-critic weight overrides
// applied after resolution. The experiment engine uses this to score
// the same content under two variant configurations.
func (p *Pipeline) EvaluateVariant(ctx context.Context, req *datatypes.EvaluationRequest, weightOverrides map[string]float64) (*datatypes.EvaluationRun, *datatypes.EvaluationResult, error) {
	return p.evaluate(ctx, req, weightOverrides)
}

func (p *Pipeline) evaluate(ctx context.Context, req *datatypes.EvaluationRequest, weightOverrides map[string]float64) (*datatypes.EvaluationRun, *datatypes.EvaluationResult, error) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.Evaluate",
		trace.WithAttributes(
			attribute.String("character_id", req.CharacterID),
			attribute.String("modality", string(req.Modality)),
		),
	)
	defer span.End()

	// Input validation: fail synchronously before any critic work.
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, ErrEmptyContent
	}
	spec, err := p.stores.Specs.GetActiveVersion(ctx, req.CharacterID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, req.CharacterID)
		case errors.Is(err, storage.ErrNoActiveVersion):
			return nil, nil, fmt.Errorf("%w: %s", ErrNoActiveSpecVersion, req.CharacterID)
		default:
			return nil, nil, fmt.Errorf("load spec version: %w", err)
		}
	}

	profile := p.profileFor(req.ProfileID)

	run := &datatypes.EvaluationRun{
		ID:            uuid.NewString(),
		OrgID:         req.OrgID,
		CharacterID:   req.CharacterID,
		SpecVersionID: spec.ID,
		Modality:      req.Modality,
		Status:        datatypes.RunPending,
		Tier:          datatypes.TierFull,
		CreatedAt:     time.Now(),
	}
	if err := p.stores.Runs.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	// Consent gate: the only unconditional bypass of scoring.
	ok, reasons := p.gate.Check(ctx, req.CharacterID, req.Modality, req.Territory)
	if !ok {
		consentBlocksTotal.Inc()
		run.Status = datatypes.RunCompleted
		run.Decision = datatypes.DecisionBlock
		run.OverallScore = 0.0
		run.ConsentVerified = false
		run.CompletedAt = time.Now()
		if err := p.stores.Runs.UpdateRun(ctx, run); err != nil {
			return nil, nil, fmt.Errorf("finalize blocked run: %w", err)
		}
		p.logger.Info("run blocked by consent gate", "run_id", run.ID, "reasons", reasons)
		p.emit(ctx, EventEvalBlocked, run)
		return run, nil, nil
	}
	run.ConsentVerified = true

	// Sampling draw: probabilistic full bypass, no critics run, no
	// result written.
	if !p.sampler.ShouldEvaluate(profile.SamplingRate) {
		sampledRunsTotal.Inc()
		run.Status = datatypes.RunCompleted
		run.Sampled = true
		run.Decision = datatypes.DecisionPass
		run.CompletedAt = time.Now()
		if err := p.stores.Runs.UpdateRun(ctx, run); err != nil {
			return nil, nil, fmt.Errorf("finalize sampled run: %w", err)
		}
		p.logger.Info("run sampled out, passing without evaluation", "run_id", run.ID, "sampling_rate", profile.SamplingRate)
		p.emit(ctx, EventEvalCompleted, run)
		return run, nil, nil
	}

	run.Status = datatypes.RunRunning
	if err := p.stores.Runs.UpdateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("mark run running: %w", err)
	}

	resolved, err := p.resolver.Resolve(ctx, criticconfig.Target{
		OrgID:       req.OrgID,
		CharacterID: req.CharacterID,
		FranchiseID: req.FranchiseID,
		Modality:    req.Modality,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resolve critics: %w", err)
	}
	resolved = applyWeightOverrides(resolved, weightOverrides)

	// Rapid tier: screen with the designated subset first. A failing
	// screen finalizes from the subset's verdicts alone; a passing
	// screen discards them and dispatches the complete set.
	verdicts, weights := p.dispatchTier(ctx, run, spec, req.Content, resolved, profile)

	agg := aggregate.Compute(verdicts, weights)
	decision := policy.Decide(agg.OverallScore)

	result := &datatypes.EvaluationResult{
		RunID:           run.ID,
		WeightedScore:   agg.OverallScore,
		Agreement:       agg.Agreement,
		Flags:           agg.Flags,
		Recommendations: recommendations(decision, agg),
		CreatedAt:       time.Now(),
	}

	if err := p.stores.Verdicts.AppendVerdicts(ctx, verdicts); err != nil {
		return nil, nil, fmt.Errorf("append verdicts: %w", err)
	}
	if err := p.stores.Results.PutResult(ctx, result); err != nil {
		return nil, nil, fmt.Errorf("put result: %w", err)
	}

	run.Status = datatypes.RunCompleted
	run.OverallScore = agg.OverallScore
	run.Decision = decision
	run.CompletedAt = time.Now()
	if err := p.stores.Runs.UpdateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("finalize run: %w", err)
	}

	p.observeVerdicts(verdicts)
	runsTotal.WithLabelValues(string(decision)).Inc()

	// Downstream effects are side channels: caught and swallowed so
	// they can never roll back the primary result write.
	if policy.NeedsReview(decision) {
		if err := p.review.Enqueue(ctx, run.ID, "decision="+string(decision)); err != nil {
			p.logger.Warn("review queue enqueue failed", "run_id", run.ID, "error", err.Error())
		}
	}
	switch decision {
	case datatypes.DecisionBlock:
		p.emit(ctx, EventEvalBlocked, run)
	case datatypes.DecisionEscalate:
		p.emit(ctx, EventEvalEscalated, run)
	default:
		p.emit(ctx, EventEvalCompleted, run)
	}

	return run, result, nil
}

// dispatchTier runs the rapid screen when the profile enables it, then
// the full set when the screen passes. Returns the verdicts and paired
// weights of the finalizing tier only, preserving the one-verdict-per-
// critic invariant.
func (p *Pipeline) dispatchTier(ctx context.Context, run *datatypes.EvaluationRun, spec *datatypes.CharacterSpecVersion, content string, resolved []datatypes.ResolvedCritic, profile policy.Profile) ([]datatypes.CriticVerdict, []float64) {
	if profile.Tiered() {
		subset := profile.RapidSubset(resolved)
		if len(subset) > 0 && len(subset) < len(resolved) {
			items := dispatch.BuildWorkItems(subset, spec, content)
			rapidVerdicts := p.dispatcher.Dispatch(ctx, run.ID, items)
			rapidAgg := aggregate.Compute(rapidVerdicts, weightsOf(subset))
			if !profile.PassesRapidScreen(rapidAgg.OverallScore) {
				run.Tier = datatypes.TierRapid
				return rapidVerdicts, weightsOf(subset)
			}
		}
	}

	run.Tier = datatypes.TierFull
	items := dispatch.BuildWorkItems(resolved, spec, content)
	return p.dispatcher.Dispatch(ctx, run.ID, items), weightsOf(resolved)
}

func weightsOf(critics []datatypes.ResolvedCritic) []float64 {
	weights := make([]float64, len(critics))
	for i, rc := range critics {
		weights[i] = rc.Weight
	}
	return weights
}

func applyWeightOverrides(resolved []datatypes.ResolvedCritic, overrides map[string]float64) []datatypes.ResolvedCritic {
	if len(overrides) == 0 {
		return resolved
	}
	out := make([]datatypes.ResolvedCritic, len(resolved))
	copy(out, resolved)
	for i := range out {
		if w, ok := overrides[out[i].Critic.ID]; ok {
			out[i].Weight = w
		}
	}
	return out
}

// recommendations derives operator guidance from the terminal decision
// and aggregation flags.
func recommendations(decision datatypes.Decision, agg aggregate.Aggregate) []string {
	var recs []string
	switch decision {
	case datatypes.DecisionRegenerate:
		recs = append(recs, "regenerate content with tightened guidance")
	case datatypes.DecisionQuarantine:
		recs = append(recs, "hold content pending human review")
	case datatypes.DecisionEscalate:
		recs = append(recs, "escalate to brand safety team")
	case datatypes.DecisionBlock:
		recs = append(recs, "do not publish")
	}
	for _, f := range agg.Flags {
		if f == aggregate.FlagCriticDisagreement {
			recs = append(recs, "critic scores diverge, consider additional review")
		}
	}
	return recs
}

func (p *Pipeline) profileFor(id string) policy.Profile {
	if id == "" {
		id = "default"
	}
	if prof, ok := p.profiles[id]; ok {
		return prof
	}
	p.logger.Warn("unknown evaluation profile, using default", "profile_id", id)
	return policy.DefaultProfile()
}

func (p *Pipeline) observeVerdicts(verdicts []datatypes.CriticVerdict) {
	for _, v := range verdicts {
		verdictLatency.Observe(v.Latency.Seconds())
		for _, f := range v.Flags {
			if f == dispatch.FlagCriticError {
				degradedVerdictsTotal.Inc()
			}
		}
	}
}

// emit delivers a best-effort event; failures are swallowed.
func (p *Pipeline) emit(ctx context.Context, name string, run *datatypes.EvaluationRun) {
	event := Event{
		Name:        name,
		RunID:       run.ID,
		CharacterID: run.CharacterID,
		Score:       run.OverallScore,
		Decision:    run.Decision,
	}
	if err := p.notifier.Notify(ctx, event); err != nil {
		p.logger.Warn("event notification failed", "event", name, "run_id", run.ID, "error", err.Error())
	}
}
