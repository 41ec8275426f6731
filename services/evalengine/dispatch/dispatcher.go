// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dispatch fans a batch of critic judge calls out concurrently
// and joins all of them before returning. A judge failure never
// reduces the output set: failed calls degrade to zero-confidence
// verdicts at the join point, and one failure never cancels siblings.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/prompt"
	"github.com/s220284/canonsafe-v2-sub000/services/judge"
)

// FlagCriticError marks a verdict produced by degrading a judge
// failure rather than by an actual score.
const FlagCriticError = "critic_error"

var (
	// ErrNilJudge indicates no judge backend was provided.
	ErrNilJudge = errors.New("judge must not be nil")

	// ErrUnknownCapability indicates a critic references a capability
	// the dispatcher has no judge for.
	ErrUnknownCapability = errors.New("unknown judge capability")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the dispatcher.
type Config struct {
	// MaxParallel bounds concurrent judge calls per batch.
	// Default: 8
	MaxParallel int

	// JudgeTimeout is the per-call deadline applied to each judge
	// invocation. A timeout is treated identically to any other judge
	// failure. Default: 60s
	JudgeTimeout time.Duration

	// Logger for degraded-verdict reporting.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:  8,
		JudgeTimeout: 60 * time.Second,
		Logger:       slog.Default(),
	}
}

// -----------------------------------------------------------------------------
// Dispatcher
// -----------------------------------------------------------------------------

// JudgeProvider maps a critic's capability reference to a judge
// backend. The dispatcher is oblivious to which concrete provider it
// receives.
type JudgeProvider interface {
	JudgeFor(capabilityRef string) (judge.Judge, error)
}

// StaticProvider serves one judge for every capability reference.
type StaticProvider struct {
	Judge judge.Judge
}

// JudgeFor implements JudgeProvider.
func (p StaticProvider) JudgeFor(string) (judge.Judge, error) {
	if p.Judge == nil {
		return nil, ErrNilJudge
	}
	return p.Judge, nil
}

// MapProvider routes capability references to named judges.
type MapProvider map[string]judge.Judge

// JudgeFor implements JudgeProvider.
func (p MapProvider) JudgeFor(capabilityRef string) (judge.Judge, error) {
	j, ok := p[capabilityRef]
	if !ok || j == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, capabilityRef)
	}
	return j, nil
}

// Dispatcher executes a batch of critic scorings concurrently.
//
// Description:
//
//	Dispatch launches one goroutine per critic (bounded by
//	MaxParallel), waits for all to return or fail, and emits exactly
//	one CriticVerdict per input in the same order. Partial results
//	are never returned: the fan-in joins every call before the batch
//	completes, so cancelled runs drain in-flight judge calls rather
//	than abandoning them mid-write.
//
// Thread Safety: Safe for concurrent use across batches.
type Dispatcher struct {
	provider JudgeProvider
	config   Config
}

// New creates a dispatcher.
//
// Inputs:
//   - provider: Maps capability refs to judges. Must not be nil.
//   - config: Zero fields fall back to DefaultConfig values.
func New(provider JudgeProvider, config Config) (*Dispatcher, error) {
	if provider == nil {
		return nil, ErrNilJudge
	}
	def := DefaultConfig()
	if config.MaxParallel <= 0 {
		config.MaxParallel = def.MaxParallel
	}
	if config.JudgeTimeout <= 0 {
		config.JudgeTimeout = def.JudgeTimeout
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	return &Dispatcher{provider: provider, config: config}, nil
}

// WorkItem is one (critic, assembled prompt) pair ready for scoring.
type WorkItem struct {
	Critic datatypes.ResolvedCritic

	// SystemPrompt carries the critic's assembled instructions;
	// UserPrompt carries the content under evaluation.
	SystemPrompt string
	UserPrompt   string
}

// BuildWorkItems assembles prompts for each resolved critic.
func BuildWorkItems(critics []datatypes.ResolvedCritic, spec *datatypes.CharacterSpecVersion, content string) []WorkItem {
	items := make([]WorkItem, len(critics))
	for i, rc := range critics {
		items[i] = WorkItem{
			Critic:       rc,
			SystemPrompt: prompt.Assemble(rc.Critic.Template, spec, content, rc.ExtraInstructions()),
			UserPrompt:   content,
		}
	}
	return items
}

// Dispatch scores every work item and returns one verdict per item,
// same order, same count.
//
// Failure policy: any individual judge error — timeout, malformed
// response, transport failure, unknown capability — yields a degraded
// verdict (score 0, confidence 0, flags=["critic_error"], reasoning set
// to the error text). No retries; sibling calls are never aborted.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, items []WorkItem) []datatypes.CriticVerdict {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("critic_count", len(items)),
		),
	)
	defer span.End()

	verdicts := make([]datatypes.CriticVerdict, len(items))
	sem := semaphore.NewWeighted(int64(d.config.MaxParallel))
	done := make(chan int, len(items))

	for i := range items {
		// Acquire before spawning so the batch never holds more than
		// MaxParallel judge calls in flight. Acquire only fails when
		// ctx is cancelled; the degraded-verdict path covers that too.
		if err := sem.Acquire(ctx, 1); err != nil {
			verdicts[i] = d.degradedVerdict(runID, items[i], err, 0)
			done <- i
			continue
		}
		go func(idx int) {
			defer sem.Release(1)
			verdicts[idx] = d.scoreOne(ctx, runID, items[idx])
			done <- idx
		}(i)
	}

	// Fan-in: every slot reports exactly once.
	for range items {
		<-done
	}

	return verdicts
}

// scoreOne executes a single judge call with the per-call timeout.
func (d *Dispatcher) scoreOne(ctx context.Context, runID string, item WorkItem) datatypes.CriticVerdict {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.Dispatcher.scoreOne",
		trace.WithAttributes(
			attribute.String("critic_id", item.Critic.Critic.ID),
			attribute.String("capability_ref", item.Critic.Critic.CapabilityRef),
		),
	)
	defer span.End()

	start := time.Now()

	j, err := d.provider.JudgeFor(item.Critic.Critic.CapabilityRef)
	if err != nil {
		return d.degradedVerdict(runID, item, err, time.Since(start))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.JudgeTimeout)
	defer cancel()

	score, err := j.Score(callCtx, item.SystemPrompt, item.UserPrompt)
	latency := time.Since(start)
	if err != nil {
		return d.degradedVerdict(runID, item, err, latency)
	}

	return datatypes.CriticVerdict{
		ID:         uuid.NewString(),
		RunID:      runID,
		CriticID:   item.Critic.Critic.ID,
		Score:      score.Score,
		Confidence: score.Confidence,
		Reasoning:  score.Reasoning,
		Flags:      score.Flags,
		Latency:    latency,
		TokenUsage: score.TokenUsage,
		CreatedAt:  time.Now(),
	}
}

// degradedVerdict maps a judge failure to the zero-confidence verdict
// the aggregation step expects.
func (d *Dispatcher) degradedVerdict(runID string, item WorkItem, cause error, latency time.Duration) datatypes.CriticVerdict {
	d.config.Logger.Warn("judge call degraded to zero-confidence verdict",
		"run_id", runID,
		"critic_id", item.Critic.Critic.ID,
		"error", cause.Error(),
	)
	return datatypes.CriticVerdict{
		ID:         uuid.NewString(),
		RunID:      runID,
		CriticID:   item.Critic.Critic.ID,
		Score:      0.0,
		Confidence: 0.0,
		Reasoning:  cause.Error(),
		Flags:      []string{FlagCriticError},
		Latency:    latency,
		CreatedAt:  time.Now(),
	}
}
