// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// Event names emitted over the notifier.
const (
	EventEvalCompleted = "eval_completed"
	EventEvalBlocked   = "eval_blocked"
	EventEvalEscalated = "eval_escalated"
)

// Event is the best-effort signal emitted after a run finalizes.
type Event struct {
	Name        string             `json:"name"`
	RunID       string             `json:"run_id"`
	CharacterID string             `json:"character_id"`
	Score       float64            `json:"score"`
	Decision    datatypes.Decision `json:"decision"`
}

// Notifier receives fire-and-forget pipeline events. Failures must
// never fail or roll back the evaluation; the pipeline swallows any
// error with a warning.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// ReviewQueue receives runs whose decision requires human review
// (quarantine and escalate). Outbound only; the pipeline does not wait
// for or depend on the result.
type ReviewQueue interface {
	Enqueue(ctx context.Context, runID string, reason string) error
}

// -----------------------------------------------------------------------------
// Logging implementations
// -----------------------------------------------------------------------------

// LogNotifier logs events instead of delivering them. The default when
// no external notifier is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("pipeline event",
		"event", event.Name,
		"run_id", event.RunID,
		"character_id", event.CharacterID,
		"score", event.Score,
		"decision", string(event.Decision),
	)
	return nil
}

// LogReviewQueue logs enqueues instead of delivering them.
type LogReviewQueue struct {
	Logger *slog.Logger
}

// Enqueue implements ReviewQueue.
func (q LogReviewQueue) Enqueue(_ context.Context, runID string, reason string) error {
	logger := q.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("review queue enqueue", "run_id", runID, "reason", reason)
	return nil
}
