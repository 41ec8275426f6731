// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consent implements the hard pre-check that runs before any
// critic work. A failed check is the only unconditional bypass of
// scoring: the pipeline terminates immediately with a block decision.
package consent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// Source answers whether content may be generated for a character in a
// given modality and territory. It is an external collaborator; the
// gate performs the read and nothing else.
type Source interface {
	// CheckConsent returns ok=false with human-readable reasons when
	// publication is not permitted. Territory may be empty.
	CheckConsent(ctx context.Context, characterID string, modality datatypes.Modality, territory string) (ok bool, reasons []string, err error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, characterID string, modality datatypes.Modality, territory string) (bool, []string, error)

// CheckConsent implements Source.
func (f SourceFunc) CheckConsent(ctx context.Context, characterID string, modality datatypes.Modality, territory string) (bool, []string, error) {
	return f(ctx, characterID, modality, territory)
}

// Gate wraps a Source with logging.
//
// Thread Safety: Safe for concurrent use when the Source is.
type Gate struct {
	source Source
	logger *slog.Logger
}

// NewGate creates a consent gate. A nil logger falls back to
// slog.Default().
func NewGate(source Source, logger *slog.Logger) (*Gate, error) {
	if source == nil {
		return nil, fmt.Errorf("consent source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{source: source, logger: logger}, nil
}

// Check performs the consent pre-check.
//
// Description:
//
//	Returns ok=false and the source's reasons when the pipeline must
//	terminate with decision=block. A source error is treated as a
//	denial: consent that cannot be verified is not consent.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - characterID: The evaluation target.
//   - modality: Content modality of the request.
//   - territory: Optional distribution territory. May be empty.
//
// Outputs:
//   - bool: True when the pipeline may proceed to scoring.
//   - []string: Denial reasons, empty on success.
func (g *Gate) Check(ctx context.Context, characterID string, modality datatypes.Modality, territory string) (bool, []string) {
	ok, reasons, err := g.source.CheckConsent(ctx, characterID, modality, territory)
	if err != nil {
		g.logger.Warn("consent source error, treating as denial",
			"character_id", characterID,
			"modality", string(modality),
			"error", err.Error(),
		)
		return false, []string{"consent check failed: " + err.Error()}
	}
	if !ok {
		g.logger.Info("consent denied",
			"character_id", characterID,
			"modality", string(modality),
			"territory", territory,
			"reasons", reasons,
		)
	}
	return ok, reasons
}
