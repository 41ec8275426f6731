// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/experiment"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/pipeline"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// CreateExperiment registers a new A/B experiment.
func CreateExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var exp datatypes.Experiment
		if err := c.BindJSON(&exp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if exp.CharacterID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "character_id is required"})
			return
		}

		if err := engine.CreateExperiment(c.Request.Context(), &exp); err != nil {
			slog.Error("experiment create failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create experiment"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"experiment": exp})
	}
}

// RunTrial evaluates one content item under both variants.
func RunTrial(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("id")

		var req datatypes.EvaluationRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		outcome, err := engine.RunTrial(c.Request.Context(), experimentID, &req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, storage.ErrNotFound):
				status = http.StatusNotFound
			case errors.Is(err, experiment.ErrExperimentClosed),
				errors.Is(err, pipeline.ErrUnknownCharacter),
				errors.Is(err, pipeline.ErrNoActiveSpecVersion),
				errors.Is(err, pipeline.ErrEmptyContent):
				status = http.StatusBadRequest
			}
			if status == http.StatusInternalServerError {
				slog.Error("trial failed", "experiment_id", experimentID, "error", err)
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"trial_a": outcome.TrialA,
			"trial_b": outcome.TrialB,
		})
	}
}

// GetSignificance reports the experiment's current statistical state.
func GetSignificance(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("id")

		report, err := engine.ComputeSignificance(c.Request.Context(), experimentID)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
			case errors.Is(err, experiment.ErrNoTrials):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				slog.Error("significance computation failed", "experiment_id", experimentID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute significance"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": report})
	}
}

// CloseExperiment freezes the winner and p-value.
func CloseExperiment(engine *experiment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("id")

		report, err := engine.Close(c.Request.Context(), experimentID)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
			case errors.Is(err, experiment.ErrExperimentClosed),
				errors.Is(err, experiment.ErrNoTrials):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				slog.Error("experiment close failed", "experiment_id", experimentID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close experiment"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": report})
	}
}
