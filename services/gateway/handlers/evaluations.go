// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers for the evaluation
// gateway. Handlers are thin: they bind JSON, delegate to the engine,
// and map engine errors to status codes.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/pipeline"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateEvaluation runs the full pipeline for one content item.
func CreateEvaluation(pipe *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.EvaluationRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		run, result, err := pipe.Evaluate(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, pipeline.ErrUnknownCharacter):
				status = http.StatusNotFound
			case errors.Is(err, pipeline.ErrNoActiveSpecVersion),
				errors.Is(err, pipeline.ErrEmptyContent):
				status = http.StatusBadRequest
			}
			if status == http.StatusInternalServerError {
				slog.Error("evaluation failed", "character_id", req.CharacterID, "error", err)
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{"run": run}
		if result != nil {
			resp["result"] = result
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// GetEvaluation returns one run with its result and verdicts.
func GetEvaluation(runs storage.RunStore, results storage.ResultStore, verdicts storage.VerdictStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")

		run, err := runs.GetRun(c.Request.Context(), runID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			slog.Error("run lookup failed", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
			return
		}

		resp := gin.H{"run": run}

		// Sampled and consent-blocked runs have no result; absence is
		// not an error.
		if result, err := results.GetResult(c.Request.Context(), runID); err == nil {
			resp["result"] = result
		}
		if vs, err := verdicts.ListVerdicts(c.Request.Context(), runID); err == nil && len(vs) > 0 {
			resp["verdicts"] = vs
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ListEvaluations returns recent completed runs for a character.
func ListEvaluations(runs storage.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		characterID := c.Param("characterId")
		limit := intQuery(c, "limit", 20)

		out, err := runs.ListCompletedRuns(c.Request.Context(), characterID, limit)
		if err != nil {
			slog.Error("run list failed", "character_id", characterID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": out})
	}
}
