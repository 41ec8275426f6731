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

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/drift"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// ComputeBaselines recomputes drift baselines for a character.
func ComputeBaselines(monitor *drift.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		characterID := c.Param("characterId")

		baselines, err := monitor.ComputeBaselines(c.Request.Context(), characterID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNoActiveVersion) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("baseline computation failed", "character_id", characterID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute baselines"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"baselines": baselines})
	}
}

// CheckDrift runs a drift check for a character.
func CheckDrift(monitor *drift.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		characterID := c.Param("characterId")

		events, err := monitor.CheckDrift(c.Request.Context(), characterID)
		if err != nil {
			slog.Error("drift check failed", "character_id", characterID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check drift"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"drift_detected": len(events) > 0,
			"events":         events,
		})
	}
}

// ListDriftEvents returns recent drift events for a character.
func ListDriftEvents(store storage.DriftStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		characterID := c.Param("characterId")
		limit := intQuery(c, "limit", 20)

		events, err := store.ListDriftEvents(c.Request.Context(), characterID, limit)
		if err != nil {
			slog.Error("drift event list failed", "character_id", characterID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list drift events"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// AckDriftEvent acknowledges one drift event.
func AckDriftEvent(monitor *drift.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := c.Param("eventId")

		if err := monitor.Acknowledge(c.Request.Context(), eventID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "drift event not found"})
				return
			}
			slog.Error("drift event ack failed", "event_id", eventID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge event"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"acknowledged": true})
	}
}
