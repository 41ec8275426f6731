// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
)

// PutSpecVersion stores a character spec version. An active version
// supersedes the prior active one.
func PutSpecVersion(specs storage.SpecStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var v datatypes.CharacterSpecVersion
		if err := c.BindJSON(&v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		v.CharacterID = c.Param("characterId")
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now()
		}

		if err := specs.PutVersion(c.Request.Context(), &v); err != nil {
			slog.Error("spec version write failed", "character_id", v.CharacterID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store spec version"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"version": v})
	}
}

// PutCritic registers or updates a critic.
func PutCritic(critics storage.CriticStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var critic datatypes.Critic
		if err := c.BindJSON(&critic); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if critic.ID == "" {
			critic.ID = uuid.NewString()
		}
		if critic.DefaultWeight < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "default_weight must be >= 0"})
			return
		}

		if err := critics.PutCritic(c.Request.Context(), &critic); err != nil {
			slog.Error("critic write failed", "critic_id", critic.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store critic"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"critic": critic})
	}
}

// PutConfiguration registers or updates a critic configuration.
func PutConfiguration(critics storage.CriticStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg datatypes.CriticConfiguration
		if err := c.BindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		if cfg.CriticID == "" || cfg.OrgID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "critic_id and org_id are required"})
			return
		}

		if err := critics.PutConfiguration(c.Request.Context(), &cfg); err != nil {
			slog.Error("configuration write failed", "config_id", cfg.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store configuration"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"configuration": cfg})
	}
}

// intQuery parses a query parameter as int, with a default.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
