// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the gateway's HTTP surface to the evaluation
// engine components.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/drift"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/experiment"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/pipeline"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage"
	"github.com/s220284/canonsafe-v2-sub000/services/gateway/handlers"
)

// Deps groups the engine components the routes delegate to.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Monitor    *drift.Monitor
	Experiment *experiment.Engine

	Specs    storage.SpecStore
	Critics  storage.CriticStore
	Runs     storage.RunStore
	Results  storage.ResultStore
	Verdicts storage.VerdictStore
	Drift    storage.DriftStore
}

// SetupRoutes registers every gateway route on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/evaluations", handlers.CreateEvaluation(deps.Pipeline))
		v1.GET("/evaluations/:id", handlers.GetEvaluation(deps.Runs, deps.Results, deps.Verdicts))

		characters := v1.Group("/characters")
		{
			characters.GET("/:characterId/evaluations", handlers.ListEvaluations(deps.Runs))
			characters.PUT("/:characterId/spec", handlers.PutSpecVersion(deps.Specs))
		}

		critics := v1.Group("/critics")
		{
			critics.POST("", handlers.PutCritic(deps.Critics))
			critics.POST("/configurations", handlers.PutConfiguration(deps.Critics))
		}

		driftGroup := v1.Group("/drift")
		{
			driftGroup.POST("/:characterId/baselines", handlers.ComputeBaselines(deps.Monitor))
			driftGroup.POST("/:characterId/check", handlers.CheckDrift(deps.Monitor))
			driftGroup.GET("/:characterId/events", handlers.ListDriftEvents(deps.Drift))
			driftGroup.POST("/:characterId/events/:eventId/ack", handlers.AckDriftEvent(deps.Monitor))
		}

		experiments := v1.Group("/experiments")
		{
			experiments.POST("", handlers.CreateExperiment(deps.Experiment))
			experiments.POST("/:id/trials", handlers.RunTrial(deps.Experiment))
			experiments.GET("/:id/significance", handlers.GetSignificance(deps.Experiment))
			experiments.POST("/:id/close", handlers.CloseExperiment(deps.Experiment))
		}
	}
}
