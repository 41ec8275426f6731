// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canonsafe_evaluation_runs_total",
		Help: "Completed evaluation runs by terminal decision.",
	}, []string{"decision"})

	sampledRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canonsafe_sampled_runs_total",
		Help: "Runs finalized by the sampling bypass without critic work.",
	})

	consentBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canonsafe_consent_blocks_total",
		Help: "Runs blocked by the consent gate.",
	})

	verdictLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canonsafe_judge_latency_seconds",
		Help:    "Latency distribution of individual judge calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	degradedVerdictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canonsafe_degraded_verdicts_total",
		Help: "Judge failures degraded to zero-confidence verdicts.",
	})
)
