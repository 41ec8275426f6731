// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregate collapses a run's critic verdicts into one
// weighted score with an inter-critic agreement coefficient and the
// union of all flags.
package aggregate

import (
	"math"
	"sort"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
)

// FlagCriticDisagreement marks an aggregate whose raw score spread
// exceeds the disagreement threshold.
const FlagCriticDisagreement = "critic_disagreement"

const (
	// maxStdDev is the maximum possible population stddev for scores
	// in [0,1]; it normalizes the agreement coefficient.
	maxStdDev = 0.5

	// disagreementStdDev is the spread above which the aggregate is
	// flagged.
	disagreementStdDev = 0.3
)

// Aggregate is the collapsed outcome of one verdict batch.
type Aggregate struct {
	// OverallScore is the weight-normalized mean of verdict scores.
	// Zero when the total weight is zero.
	OverallScore float64

	// Agreement is 1 − min(stddev/0.5, 1) rounded to 4 decimals, or
	// zero when fewer than 2 verdicts exist.
	Agreement float64

	// Flags is the union of all verdict flags plus any synthetic
	// aggregation flags, sorted and de-duplicated.
	Flags []string
}

// Compute aggregates verdicts with their paired weights.
//
// Description:
//
//	overall = Σ(score_i · weight_i) / Σ(weight_i). Weights and
//	verdicts are positionally paired; len(weights) must equal
//	len(verdicts). With all weights ≥ 0 and not all zero, the result
//	lies within [min(score), max(score)].
//
// Inputs:
//   - verdicts: The run's verdicts. May be empty.
//   - weights: Effective critic weights, same length as verdicts.
//
// Outputs:
//   - Aggregate: The collapsed outcome. Never nil-valued fields.
//
// Thread Safety: Stateless, safe for concurrent use.
func Compute(verdicts []datatypes.CriticVerdict, weights []float64) Aggregate {
	agg := Aggregate{Flags: unionFlags(verdicts)}

	var weightedSum, totalWeight float64
	for i, v := range verdicts {
		weightedSum += v.Score * weights[i]
		totalWeight += weights[i]
	}
	if totalWeight > 0 {
		agg.OverallScore = weightedSum / totalWeight
	}

	if len(verdicts) >= 2 {
		stddev := populationStdDev(verdicts)
		agg.Agreement = round4(1 - math.Min(stddev/maxStdDev, 1))
		if stddev > disagreementStdDev {
			agg.Flags = appendUnique(agg.Flags, FlagCriticDisagreement)
		}
	}

	return agg
}

// populationStdDev computes the population standard deviation of the
// raw verdict scores.
func populationStdDev(verdicts []datatypes.CriticVerdict) float64 {
	n := float64(len(verdicts))
	var sum float64
	for _, v := range verdicts {
		sum += v.Score
	}
	mean := sum / n

	var sumSq float64
	for _, v := range verdicts {
		diff := v.Score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / n)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func unionFlags(verdicts []datatypes.CriticVerdict) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range verdicts {
		for _, f := range v.Flags {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func appendUnique(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	flags = append(flags, flag)
	sort.Strings(flags)
	return flags
}
