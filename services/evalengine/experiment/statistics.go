// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiment

import (
	"errors"
	"math"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInsufficientSamples indicates not enough samples for analysis.
	ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")

	// ErrZeroVariance indicates a sample set has zero variance.
	ErrZeroVariance = errors.New("sample set has zero variance")
)

// -----------------------------------------------------------------------------
// Two-Sample Tests
// -----------------------------------------------------------------------------

// TestMethod names the significance test that produced a result.
type TestMethod string

const (
	// MethodWelch is Welch's two-sample t-test on raw scores.
	MethodWelch TestMethod = "welch_t"

	// MethodTwoProportion is the two-proportion z-test on pass counts,
	// the fallback when score samples are too small or degenerate.
	MethodTwoProportion TestMethod = "two_proportion_z"
)

// TestResult holds the outcome of a two-sample significance test.
type TestResult struct {
	// Statistic is the computed test statistic (t or z).
	Statistic float64

	// PValue is the two-tailed p-value.
	PValue float64

	// Method identifies which test ran.
	Method TestMethod

	// Significant is true if PValue < Alpha.
	Significant bool

	// Alpha is the significance level used (e.g., 0.05).
	Alpha float64
}

// WelchTTest performs Welch's t-test for two score sample sets.
//
// Description:
//
//	Welch's t-test does not assume equal population variances, making
//	it more robust than Student's t-test when the two variants spread
//	differently. The p-value uses a normal-CDF approximation of the
//	t-distribution.
//
// Inputs:
//   - a: First variant's scores. Must have at least 2 samples.
//   - b: Second variant's scores. Must have at least 2 samples.
//   - alpha: Significance level (e.g., 0.05 for 95% confidence).
//
// Outputs:
//   - *TestResult: Test statistic, p-value, and significance.
//   - error: ErrInsufficientSamples or ErrZeroVariance.
//
// Thread Safety: Stateless, safe for concurrent use.
func WelchTTest(a, b []float64, alpha float64) (*TestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return nil, ErrInsufficientSamples
	}

	meanA := mean(a)
	meanB := mean(b)

	varA := variance(a, meanA)
	varB := variance(b, meanB)

	nA := float64(len(a))
	nB := float64(len(b))

	se := math.Sqrt(varA/nA + varB/nB)
	if se == 0 {
		return nil, ErrZeroVariance
	}

	tStat := (meanA - meanB) / se

	// Welch-Satterthwaite degrees of freedom.
	num := math.Pow(varA/nA+varB/nB, 2)
	denom := math.Pow(varA/nA, 2)/(nA-1) + math.Pow(varB/nB, 2)/(nB-1)
	if denom == 0 {
		return nil, ErrZeroVariance
	}
	df := num / denom

	pValue := tDistributionPValue(math.Abs(tStat), df)

	return &TestResult{
		Statistic:   tStat,
		PValue:      pValue,
		Method:      MethodWelch,
		Significant: pValue < alpha,
		Alpha:       alpha,
	}, nil
}

// TwoProportionZTest compares pass rates between two variants.
//
// Description:
//
//	Pooled two-proportion z-test on pass/fail counts. Used as the
//	fallback when either variant has fewer than 2 score samples or
//	both score sets are degenerate (zero variance).
//
// Inputs:
//   - passA, nA: Pass count and trial count for variant A. nA > 0.
//   - passB, nB: Pass count and trial count for variant B. nB > 0.
//   - alpha: Significance level.
func TwoProportionZTest(passA, nA, passB, nB int, alpha float64) (*TestResult, error) {
	if nA == 0 || nB == 0 {
		return nil, ErrInsufficientSamples
	}

	pA := float64(passA) / float64(nA)
	pB := float64(passB) / float64(nB)
	pooled := float64(passA+passB) / float64(nA+nB)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		// Identical degenerate proportions: no evidence of difference.
		return &TestResult{
			Statistic:   0,
			PValue:      1,
			Method:      MethodTwoProportion,
			Significant: false,
			Alpha:       alpha,
		}, nil
	}

	z := (pA - pB) / se
	pValue := 2 * (1 - normalCDF(math.Abs(z)))
	pValue = clamp01(pValue)

	return &TestResult{
		Statistic:   z,
		PValue:      pValue,
		Method:      MethodTwoProportion,
		Significant: pValue < alpha,
		Alpha:       alpha,
	}, nil
}

// -----------------------------------------------------------------------------
// Helper Functions
// -----------------------------------------------------------------------------

// mean calculates the arithmetic mean.
func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// variance calculates population variance.
func variance(samples []float64, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		diff := s - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(samples))
}

// stdDev calculates population standard deviation.
func stdDev(samples []float64) float64 {
	return math.Sqrt(variance(samples, mean(samples)))
}

// normalCDF approximates the standard normal CDF.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt(2)))
}

// tDistributionPValue approximates a two-tailed p-value for the
// t-distribution.
func tDistributionPValue(t, df float64) float64 {
	if df <= 0 {
		return 1
	}

	// For large df, use normal approximation
	if df >= 30 {
		return clamp01(2 * (1 - normalCDF(t)))
	}

	// For smaller df, adjust the t-statistic to widen the tails. The
	// adjustment needs df > 2 to stay real; tiny df is floored.
	if df < 2.1 {
		df = 2.1
	}
	adjustedT := t * math.Sqrt(df/(df-2+0.001))
	return clamp01(2 * (1 - normalCDF(adjustedT)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
