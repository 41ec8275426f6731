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
	"testing"
)

func TestWelchTTest_ClearSeparation(t *testing.T) {
	a := []float64{0.9, 0.92, 0.88}
	b := []float64{0.7, 0.72, 0.68}

	result, err := WelchTTest(a, b, 0.05)
	if err != nil {
		t.Fatalf("WelchTTest: %v", err)
	}
	if result.Method != MethodWelch {
		t.Errorf("Method = %s, want %s", result.Method, MethodWelch)
	}
	if result.Statistic <= 0 {
		t.Errorf("Statistic = %v, want positive when mean(a) > mean(b)", result.Statistic)
	}
	if result.PValue >= 0.05 {
		t.Errorf("PValue = %v, want < 0.05 for a clear separation", result.PValue)
	}
	if !result.Significant {
		t.Error("Significant = false for a clear separation")
	}
}

func TestWelchTTest_IdenticalDistributions(t *testing.T) {
	a := []float64{0.5, 0.6, 0.7}
	b := []float64{0.5, 0.6, 0.7}

	result, err := WelchTTest(a, b, 0.05)
	if err != nil {
		t.Fatalf("WelchTTest: %v", err)
	}
	if result.Statistic != 0 {
		t.Errorf("Statistic = %v, want 0", result.Statistic)
	}
	if result.Significant {
		t.Errorf("Significant = true with p = %v for identical samples", result.PValue)
	}
}

func TestWelchTTest_InsufficientSamples(t *testing.T) {
	if _, err := WelchTTest([]float64{0.9}, []float64{0.7, 0.8}, 0.05); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("err = %v, want ErrInsufficientSamples", err)
	}
	if _, err := WelchTTest(nil, nil, 0.05); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("err = %v, want ErrInsufficientSamples", err)
	}
}

func TestWelchTTest_ZeroVariance(t *testing.T) {
	a := []float64{0.8, 0.8, 0.8}
	b := []float64{0.6, 0.6}
	if _, err := WelchTTest(a, b, 0.05); !errors.Is(err, ErrZeroVariance) {
		t.Errorf("err = %v, want ErrZeroVariance when both sets are flat", err)
	}
}

func TestWelchTTest_SmallSamplePValueIsFinite(t *testing.T) {
	// n=2 per side drives the Welch-Satterthwaite df below 2; the
	// p-value must stay a real number in [0, 1].
	result, err := WelchTTest([]float64{0.9, 0.91}, []float64{0.5, 0.52}, 0.05)
	if err != nil {
		t.Fatalf("WelchTTest: %v", err)
	}
	if math.IsNaN(result.PValue) || result.PValue < 0 || result.PValue > 1 {
		t.Errorf("PValue = %v, want a value in [0, 1]", result.PValue)
	}
}

func TestTwoProportionZTest(t *testing.T) {
	t.Run("clear separation", func(t *testing.T) {
		result, err := TwoProportionZTest(3, 3, 0, 3, 0.05)
		if err != nil {
			t.Fatalf("TwoProportionZTest: %v", err)
		}
		if result.Method != MethodTwoProportion {
			t.Errorf("Method = %s", result.Method)
		}
		if !result.Significant {
			t.Errorf("Significant = false with p = %v for 3/3 vs 0/3", result.PValue)
		}
	})

	t.Run("equal proportions", func(t *testing.T) {
		result, err := TwoProportionZTest(5, 10, 5, 10, 0.05)
		if err != nil {
			t.Fatalf("TwoProportionZTest: %v", err)
		}
		if result.Significant {
			t.Errorf("Significant = true with p = %v for equal pass rates", result.PValue)
		}
	})

	t.Run("degenerate identical proportions", func(t *testing.T) {
		// Everyone passes on both sides: pooled variance is zero, which
		// is no evidence of a difference, not an error.
		result, err := TwoProportionZTest(4, 4, 4, 4, 0.05)
		if err != nil {
			t.Fatalf("TwoProportionZTest: %v", err)
		}
		if result.PValue != 1 || result.Significant {
			t.Errorf("result = %+v, want p=1 and not significant", result)
		}
	})

	t.Run("empty side", func(t *testing.T) {
		if _, err := TwoProportionZTest(0, 0, 3, 3, 0.05); !errors.Is(err, ErrInsufficientSamples) {
			t.Errorf("err = %v, want ErrInsufficientSamples", err)
		}
	})
}
