// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/experiment"
)

func runExperimentReport(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.experiments.ComputeSignificance(context.Background(), args[0])
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func runExperimentClose(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.experiments.Close(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Println("Experiment closed.")
	printReport(report)
	return nil
}

func printReport(r *experiment.Report) {
	fmt.Printf("variant a: n=%d mean=%.4f stddev=%.4f pass_rate=%.2f\n",
		r.SampleSizeA, r.MeanA, r.StdDevA, r.PassRateA)
	fmt.Printf("variant b: n=%d mean=%.4f stddev=%.4f pass_rate=%.2f\n",
		r.SampleSizeB, r.MeanB, r.StdDevB, r.PassRateB)
	fmt.Printf("p=%.4f method=%s\n", r.PValue, r.Method)
	if r.Winner != "" {
		fmt.Printf("winner: %s\n", r.Winner)
	} else {
		fmt.Println("winner: inconclusive")
	}
}
