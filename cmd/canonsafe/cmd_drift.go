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
)

func runDriftBaseline(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	characterID := args[0]
	baselines, err := a.monitor.ComputeBaselines(context.Background(), characterID)
	if err != nil {
		return err
	}

	if len(baselines) == 0 {
		fmt.Printf("No completed runs for character %s; nothing to baseline.\n", characterID)
		return nil
	}
	for _, b := range baselines {
		fmt.Printf("critic=%s mean=%.4f stddev=%.4f samples=%d threshold=%.1f\n",
			b.CriticID, b.Mean, b.StdDev, b.SampleCount, b.Threshold)
	}
	return nil
}

func runDriftCheck(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	characterID := args[0]
	events, err := a.monitor.CheckDrift(context.Background(), characterID)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Printf("No drift detected for character %s.\n", characterID)
		return nil
	}
	for _, e := range events {
		fmt.Printf("critic=%s severity=%s z=%.2f detected_mean=%.4f baseline_mean=%.4f\n",
			e.CriticID, e.Severity, e.ZScore, e.DetectedMean, e.BaselineMean)
	}
	return nil
}
