// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "canonsafe",
		Short: "Multi-critic content evaluation engine",
		Long: `CanonSafe evaluates AI-generated content against versioned
character specifications using an ensemble of scoring critics,
with drift detection and A/B experimentation over the score history.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation gateway",
		RunE:  runServe,
	}

	driftCmd = &cobra.Command{
		Use:   "drift",
		Short: "Manage drift baselines and checks",
	}
	driftBaselineCmd = &cobra.Command{
		Use:   "baseline [character-id]",
		Short: "Recompute drift baselines from recent completed runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runDriftBaseline,
	}
	driftCheckCmd = &cobra.Command{
		Use:   "check [character-id]",
		Short: "Check the recent run window against stored baselines",
		Args:  cobra.ExactArgs(1),
		RunE:  runDriftCheck,
	}

	experimentCmd = &cobra.Command{
		Use:   "experiment",
		Short: "Inspect and close A/B experiments",
	}
	experimentReportCmd = &cobra.Command{
		Use:   "report [experiment-id]",
		Short: "Print the experiment's current significance report",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentReport,
	}
	experimentCloseCmd = &cobra.Command{
		Use:   "close [experiment-id]",
		Short: "Freeze the experiment's winner and p-value",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentClose,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "canonsafe.yaml", "Path to the service config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")

	driftCmd.AddCommand(driftBaselineCmd, driftCheckCmd)
	experimentCmd.AddCommand(experimentReportCmd, experimentCloseCmd)
	rootCmd.AddCommand(serveCmd, driftCmd, experimentCmd)
}
