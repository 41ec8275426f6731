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
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/s220284/canonsafe-v2-sub000/pkg/logging"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/config"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/consent"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/criticconfig"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/datatypes"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/dispatch"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/drift"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/experiment"
	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/pipeline"
	badgerstore "github.com/s220284/canonsafe-v2-sub000/services/evalengine/storage/badger"
	"github.com/s220284/canonsafe-v2-sub000/services/judge"
)

// app holds the fully wired engine shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	db *badgerdb.DB
	gc *badgerstore.GCRunner

	store       *badgerstore.Store
	pipeline    *pipeline.Pipeline
	monitor     *drift.Monitor
	experiments *experiment.Engine
}

// buildApp loads config and constructs the engine. Call Close when
// done.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "canonsafe",
	})
	slogger := logger.Slog()

	db, err := badgerstore.Open(badgerstore.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     slogger,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}

	store, err := badgerstore.NewStore(db)
	if err != nil {
		db.Close()
		logger.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, store: store}

	dcfg := badgerstore.DefaultConfig()
	if !cfg.Storage.InMemory && dcfg.GCInterval > 0 {
		if gc, err := badgerstore.NewGCRunner(db, dcfg.GCInterval, dcfg.GCDiscardRatio, slogger); err == nil {
			gc.Start()
			a.gc = gc
		}
	}

	provider, err := buildJudgeProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	dispatcher, err := dispatch.New(provider, dispatch.Config{
		MaxParallel:  cfg.Dispatch.MaxParallel,
		JudgeTimeout: cfg.Dispatch.JudgeTimeout.Std(),
		Logger:       slogger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver, err := criticconfig.NewResolver(store, slogger)
	if err != nil {
		a.Close()
		return nil, err
	}

	gate, err := consent.NewGate(consentSource(), slogger)
	if err != nil {
		a.Close()
		return nil, err
	}

	pipe, err := pipeline.New(
		pipeline.Stores{
			Specs:    store,
			Runs:     store,
			Verdicts: store,
			Results:  store,
		},
		gate,
		resolver,
		dispatcher,
		pipeline.WithProfiles(cfg.Profiles),
		pipeline.WithLogger(slogger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipe

	monitor, err := drift.NewMonitor(store, store, store, store,
		drift.WithLookback(cfg.Drift.Lookback),
		drift.WithWindow(cfg.Drift.Window),
		drift.WithThreshold(cfg.Drift.Threshold),
		drift.WithLogger(slogger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.monitor = monitor

	engine, err := experiment.NewEngine(store, pipe,
		experiment.WithAlpha(cfg.Experiments.Alpha),
		experiment.WithLogger(slogger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.experiments = engine

	return a, nil
}

// Close releases everything buildApp acquired, in reverse order.
func (a *app) Close() {
	if a.gc != nil {
		a.gc.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// buildJudgeProvider maps configured capability refs to judge
// backends, applying rate limits where configured.
func buildJudgeProvider(cfg *config.Config) (dispatch.JudgeProvider, error) {
	provider := dispatch.MapProvider{}
	for ref, jc := range cfg.Judges.Capabilities {
		var j judge.Judge
		var err error
		switch jc.Provider {
		case "openai":
			if os.Getenv("OPENAI_MODEL") == "" && jc.Model != "" {
				os.Setenv("OPENAI_MODEL", jc.Model)
			}
			j, err = judge.NewOpenAIJudge()
		case "anthropic":
			if os.Getenv("CLAUDE_MODEL") == "" && jc.Model != "" {
				os.Setenv("CLAUDE_MODEL", jc.Model)
			}
			j, err = judge.NewAnthropicJudge()
		default:
			err = fmt.Errorf("unknown judge provider %q", jc.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", ref, err)
		}
		if jc.RatePerSecond > 0 {
			burst := jc.Burst
			if burst <= 0 {
				burst = 1
			}
			j = judge.NewRateLimitedJudge(j, jc.RatePerSecond, burst)
		}
		provider[ref] = j
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no judge capabilities configured")
	}
	return provider, nil
}

// consentSource returns the consent collaborator. Without an external
// consent service wired, every check passes; the gate still records
// consent_verified on each run.
func consentSource() consent.Source {
	return consent.SourceFunc(func(_ context.Context, _ string, _ datatypes.Modality, _ string) (bool, []string, error) {
		return true, nil, nil
	})
}
