// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canonsafe.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Drift.Lookback != 50 || cfg.Drift.Window != 10 || cfg.Drift.Threshold != 2.0 {
		t.Errorf("drift defaults = %+v", cfg.Drift)
	}
	if cfg.Experiments.Alpha != 0.05 {
		t.Errorf("Alpha = %v", cfg.Experiments.Alpha)
	}
	if _, ok := cfg.Profiles["default"]; !ok {
		t.Error("default profile missing")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canonsafe.yaml")
	content := `
server:
  addr: ":9090"
storage:
  in_memory: true
dispatch:
  max_parallel: 4
  judge_timeout: 30s
judges:
  capabilities:
    "anthropic:claude-3-5-sonnet":
      provider: anthropic
      model: claude-3-5-sonnet-20240620
      rate_per_second: 2
      burst: 4
profiles:
  rapid:
    id: rapid
    sampling_rate: 0.5
    tiered_enabled: true
    rapid_critic_ids: [canon-check]
    rapid_threshold: 0.6
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Server.Addr)
	}
	if !cfg.Storage.InMemory {
		t.Error("InMemory override not applied")
	}
	if cfg.Dispatch.MaxParallel != 4 || cfg.Dispatch.JudgeTimeout.Std() != 30*time.Second {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	jc, ok := cfg.Judges.Capabilities["anthropic:claude-3-5-sonnet"]
	if !ok {
		t.Fatal("anthropic capability missing")
	}
	if jc.Provider != "anthropic" || jc.RatePerSecond != 2 {
		t.Errorf("judge config = %+v", jc)
	}
	rapid, ok := cfg.Profiles["rapid"]
	if !ok {
		t.Fatal("rapid profile missing")
	}
	if !rapid.Tiered() || rapid.SamplingRate != 0.5 {
		t.Errorf("rapid profile = %+v", rapid)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Drift.Lookback != 50 {
		t.Errorf("Lookback = %d, want default 50", cfg.Drift.Lookback)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown judge provider", `
judges:
  capabilities:
    "mystery:model":
      provider: mystery
      model: whatever
`},
		{"missing judge model", `
judges:
  capabilities:
    "openai:gpt-4o-mini":
      provider: openai
      model: ""
`},
		{"sampling rate out of range", `
profiles:
  bad:
    id: bad
    sampling_rate: 1.5
`},
		{"empty listen address", `
server:
  addr: ""
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "canonsafe.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load accepted an invalid configuration")
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canonsafe.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}
