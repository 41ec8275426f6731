// Copyright (C) 2025 CanonSafe Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the service configuration from
// YAML. A missing file is created with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/s220284/canonsafe-v2-sub000/services/evalengine/policy"
)

// validate is the shared validator instance.
var validate = validator.New()

// Duration wraps time.Duration so YAML can carry human-readable values
// like "30s" or "2m". Bare integers are read as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Storage     StorageConfig             `yaml:"storage"`
	Judges      JudgesConfig              `yaml:"judges"`
	Dispatch    DispatchConfig            `yaml:"dispatch"`
	Drift       DriftConfig               `yaml:"drift"`
	Experiments ExperimentsConfig         `yaml:"experiments"`
	Profiles    map[string]policy.Profile `yaml:"profiles"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" validate:"required"`
}

// StorageConfig configures the BadgerDB store.
type StorageConfig struct {
	// Path is the database directory. Empty with InMemory=false is
	// rejected at open time.
	Path string `yaml:"path"`

	// InMemory runs without disk persistence. Testing only.
	InMemory bool `yaml:"in_memory"`

	SyncWrites bool `yaml:"sync_writes"`
}

// JudgeConfig configures one judge backend.
type JudgeConfig struct {
	// Provider selects the backend: "openai" or "anthropic".
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic"`

	// Model is the provider-specific model name.
	Model string `yaml:"model" validate:"required"`

	// RatePerSecond caps outbound calls. Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

// JudgesConfig maps capability references to judge backends.
type JudgesConfig struct {
	// Capabilities keys match Critic.CapabilityRef values.
	Capabilities map[string]JudgeConfig `yaml:"capabilities" validate:"dive"`
}

// DispatchConfig bounds the critic fan-out.
type DispatchConfig struct {
	MaxParallel  int      `yaml:"max_parallel" validate:"gte=0"`
	JudgeTimeout Duration `yaml:"judge_timeout"`
}

// DriftConfig configures the drift monitor.
type DriftConfig struct {
	Lookback  int     `yaml:"lookback" validate:"gte=0"`
	Window    int     `yaml:"window" validate:"gte=0"`
	Threshold float64 `yaml:"threshold" validate:"gte=0"`
}

// ExperimentsConfig configures the experiment engine.
type ExperimentsConfig struct {
	// Alpha is the significance level for declaring a winner.
	Alpha float64 `yaml:"alpha" validate:"gte=0,lte=1"`
}

// DefaultConfig returns a runnable default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{
			Path:       "data/canonsafe",
			SyncWrites: true,
		},
		Judges: JudgesConfig{
			Capabilities: map[string]JudgeConfig{
				"openai:gpt-4o-mini": {
					Provider:      "openai",
					Model:         "gpt-4o-mini",
					RatePerSecond: 5,
					Burst:         10,
				},
			},
		},
		Dispatch: DispatchConfig{
			MaxParallel:  8,
			JudgeTimeout: Duration(60 * time.Second),
		},
		Drift: DriftConfig{
			Lookback:  50,
			Window:    10,
			Threshold: 2.0,
		},
		Experiments: ExperimentsConfig{Alpha: 0.05},
		Profiles: map[string]policy.Profile{
			"default": policy.DefaultProfile(),
		},
	}
}

// Load reads and validates the configuration at path. A missing file
// is created with defaults first.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints, including every profile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for id, profile := range c.Profiles {
		if err := validate.Struct(profile); err != nil {
			return fmt.Errorf("invalid profile %q: %w", id, err)
		}
	}
	return nil
}

func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
