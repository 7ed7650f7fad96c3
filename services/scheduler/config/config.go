// Copyright (C) 2026 Meridian Clear Systems (platform@meridianclear.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides configuration loading for the scheduler service.
//
// Configuration is YAML on disk, validated on load. A size guard rejects
// files over MaxYAMLFileSize before parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MaxYAMLFileSize is the maximum allowed YAML file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// DefaultWorkers is the worker pool size when unconfigured.
	DefaultWorkers = 4

	// DefaultPollInterval is the ready-poll cadence when unconfigured.
	DefaultPollInterval = 100 * time.Millisecond
)

// Config is the root scheduler configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Runner  RunnerConfig  `yaml:"runner"`
}

// StorageConfig configures the embedded graph store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Required unless InMemory is true.
	Path string `yaml:"path"`

	// InMemory runs the store without disk persistence.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

// RunnerConfig configures the execution worker pool.
type RunnerConfig struct {
	// Workers is the number of concurrent transaction workers.
	Workers int `yaml:"workers" validate:"min=1,max=256"`

	// PollInterval is how often idle workers re-check for ready work.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:       "data/scheduler",
			SyncWrites: true,
		},
		Runner: RunnerConfig{
			Workers:      DefaultWorkers,
			PollInterval: DefaultPollInterval,
		},
	}
}

// Load reads and validates a configuration file.
//
// Description:
//
//	Reads the YAML file at path, fills unset runner fields from defaults,
//	and validates the result. Files larger than MaxYAMLFileSize are
//	rejected before parsing.
//
// Inputs:
//
//	path - Path to the YAML configuration file.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Non-nil if the file is missing, oversized, malformed, or
//	fails validation.
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Runner.Workers == 0 {
		cfg.Runner.Workers = DefaultWorkers
	}
	if cfg.Runner.PollInterval == 0 {
		cfg.Runner.PollInterval = DefaultPollInterval
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	return nil
}
