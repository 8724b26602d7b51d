// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides process and per-batch configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	// Database configures the durable store.
	Database DatabaseConfig `yaml:"database"`

	// Dispatch holds the per-batch execution defaults.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// MaxConcurrentTasks is the process-wide ceiling on tasks in flight
	// across all batches. Zero means no ceiling.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// ProgressTick is the interval between batch_progress events while a
	// batch is running.
	ProgressTick time.Duration `yaml:"progress_tick"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the filesystem path to the database file.
	// Special value ":memory:" creates an in-memory database.
	Path string `yaml:"path"`
}

// DispatchConfig holds defaults applied to batches that do not override them.
type DispatchConfig struct {
	// Concurrency is the default per-batch worker count.
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts is the default per-task attempt ceiling.
	MaxAttempts int `yaml:"max_attempts"`

	// RequestTimeout is the per-call deadline covering connect, headers
	// and body.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BaseDelay is the first retry backoff delay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// RatePerSecond limits remote calls across all batches.
	// Zero disables rate limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "batchflow.db",
		},
		Dispatch: DispatchConfig{
			Concurrency:    10,
			MaxAttempts:    3,
			RequestTimeout: 5 * time.Minute,
			BaseDelay:      2 * time.Second,
			Multiplier:     2.0,
			MaxDelay:       60 * time.Second,
		},
		MaxConcurrentTasks: 50,
		ProgressTick:       time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration from environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("BATCHFLOW_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("BATCHFLOW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.Concurrency = n
		}
	}
	if v := os.Getenv("BATCHFLOW_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.MaxAttempts = n
		}
	}
	if v := os.Getenv("BATCHFLOW_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Dispatch.RequestTimeout = d
		}
	}
	if v := os.Getenv("BATCHFLOW_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentTasks = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be positive, got %d", c.Dispatch.Concurrency)
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.RequestTimeout <= 0 {
		return fmt.Errorf("dispatch.request_timeout must be positive")
	}
	if c.Dispatch.Multiplier < 1 {
		return fmt.Errorf("dispatch.multiplier must be >= 1, got %g", c.Dispatch.Multiplier)
	}
	if c.Dispatch.BaseDelay < 0 || c.Dispatch.MaxDelay < 0 {
		return fmt.Errorf("dispatch backoff delays must not be negative")
	}
	if c.MaxConcurrentTasks < 0 {
		return fmt.Errorf("max_concurrent_tasks must not be negative")
	}
	if c.ProgressTick <= 0 {
		return fmt.Errorf("progress_tick must be positive")
	}
	return nil
}
