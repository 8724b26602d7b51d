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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10, cfg.Dispatch.Concurrency)
	require.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.Dispatch.RequestTimeout)
	require.Equal(t, 2.0, cfg.Dispatch.Multiplier)
	require.Equal(t, 50, cfg.MaxConcurrentTasks)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/batchflow/batchflow.db
dispatch:
  concurrency: 4
  max_attempts: 5
  request_timeout: 30s
  rate_per_second: 2.5
max_concurrent_tasks: 8
progress_tick: 250ms
log:
  level: debug
  format: text
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/batchflow/batchflow.db", cfg.Database.Path)
	require.Equal(t, 4, cfg.Dispatch.Concurrency)
	require.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Dispatch.RequestTimeout)
	require.Equal(t, 2.5, cfg.Dispatch.RatePerSecond)
	require.Equal(t, 8, cfg.MaxConcurrentTasks)
	require.Equal(t, 250*time.Millisecond, cfg.ProgressTick)
	require.Equal(t, "debug", cfg.Log.Level)

	// Unset fields keep their defaults.
	require.Equal(t, 2*time.Second, cfg.Dispatch.BaseDelay)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch: ["), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BATCHFLOW_DB_PATH", "/tmp/override.db")
	t.Setenv("BATCHFLOW_CONCURRENCY", "7")
	t.Setenv("BATCHFLOW_MAX_ATTEMPTS", "9")
	t.Setenv("BATCHFLOW_REQUEST_TIMEOUT", "90s")
	t.Setenv("BATCHFLOW_MAX_CONCURRENT_TASKS", "20")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.db", cfg.Database.Path)
	require.Equal(t, 7, cfg.Dispatch.Concurrency)
	require.Equal(t, 9, cfg.Dispatch.MaxAttempts)
	require.Equal(t, 90*time.Second, cfg.Dispatch.RequestTimeout)
	require.Equal(t, 20, cfg.MaxConcurrentTasks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero concurrency", func(c *Config) { c.Dispatch.Concurrency = 0 }},
		{"zero max attempts", func(c *Config) { c.Dispatch.MaxAttempts = 0 }},
		{"zero request timeout", func(c *Config) { c.Dispatch.RequestTimeout = 0 }},
		{"multiplier below one", func(c *Config) { c.Dispatch.Multiplier = 0.5 }},
		{"negative base delay", func(c *Config) { c.Dispatch.BaseDelay = -time.Second }},
		{"negative global ceiling", func(c *Config) { c.MaxConcurrentTasks = -1 }},
		{"zero progress tick", func(c *Config) { c.ProgressTick = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
