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

// Package shared holds helpers used by every CLI command: store and
// registry construction from the global flags.
package shared

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/batchflow/internal/registry"
	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/store"
)

// DefaultDBPath returns the database location used when --db is not given.
func DefaultDBPath() string {
	if env := os.Getenv("BATCHFLOW_DB"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "batchflow.db"
	}
	return filepath.Join(home, ".batchflow", "batchflow.db")
}

// OpenStore opens the SQLite store at the given path, creating parent
// directories as needed.
func OpenStore(path string) (*store.SQLiteStore, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLite(store.SQLiteConfig{Path: path})
}

// NewRegistry builds a Registry over the store with the real remote client.
func NewRegistry(st store.BindingStore, logger *slog.Logger) *registry.Registry {
	factory := func(baseURL, credential string) registry.SchemaFetcher {
		return remote.NewClient(baseURL, credential)
	}
	return registry.New(st, factory, logger)
}
