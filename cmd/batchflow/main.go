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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/batchflow/internal/commands/binding"
	"github.com/tombee/batchflow/internal/commands/run"
	"github.com/tombee/batchflow/internal/commands/template"
	"github.com/tombee/batchflow/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	var dbPath string

	rootCmd := &cobra.Command{
		Use:   "batchflow",
		Short: "Drive spreadsheets of inputs through a remote workflow",
		Long: `Batchflow executes every data row of an input workbook against a
registered remote workflow endpoint and writes the results back as an
appended column, with bounded concurrency, retry and durable progress.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database file")

	rootCmd.AddCommand(binding.NewCommand(&dbPath))
	rootCmd.AddCommand(template.NewCommand(&dbPath))
	rootCmd.AddCommand(run.NewCommand(&dbPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
