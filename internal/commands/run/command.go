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

package run

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/batchflow/internal/batch"
	"github.com/tombee/batchflow/internal/commands/shared"
	"github.com/tombee/batchflow/internal/config"
	"github.com/tombee/batchflow/internal/store"
)

// NewCommand creates the run command.
func NewCommand(dbPath *string) *cobra.Command {
	var (
		bindingID      string
		output         string
		concurrency    int
		maxAttempts    int
		resultTemplate string
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "run <input.xlsx>",
		Short: "Execute a batch from an input workbook",
		Long: `Run parses the workbook, validates every data row against the binding's
schema, executes one remote workflow call per row with bounded concurrency
and retry, and writes the workbook back out with an appended
execution_result column. Failed rows carry a diagnostic cell instead of a
blank one.`,
		Example: `  # Run a batch with 8 concurrent calls
  batchflow run inputs.xlsx --binding 2f1c... -o results.xlsx --concurrency 8`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sheetData, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg := config.Default()
			if concurrency > 0 {
				cfg.Dispatch.Concurrency = concurrency
			}
			if maxAttempts > 0 {
				cfg.Dispatch.MaxAttempts = maxAttempts
			}

			logger := slog.Default()
			coord := batch.NewCoordinator(st, cfg, logger)
			svc := batch.NewService(st, coord, cfg, logger)
			ctx := cmd.Context()

			b, err := svc.CreateBatch(ctx, batch.CreateBatchRequest{
				BindingID:      bindingID,
				SheetData:      sheetData,
				SourceFileRef:  args[0],
				ResultTemplate: resultTemplate,
			})
			var verr *batch.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintln(os.Stderr, "Input sheet is invalid:")
				for _, fe := range verr.Errors {
					fmt.Fprintf(os.Stderr, "  row %d, %s: %s\n", fe.Row+1, fe.Field, fe.Message)
				}
				return fmt.Errorf("%d validation errors", len(verr.Errors))
			}
			if err != nil {
				return err
			}

			var stopProgress func()
			if !quiet {
				stopProgress = watchProgress(svc.Events(), b.ID)
			}

			if err := svc.Start(ctx, b.ID); err != nil {
				return err
			}
			if err := coord.Wait(ctx); err != nil {
				return err
			}
			if stopProgress != nil {
				stopProgress()
			}

			status, err := svc.GetBatch(ctx, b.ID)
			if err != nil {
				return err
			}
			if status.State != store.BatchCompleted {
				return fmt.Errorf("batch ended in state %s", status.State)
			}

			data, err := svc.DownloadResult(ctx, b.ID)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}

			fmt.Printf("Batch %s completed: %d succeeded, %d failed, %d cancelled\n",
				b.ID, status.Counts.Succeeded, status.Counts.Failed, status.Counts.Cancelled)
			fmt.Printf("Results written to %s\n", output)
			if status.Counts.Failed > 0 {
				return fmt.Errorf("%d tasks failed", status.Counts.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bindingID, "binding", "", "Binding ID to run against")
	cmd.Flags().StringVarP(&output, "output", "o", "results.xlsx", "Output file path")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent remote calls (default from config)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts per row before failing it")
	cmd.Flags().StringVar(&resultTemplate, "result-template", "", "Result cell template (expr, or jq: prefixed)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	cmd.MarkFlagRequired("binding")
	return cmd
}

// watchProgress prints batch progress to stderr until stopped.
func watchProgress(events *batch.Broadcaster, batchID string) func() {
	ch, unsub := events.Subscribe(batchID)
	done := make(chan struct{})

	go func() {
		defer close(done)
		start := time.Now()
		for ev := range ch {
			switch ev.Type {
			case batch.EventBatchProgress:
				if ev.Counts == nil {
					continue
				}
				fmt.Fprintf(os.Stderr, "[%s] %d/%d done (%d running, %d failed)\n",
					time.Since(start).Round(time.Second),
					ev.Counts.Succeeded+ev.Counts.Failed+ev.Counts.Cancelled,
					ev.Counts.Total, ev.Counts.Running, ev.Counts.Failed)
			case batch.EventTaskFailed:
				fmt.Fprintf(os.Stderr, "row %d failed (%s)\n", ev.SourceRowIndex+1, ev.ErrorKind)
			}
		}
	}()

	return func() {
		unsub()
		<-done
	}
}
