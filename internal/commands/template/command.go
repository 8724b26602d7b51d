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

package template

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/batchflow/internal/commands/shared"
	"github.com/tombee/batchflow/internal/sheet"
)

// NewCommand creates the template command.
func NewCommand(dbPath *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template <binding-id>",
		Short: "Generate an input workbook template for a binding",
		Long: `Template writes an xlsx workbook whose header row matches the binding's
parameter schema, with a description row and an example row. Fill in data
rows below the example row and pass the file to batchflow run.`,
		Example:      `  batchflow template 2f1c... -o inputs.xlsx`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := shared.NewRegistry(st, slog.Default())
			b, err := reg.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if b.Schema == nil {
				return fmt.Errorf("binding %s has no cached schema, run: batchflow binding sync %s", b.ID, b.ID)
			}

			data, err := sheet.GenerateTemplate(b.Schema)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}

			fmt.Printf("Wrote template for %s to %s\n", b.Name, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "template.xlsx", "Output file path")
	return cmd
}
