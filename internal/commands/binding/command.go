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

package binding

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/batchflow/internal/commands/shared"
	"github.com/tombee/batchflow/internal/registry"
)

// NewCommand creates the binding command group.
func NewCommand(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "binding",
		Short: "Manage workflow bindings",
		Long: `Binding manages registered remote workflows: endpoint, credential and
the cached parameter schema. Batches always run against a binding.`,
	}

	cmd.AddCommand(newCreateCommand(dbPath))
	cmd.AddCommand(newListCommand(dbPath))
	cmd.AddCommand(newSyncCommand(dbPath))
	cmd.AddCommand(newDeleteCommand(dbPath))
	return cmd
}

func newCreateCommand(dbPath *string) *cobra.Command {
	var (
		name        string
		description string
		baseURL     string
		credential  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a workflow binding",
		Long: `Create registers a remote workflow endpoint. The endpoint is validated
by fetching its parameter schema, which is cached on the binding.`,
		Example: `  # Register a workflow
  batchflow binding create --name summarizer \
    --base-url https://api.example.com/v1 --credential app-xxxx`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := shared.NewRegistry(st, slog.Default())
			b, err := reg.Create(cmd.Context(), registry.CreateRequest{
				Name:        name,
				Description: description,
				BaseURL:     baseURL,
				Credential:  credential,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Created binding %s (%d parameters)\n", b.ID, len(b.Schema.Parameters))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Binding name")
	cmd.Flags().StringVar(&description, "description", "", "Binding description")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Remote workflow API base URL")
	cmd.Flags().StringVar(&credential, "credential", "", "API credential")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("base-url")
	cmd.MarkFlagRequired("credential")
	return cmd
}

func newListCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List registered bindings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := shared.NewRegistry(st, slog.Default())
			bindings, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tBASE URL\tPARAMS\tSYNCED")
			for _, b := range bindings {
				synced := "never"
				if b.SyncedAt != nil {
					synced = b.SyncedAt.Format("2006-01-02 15:04")
				}
				params := 0
				if b.Schema != nil {
					params = len(b.Schema.Parameters)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", b.ID, b.Name, b.BaseURL, params, synced)
			}
			return w.Flush()
		},
	}
}

func newSyncCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:          "sync <binding-id>",
		Short:        "Refresh a binding's cached schema from its endpoint",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := shared.NewRegistry(st, slog.Default())
			b, err := reg.Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Synced binding %s (%d parameters)\n", b.ID, len(b.Schema.Parameters))
			return nil
		},
	}
}

func newDeleteCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:          "delete <binding-id>",
		Short:        "Delete a binding",
		Long:         `Delete removes a binding. Bindings referenced by a non-terminal batch cannot be deleted.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := shared.OpenStore(*dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			reg := shared.NewRegistry(st, slog.Default())
			if err := reg.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}

			fmt.Printf("Deleted binding %s\n", args[0])
			return nil
		},
	}
}
