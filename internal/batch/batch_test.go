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

package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/batchflow/internal/config"
	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

type runFunc func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error)

// fakeClient satisfies RunClient with a test-provided call function.
type fakeClient struct {
	run runFunc
}

func (f *fakeClient) Run(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
	return f.run(ctx, inputs)
}

func (f *fakeClient) Close() {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Dispatch.Concurrency = 2
	cfg.Dispatch.MaxAttempts = 3
	cfg.Dispatch.BaseDelay = time.Millisecond
	cfg.Dispatch.MaxDelay = 5 * time.Millisecond
	cfg.ProgressTick = 10 * time.Millisecond
	return cfg
}

// newTestEnv builds a coordinator and service over an in-memory store with
// the remote client replaced by the given run function.
func newTestEnv(t *testing.T, cfg *config.Config, run runFunc) (*Service, *Coordinator, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLite(store.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.CreateBinding(context.Background(), &workflow.Binding{
		ID:         "bind-1",
		Name:       "test workflow",
		BaseURL:    "http://remote.test/v1",
		Credential: "secret",
		Active:     true,
		Schema: &workflow.Schema{Parameters: []workflow.Parameter{
			{Name: "q", Type: workflow.ParameterString, Required: true},
		}},
	}))

	coord := NewCoordinator(st, cfg, testLogger(),
		WithNewClient(func(baseURL, credential string, timeout time.Duration) RunClient {
			return &fakeClient{run: run}
		}))
	svc := NewService(st, coord, cfg, testLogger())
	return svc, coord, st
}

// seedTasks creates a batch of n pending tasks on source rows 3..n+2,
// bypassing sheet parsing.
func seedTasks(t *testing.T, st *store.SQLiteStore, batchID string, n, concurrency int) *store.Batch {
	t.Helper()

	b := &store.Batch{
		ID:               batchID,
		BindingID:        "bind-1",
		State:            store.BatchCreated,
		ConcurrencyLimit: concurrency,
		MaxAttempts:      3,
	}
	tasks := make([]*store.Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = &store.Task{
			ID:             fmt.Sprintf("%s-task-%d", batchID, i),
			BatchID:        batchID,
			SourceRowIndex: i + 3,
			Inputs:         map[string]string{"q": fmt.Sprintf("row-%d", i+3)},
			State:          store.TaskPending,
			MaxAttempts:    3,
		}
	}
	require.NoError(t, st.CreateBatch(context.Background(), b, tasks))
	return b
}

func orderedFrom(t *testing.T, data string) *remote.Ordered {
	t.Helper()
	o := &remote.Ordered{}
	require.NoError(t, json.Unmarshal([]byte(data), o))
	return o
}

func successResult(t *testing.T, text string) *remote.RunResult {
	t.Helper()
	return &remote.RunResult{
		ExternalRunID: "run-" + text,
		Data:          orderedFrom(t, fmt.Sprintf(`{"outputs": {"text": %q}}`, text)),
		Status:        remote.StatusSucceeded,
	}
}

// echoRun answers every call with the q input echoed back.
func echoRun(t *testing.T) runFunc {
	return func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		return successResult(t, fmt.Sprintf("%v", inputs["q"])), nil
	}
}

func waitBatchState(t *testing.T, st *store.SQLiteStore, batchID string, want store.BatchState) {
	t.Helper()
	require.Eventually(t, func() bool {
		b, err := st.GetBatch(context.Background(), batchID)
		return err == nil && b.State == want
	}, 5*time.Second, 5*time.Millisecond, "batch never reached %s", want)
}

func waitCounts(t *testing.T, st *store.SQLiteStore, batchID string, check func(store.Counts) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := st.BatchCounts(context.Background(), batchID)
		return err == nil && check(counts)
	}, 5*time.Second, 5*time.Millisecond)
}
