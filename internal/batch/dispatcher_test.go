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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   time.Second,
	}

	tests := []struct {
		name     string
		attempts int
		base     time.Duration
	}{
		{"first attempt", 1, 100 * time.Millisecond},
		{"second attempt", 2, 200 * time.Millisecond},
		{"third attempt", 3, 400 * time.Millisecond},
		{"capped at max", 5, time.Second},
		{"clamped below one", 0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got := policy.Backoff(tt.attempts)
				lo := time.Duration(float64(tt.base) * 0.75)
				hi := time.Duration(float64(tt.base) * 1.25)
				require.GreaterOrEqual(t, got, lo)
				require.LessOrEqual(t, got, hi)
			}
		})
	}
}

func TestRetryableFailureThenSuccess(t *testing.T) {
	var calls atomic.Int32
	svc, _, st := newTestEnv(t, testConfig(), func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		if calls.Add(1) < 3 {
			return nil, &remote.CallError{Kind: remote.KindRetryable, StatusCode: 503, Detail: "upstream busy"}
		}
		return successResult(t, "third time lucky"), nil
	})
	ctx := context.Background()

	seedTasks(t, st, "batch-1", 1, 2)
	require.NoError(t, svc.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	tasks, err := st.ListTasks(ctx, "batch-1", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskSucceeded, tasks[0].State)
	require.Equal(t, 3, tasks[0].Attempts)
	require.Equal(t, "third time lucky", tasks[0].Output)
	require.Equal(t, int32(3), calls.Load())
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	svc, _, st := newTestEnv(t, testConfig(), func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		calls.Add(1)
		return nil, &remote.CallError{Kind: remote.KindPermanent, StatusCode: 401, Detail: "bad credential"}
	})
	ctx := context.Background()

	seedTasks(t, st, "batch-1", 1, 2)
	require.NoError(t, svc.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	tasks, err := st.ListTasks(ctx, "batch-1", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskFailed, tasks[0].State)
	require.Equal(t, 1, tasks[0].Attempts)
	require.Equal(t, "permanent", tasks[0].ErrorKind)
	require.Equal(t, "bad credential", tasks[0].ErrorDetail)
	require.Equal(t, int32(1), calls.Load())
}

func TestRetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	svc, _, st := newTestEnv(t, testConfig(), func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		calls.Add(1)
		return nil, &remote.CallError{Kind: remote.KindTransport, Detail: "connection reset"}
	})
	ctx := context.Background()

	seedTasks(t, st, "batch-1", 1, 2)
	require.NoError(t, svc.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	tasks, err := st.ListTasks(ctx, "batch-1", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskFailed, tasks[0].State)
	require.Equal(t, 3, tasks[0].Attempts)
	require.Equal(t, "transport", tasks[0].ErrorKind)
	require.Equal(t, int32(3), calls.Load())
}

// flakyClaimStore fails the first few claims before delegating, as a
// briefly contended database would.
type flakyClaimStore struct {
	store.Store
	remaining atomic.Int32
}

func (f *flakyClaimStore) ClaimNextPending(ctx context.Context, batchID string) (*store.Task, error) {
	if f.remaining.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return f.Store.ClaimNextPending(ctx, batchID)
}

// A claim error must not kill the worker; the batch still drains once the
// store recovers.
func TestWorkerRetriesTransientClaimErrors(t *testing.T) {
	st, err := store.NewSQLite(store.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateBinding(ctx, &workflow.Binding{
		ID:         "bind-1",
		Name:       "test workflow",
		BaseURL:    "http://remote.test/v1",
		Credential: "secret",
		Active:     true,
		Schema: &workflow.Schema{Parameters: []workflow.Parameter{
			{Name: "q", Type: workflow.ParameterString, Required: true},
		}},
	}))
	seedTasks(t, st, "batch-1", 3, 2)

	flaky := &flakyClaimStore{Store: st}
	flaky.remaining.Store(3)

	run := echoRun(t)
	coord := NewCoordinator(flaky, testConfig(), testLogger(),
		WithNewClient(func(baseURL, credential string, timeout time.Duration) RunClient {
			return &fakeClient{run: run}
		}))
	require.NoError(t, coord.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	counts, err := st.BatchCounts(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, 3, counts.Succeeded)
}

// A remote run that reports its own failure still carries a run id; the
// failed task must keep it for operator follow-up.
func TestApplicationFailureKeepsRunID(t *testing.T) {
	svc, _, st := newTestEnv(t, testConfig(), func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		result := &remote.RunResult{
			ExternalRunID: "run-upstream-7",
			Status:        remote.StatusFailed,
		}
		return result, &remote.CallError{Kind: remote.KindApplication, Detail: "node 3 exploded"}
	})
	ctx := context.Background()

	seedTasks(t, st, "batch-1", 1, 2)
	require.NoError(t, svc.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	tasks, err := st.ListTasks(ctx, "batch-1", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskFailed, tasks[0].State)
	require.Equal(t, 1, tasks[0].Attempts)
	require.Equal(t, "application", tasks[0].ErrorKind)
	require.Equal(t, "node 3 exploded", tasks[0].ErrorDetail)
	require.Equal(t, "run-upstream-7", tasks[0].ExternalRunID)
}

// Mixed outcomes within one batch: the batch still completes, each task
// settling independently.
func TestMixedOutcomes(t *testing.T) {
	svc, _, st := newTestEnv(t, testConfig(), func(ctx context.Context, inputs map[string]any) (*remote.RunResult, error) {
		switch inputs["q"] {
		case "row-3":
			return successResult(t, "fine"), nil
		case "row-4":
			return nil, &remote.CallError{Kind: remote.KindPermanent, StatusCode: 400, Detail: "unknown variable"}
		default:
			return nil, &remote.CallError{Kind: remote.KindTimeout, Detail: "deadline exceeded"}
		}
	})
	ctx := context.Background()

	seedTasks(t, st, "batch-1", 3, 2)
	require.NoError(t, svc.Start(ctx, "batch-1"))
	waitBatchState(t, st, "batch-1", store.BatchCompleted)

	counts, err := st.BatchCounts(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Succeeded)
	require.Equal(t, 2, counts.Failed)

	tasks, err := st.ListTasks(ctx, "batch-1", store.TaskFilter{State: store.TaskFailed})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, 4, tasks[0].SourceRowIndex)
	require.Equal(t, 1, tasks[0].Attempts)
	require.Equal(t, 5, tasks[1].SourceRowIndex)
	require.Equal(t, 3, tasks[1].Attempts, "timeouts are retried until attempts run out")
}
