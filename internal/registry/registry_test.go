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

package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

type fakeFetcher struct {
	schema *workflow.Schema
	err    error
}

func (f *fakeFetcher) FetchSchema(ctx context.Context) (*workflow.Schema, error) {
	return f.schema, f.err
}

func (f *fakeFetcher) Close() {}

func testSchema() *workflow.Schema {
	return &workflow.Schema{Parameters: []workflow.Parameter{
		{Name: "q", Type: workflow.ParameterString, Required: true},
		{Name: "lang", Type: workflow.ParameterSelect, Options: []string{"en", "de"}},
	}}
}

func newTestRegistry(t *testing.T, fetcher *fakeFetcher) (*Registry, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLite(store.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := New(st, func(baseURL, credential string) SchemaFetcher {
		return fetcher
	}, logger)
	return reg, st
}

func TestCreateFetchesSchema(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFetcher{schema: testSchema()})
	ctx := context.Background()

	binding, err := reg.Create(ctx, CreateRequest{
		Name:       "translator",
		BaseURL:    "http://remote.test/v1",
		Credential: "app-key",
	})
	require.NoError(t, err)
	require.NotEmpty(t, binding.ID)
	require.True(t, binding.Active)
	require.NotNil(t, binding.SyncedAt)
	require.Len(t, binding.Schema.Parameters, 2)

	got, err := reg.Get(ctx, binding.ID)
	require.NoError(t, err)
	require.Equal(t, "translator", got.Name)
	require.Equal(t, "app-key", got.Credential)
}

func TestCreateRequiredFields(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFetcher{schema: testSchema()})
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"missing name", CreateRequest{BaseURL: "http://x", Credential: "k"}, "name"},
		{"missing base url", CreateRequest{Name: "n", Credential: "k"}, "base_url"},
		{"missing credential", CreateRequest{Name: "n", BaseURL: "http://x"}, "credential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, tt.req)
			var ferr *workflow.FieldError
			require.ErrorAs(t, err, &ferr)
			require.Equal(t, tt.field, ferr.Field)
		})
	}
}

func TestCreateEndpointErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("auth rejected", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &fakeFetcher{
			err: &remote.CallError{Kind: remote.KindPermanent, StatusCode: 401, Detail: "invalid key"},
		})
		_, err := reg.Create(ctx, CreateRequest{Name: "n", BaseURL: "http://x", Credential: "k"})
		var authErr *workflow.AuthError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("unreachable", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &fakeFetcher{
			err: &remote.CallError{Kind: remote.KindTransport, Detail: "connection refused"},
		})
		_, err := reg.Create(ctx, CreateRequest{Name: "n", BaseURL: "http://x", Credential: "k"})
		var unErr *workflow.UnreachableError
		require.ErrorAs(t, err, &unErr)
	})

	t.Run("protocol mismatch", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &fakeFetcher{
			err: &remote.CallError{Kind: remote.KindProtocol, Detail: "no user_input_form"},
		})
		_, err := reg.Create(ctx, CreateRequest{Name: "n", BaseURL: "http://x", Credential: "k"})
		var protoErr *workflow.ProtocolError
		require.ErrorAs(t, err, &protoErr)
	})
}

func TestSyncRefreshesSchema(t *testing.T) {
	fetcher := &fakeFetcher{schema: testSchema()}
	reg, _ := newTestRegistry(t, fetcher)
	ctx := context.Background()

	binding, err := reg.Create(ctx, CreateRequest{Name: "n", BaseURL: "http://x", Credential: "k"})
	require.NoError(t, err)
	firstSync := *binding.SyncedAt

	fetcher.schema = &workflow.Schema{Parameters: []workflow.Parameter{
		{Name: "q", Type: workflow.ParameterString, Required: true},
		{Name: "style", Type: workflow.ParameterString},
		{Name: "lang", Type: workflow.ParameterSelect, Options: []string{"en"}},
	}}
	time.Sleep(time.Millisecond)

	synced, err := reg.Sync(ctx, binding.ID)
	require.NoError(t, err)
	require.Len(t, synced.Schema.Parameters, 3)
	require.True(t, synced.SyncedAt.After(firstSync))

	got, err := reg.Get(ctx, binding.ID)
	require.NoError(t, err)
	require.Len(t, got.Schema.Parameters, 3)
}

func TestUpdateDescriptiveFields(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFetcher{schema: testSchema()})
	ctx := context.Background()

	binding, err := reg.Create(ctx, CreateRequest{Name: "old", BaseURL: "http://x", Credential: "k"})
	require.NoError(t, err)

	name := "new"
	inactive := false
	updated, err := reg.Update(ctx, binding.ID, UpdateRequest{Name: &name, Active: &inactive})
	require.NoError(t, err)
	require.Equal(t, "new", updated.Name)
	require.False(t, updated.Active)
	require.Len(t, updated.Schema.Parameters, 2, "update never touches the schema")
}

func TestDeleteRejectedWhileInUse(t *testing.T) {
	reg, st := newTestRegistry(t, &fakeFetcher{schema: testSchema()})
	ctx := context.Background()

	binding, err := reg.Create(ctx, CreateRequest{Name: "n", BaseURL: "http://x", Credential: "k"})
	require.NoError(t, err)

	require.NoError(t, st.CreateBatch(ctx, &store.Batch{
		ID:               "batch-1",
		BindingID:        binding.ID,
		State:            store.BatchRunning,
		ConcurrencyLimit: 1,
		MaxAttempts:      1,
	}, []*store.Task{{
		ID:             "task-1",
		BatchID:        "batch-1",
		SourceRowIndex: 3,
		Inputs:         map[string]string{"q": "x"},
		State:          store.TaskPending,
		MaxAttempts:    1,
	}}))

	err = reg.Delete(ctx, binding.ID)
	var inUse *workflow.InUseError
	require.ErrorAs(t, err, &inUse)
	require.Equal(t, 1, inUse.Batches)

	// A terminal batch no longer blocks deletion.
	require.NoError(t, st.UpdateBatchState(ctx, "batch-1",
		[]store.BatchState{store.BatchRunning}, store.BatchCancelling))
	require.NoError(t, st.UpdateBatchState(ctx, "batch-1",
		[]store.BatchState{store.BatchCancelling}, store.BatchCompleted))
	require.NoError(t, reg.Delete(ctx, binding.ID))

	_, err = reg.Get(ctx, binding.ID)
	var nf *workflow.NotFoundError
	require.ErrorAs(t, err, &nf)

	// The terminal batch survives as detached history.
	got, err := st.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, got.State)
	require.Empty(t, got.BindingID)
}

func TestGetUnknownBinding(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeFetcher{schema: testSchema()})

	_, err := reg.Get(context.Background(), "missing")
	var nf *workflow.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "missing", nf.ID)
}
