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

package store

import (
	"context"
	"errors"

	"github.com/tombee/batchflow/internal/workflow"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a state transition's precondition no longer
// holds, for example updating a task that already reached a terminal state.
var ErrConflict = errors.New("state transition conflict")

// Store is the durable record store for bindings, batches and tasks.
// Every task state transition is atomic and durable before the caller
// emits any progress event referring to it.
type Store interface {
	BindingStore
	BatchStore
	TaskStore

	Close() error
}

// BindingStore persists workflow bindings.
type BindingStore interface {
	CreateBinding(ctx context.Context, b *workflow.Binding) error
	GetBinding(ctx context.Context, id string) (*workflow.Binding, error)
	ListBindings(ctx context.Context) ([]*workflow.Binding, error)
	UpdateBinding(ctx context.Context, b *workflow.Binding) error
	DeleteBinding(ctx context.Context, id string) error

	// ActiveBatchCount returns the number of non-terminal batches that
	// reference the binding. Used to reject deletes of bindings in use.
	ActiveBatchCount(ctx context.Context, bindingID string) (int, error)
}

// BatchStore persists batches.
type BatchStore interface {
	// CreateBatch stores a batch and its tasks in one transaction.
	CreateBatch(ctx context.Context, b *Batch, tasks []*Task) error

	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context) ([]*Batch, error)

	// UpdateBatchState transitions the batch state, guarded by the set of
	// allowed source states. Returns ErrConflict when the current state is
	// not among them.
	UpdateBatchState(ctx context.Context, id string, from []BatchState, to BatchState) error

	// BatchCounts aggregates the batch's tasks by state.
	BatchCounts(ctx context.Context, id string) (Counts, error)

	// BatchesInState lists batches currently in the given state.
	// Used by restart recovery to find interrupted batches.
	BatchesInState(ctx context.Context, state BatchState) ([]*Batch, error)
}

// TaskStore persists tasks and implements the atomic claim used by the
// dispatcher.
type TaskStore interface {
	// ClaimNextPending atomically claims the pending task with the lowest
	// source row index, transitions it to running and increments its
	// attempt counter. Returns ErrNotFound when no pending task remains.
	ClaimNextPending(ctx context.Context, batchID string) (*Task, error)

	// MarkTaskSucceeded transitions a running task to succeeded.
	MarkTaskSucceeded(ctx context.Context, id, externalRunID, output string) error

	// MarkTaskFailed transitions a running task to failed.
	MarkTaskFailed(ctx context.Context, id, externalRunID, errorKind, errorDetail string) error

	// MarkTaskCancelled transitions a pending or running task to cancelled.
	MarkTaskCancelled(ctx context.Context, id string) error

	// RequeueTask transitions a running task back to pending for retry,
	// preserving its attempt counter.
	RequeueTask(ctx context.Context, id string) error

	// ResetRunningTasks moves all running tasks of a batch back to pending.
	// Used by restart recovery; returns the number of tasks moved.
	ResetRunningTasks(ctx context.Context, batchID string) (int, error)

	// CancelRemainingTasks moves all pending tasks of a batch to cancelled.
	// Returns the number of tasks moved.
	CancelRemainingTasks(ctx context.Context, batchID string) (int, error)

	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns the batch's tasks ordered by source row index.
	ListTasks(ctx context.Context, batchID string, filter TaskFilter) ([]*Task, error)
}
