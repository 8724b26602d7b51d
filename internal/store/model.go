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

// Package store provides the durable records for batches, tasks and
// workflow bindings.
package store

import "time"

// BatchState is the lifecycle state of a batch.
type BatchState string

const (
	BatchCreated    BatchState = "created"
	BatchRunning    BatchState = "running"
	BatchPaused     BatchState = "paused"
	BatchCancelling BatchState = "cancelling"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
)

// Terminal reports whether the batch state is final.
func (s BatchState) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the task state is final. Terminal task states
// are immutable.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Batch is one collection of tasks produced from a single input sheet
// against one binding.
type Batch struct {
	ID            string     `json:"id"`
	BindingID     string     `json:"binding_id"`
	SourceFileRef string     `json:"source_file_ref"`
	State         BatchState `json:"state"`

	// SourceSheet holds the original unmodified workbook bytes. Result
	// assembly writes into this exact sheet by absolute row index.
	SourceSheet []byte `json:"-"`

	ConcurrencyLimit int    `json:"concurrency_limit"`
	MaxAttempts      int    `json:"max_attempts"`
	ResultTemplate   string `json:"result_template,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Counts aggregates task states for a batch. Computed from the tasks table
// at read time so it always matches the task records.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Done reports whether no further work remains.
func (c Counts) Done() bool {
	return c.Pending == 0 && c.Running == 0
}

// Task is a single row's invocation against the remote workflow.
type Task struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id"`

	// SourceRowIndex is the row's 0-based absolute position in the
	// original unmodified sheet. Unique within the batch; the stable
	// alignment key for result assembly.
	SourceRowIndex int `json:"source_row_index"`

	Inputs map[string]string `json:"inputs"`

	State       TaskState `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`

	ExternalRunID string `json:"external_run_id,omitempty"`
	Output        string `json:"output,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskFilter selects tasks when listing.
type TaskFilter struct {
	State TaskState
	Limit int
}
