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
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tombee/batchflow/internal/config"
	"github.com/tombee/batchflow/internal/log"
	"github.com/tombee/batchflow/internal/sheet"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

// ValidationError aggregates every invalid row/field found in an input
// sheet so the operator can fix the whole sheet in one pass.
type ValidationError struct {
	Errors []workflow.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("sheet validation failed: %s", e.Errors[0].Error())
	}
	return fmt.Sprintf("sheet validation failed: %d invalid fields, first: %s",
		len(e.Errors), e.Errors[0].Error())
}

// CreateBatchRequest carries everything needed to materialize a batch from
// an uploaded sheet. Zero option values fall back to process defaults.
type CreateBatchRequest struct {
	BindingID     string
	SheetData     []byte
	SourceFileRef string

	ConcurrencyLimit int
	MaxAttempts      int
	ResultTemplate   string
}

// BatchStatus is a batch together with its live task counts.
type BatchStatus struct {
	*store.Batch
	Counts store.Counts `json:"counts"`
}

// Service is the inbound operation surface over the batch core: batch
// creation from sheets, lifecycle control and result download.
type Service struct {
	store  store.Store
	coord  *Coordinator
	cfg    *config.Config
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(st store.Store, coord *Coordinator, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		coord:  coord,
		cfg:    cfg,
		logger: log.WithComponent(logger, "batch"),
	}
}

// Events returns the progress broadcaster for subscribers.
func (s *Service) Events() *Broadcaster {
	return s.coord.Events()
}

// CreateBatch parses the sheet against the binding's schema, validates
// every data row and persists the batch with one pending task per row.
// The batch is created in state created; Start dispatches it.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*store.Batch, error) {
	binding, err := s.store.GetBinding(ctx, req.BindingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &workflow.NotFoundError{ID: req.BindingID}
	}
	if err != nil {
		return nil, err
	}
	if binding.Schema == nil {
		return nil, fmt.Errorf("binding %s has no cached schema, sync it first", binding.ID)
	}

	rows, err := sheet.Parse(req.SheetData, binding.Schema)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Errors: []workflow.FieldError{{
			Row:     0,
			Field:   "",
			Message: "sheet contains no data rows",
		}}}
	}

	var fieldErrs []workflow.FieldError
	for _, row := range rows {
		fieldErrs = append(fieldErrs, binding.Schema.ValidateRow(row.SourceRowIndex, row.Inputs)...)
	}
	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Errors: fieldErrs}
	}

	if err := s.coord.Renderer().Validate(req.ResultTemplate); err != nil {
		return nil, fmt.Errorf("invalid result template: %w", err)
	}

	concurrency := req.ConcurrencyLimit
	if concurrency <= 0 {
		concurrency = s.cfg.Dispatch.Concurrency
	}
	// The process ceiling caps requested concurrency; a batch cannot grab
	// more workers than the operator allows in flight at once.
	if s.cfg.MaxConcurrentTasks > 0 && concurrency > s.cfg.MaxConcurrentTasks {
		concurrency = s.cfg.MaxConcurrentTasks
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.Dispatch.MaxAttempts
	}

	batch := &store.Batch{
		ID:               uuid.NewString(),
		BindingID:        binding.ID,
		SourceFileRef:    req.SourceFileRef,
		State:            store.BatchCreated,
		SourceSheet:      req.SheetData,
		ConcurrencyLimit: concurrency,
		MaxAttempts:      maxAttempts,
		ResultTemplate:   req.ResultTemplate,
	}

	tasks := make([]*store.Task, len(rows))
	for i, row := range rows {
		tasks[i] = &store.Task{
			ID:             uuid.NewString(),
			BatchID:        batch.ID,
			SourceRowIndex: row.SourceRowIndex,
			Inputs:         row.Inputs,
			State:          store.TaskPending,
			MaxAttempts:    maxAttempts,
		}
	}

	if err := s.store.CreateBatch(ctx, batch, tasks); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	s.logger.Info("batch created",
		slog.String(log.BatchIDKey, batch.ID),
		slog.String(log.BindingIDKey, binding.ID),
		slog.Int("tasks", len(tasks)),
		slog.Int("concurrency", concurrency))
	return batch, nil
}

// Start begins or resumes dispatching a batch.
func (s *Service) Start(ctx context.Context, batchID string) error {
	return s.coord.Start(ctx, batchID)
}

// Pause stops a running batch from claiming new tasks.
func (s *Service) Pause(ctx context.Context, batchID string) error {
	return s.coord.Pause(ctx, batchID)
}

// Resume continues a paused batch.
func (s *Service) Resume(ctx context.Context, batchID string) error {
	return s.coord.Resume(ctx, batchID)
}

// Cancel aborts a batch; remaining pending tasks end cancelled.
func (s *Service) Cancel(ctx context.Context, batchID string) error {
	return s.coord.Cancel(ctx, batchID)
}

// GetBatch returns a batch with its aggregated task counts.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*BatchStatus, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.BatchCounts(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Batch: batch, Counts: counts}, nil
}

// ListBatches returns all batches.
func (s *Service) ListBatches(ctx context.Context) ([]*store.Batch, error) {
	return s.store.ListBatches(ctx)
}

// ListTasks returns a batch's tasks ordered by source row index.
func (s *Service) ListTasks(ctx context.Context, batchID string, filter store.TaskFilter) ([]*store.Task, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, batchID, filter)
}

// DownloadResult assembles the result workbook for a completed batch: the
// original sheet with one appended execution_result column, each cell
// written at the task's absolute source row index. Failed and cancelled
// rows get a diagnostic cell, never a blank one.
func (s *Service) DownloadResult(ctx context.Context, batchID string) ([]byte, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.State != store.BatchCompleted {
		return nil, fmt.Errorf("%w: result available only for completed batches, batch is %s",
			ErrInvalidState, batch.State)
	}

	tasks, err := s.store.ListTasks(ctx, batchID, store.TaskFilter{})
	if err != nil {
		return nil, err
	}

	results := make(map[int]string, len(tasks))
	for _, task := range tasks {
		results[task.SourceRowIndex] = resultCell(task)
	}

	data, err := sheet.Assemble(batch.SourceSheet, results)
	if err != nil {
		return nil, fmt.Errorf("assemble result sheet: %w", err)
	}
	return data, nil
}

// resultCell renders one task's terminal state as result-column text.
func resultCell(task *store.Task) string {
	switch task.State {
	case store.TaskSucceeded:
		return task.Output
	case store.TaskFailed:
		return strings.TrimSpace(fmt.Sprintf("[error:%s] %s", task.ErrorKind, task.ErrorDetail))
	case store.TaskCancelled:
		return "[error:cancelled]"
	default:
		// Completed batches hold no pending or running tasks; keep the
		// alignment visible if one ever slips through.
		return fmt.Sprintf("[error:%s]", task.State)
	}
}
