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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/batchflow/internal/workflow"
)

// SQLiteStore is the SQLite-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// NewSQLite creates a new SQLite storage backend and runs migrations.
func NewSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Pragmas use the modernc _pragma form so they apply to every pooled
	// connection. WAL mode allows concurrent readers while the dispatcher
	// writes; busy_timeout makes racing writers wait instead of failing
	// with SQLITE_BUSY; _txlock=immediate takes the write lock at BEGIN so
	// write transactions cannot deadlock upgrading a deferred lock.
	connStr := cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if cfg.Path != ":memory:" {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if cfg.Path == ":memory:" {
		// An in-memory database exists per connection; keep exactly one.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bindings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			base_url TEXT NOT NULL,
			credential TEXT NOT NULL,
			schema TEXT,
			synced_at INTEGER,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// binding_id detaches on binding delete; terminal batches outlive
		// their binding as standalone history.
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			binding_id TEXT REFERENCES bindings(id) ON DELETE SET NULL,
			source_file_ref TEXT,
			source_sheet BLOB,
			state TEXT NOT NULL,
			concurrency_limit INTEGER NOT NULL,
			max_attempts INTEGER NOT NULL,
			result_template TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_state ON batches(state)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_binding ON batches(binding_id)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL REFERENCES batches(id),
			source_row_index INTEGER NOT NULL,
			inputs TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			external_run_id TEXT,
			output TEXT,
			error_kind TEXT,
			error_detail TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			UNIQUE (batch_id, source_row_index)
		)`,
		// Claim scans by (batch, state); assembly reads by (batch, row).
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch_state ON tasks(batch_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_batch_row ON tasks(batch_id, source_row_index)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- bindings ---

// CreateBinding stores a new binding.
func (s *SQLiteStore) CreateBinding(ctx context.Context, b *workflow.Binding) error {
	schemaJSON, err := marshalSchema(b.Schema)
	if err != nil {
		return err
	}

	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bindings (id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, b.BaseURL, b.Credential, schemaJSON,
		timePtrToUnix(b.SyncedAt), boolToInt(b.Active), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store binding: %w", err)
	}
	return nil
}

// GetBinding fetches a binding by id.
func (s *SQLiteStore) GetBinding(ctx context.Context, id string) (*workflow.Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at
		FROM bindings WHERE id = ?`, id)
	return scanBinding(row)
}

// ListBindings returns all bindings ordered by creation time.
func (s *SQLiteStore) ListBindings(ctx context.Context) ([]*workflow.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, base_url, credential, schema, synced_at, active, created_at, updated_at
		FROM bindings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*workflow.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// UpdateBinding replaces a binding's mutable fields.
func (s *SQLiteStore) UpdateBinding(ctx context.Context, b *workflow.Binding) error {
	schemaJSON, err := marshalSchema(b.Schema)
	if err != nil {
		return err
	}

	b.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE bindings
		SET name = ?, description = ?, base_url = ?, credential = ?, schema = ?, synced_at = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, b.Description, b.BaseURL, b.Credential, schemaJSON,
		timePtrToUnix(b.SyncedAt), boolToInt(b.Active), b.UpdatedAt.UnixNano(), b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update binding: %w", err)
	}
	return requireRow(res)
}

// DeleteBinding removes a binding. Terminal batches that reference it are
// detached rather than deleted. Callers must check ActiveBatchCount first.
func (s *SQLiteStore) DeleteBinding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return requireRow(res)
}

// ActiveBatchCount counts non-terminal batches referencing the binding.
func (s *SQLiteStore) ActiveBatchCount(ctx context.Context, bindingID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batches
		WHERE binding_id = ? AND state NOT IN (?, ?)`,
		bindingID, BatchCompleted, BatchFailed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active batches: %w", err)
	}
	return count, nil
}

// --- batches ---

// CreateBatch stores a batch and its tasks in one transaction.
func (s *SQLiteStore) CreateBatch(ctx context.Context, b *Batch, tasks []*Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b.CreatedAt = time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, binding_id, source_file_ref, source_sheet, state, concurrency_limit, max_attempts, result_template, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BindingID, b.SourceFileRef, b.SourceSheet, b.State,
		b.ConcurrencyLimit, b.MaxAttempts, b.ResultTemplate, b.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (id, batch_id, source_row_index, inputs, state, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		inputsJSON, err := json.Marshal(t.Inputs)
		if err != nil {
			return fmt.Errorf("failed to marshal task inputs: %w", err)
		}
		t.CreatedAt = b.CreatedAt
		if _, err := stmt.ExecContext(ctx, t.ID, t.BatchID, t.SourceRowIndex, inputsJSON, t.State, t.MaxAttempts, t.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to store task for row %d: %w", t.SourceRowIndex, err)
		}
	}

	return tx.Commit()
}

// GetBatch fetches a batch by id.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, binding_id, source_file_ref, source_sheet, state, concurrency_limit, max_attempts, result_template, created_at, started_at, finished_at
		FROM batches WHERE id = ?`, id)
	return scanBatch(row)
}

// ListBatches returns all batches ordered by creation time.
func (s *SQLiteStore) ListBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, binding_id, source_file_ref, source_sheet, state, concurrency_limit, max_attempts, result_template, created_at, started_at, finished_at
		FROM batches ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatchState transitions the batch state, guarded by allowed source
// states.
func (s *SQLiteStore) UpdateBatchState(ctx context.Context, id string, from []BatchState, to BatchState) error {
	placeholders := make([]string, len(from))
	args := []any{to}
	now := time.Now().UnixNano()

	var timestamps string
	switch to {
	case BatchRunning:
		timestamps = ", started_at = COALESCE(started_at, ?)"
		args = append(args, now)
	case BatchCompleted, BatchFailed:
		timestamps = ", finished_at = ?"
		args = append(args, now)
	}

	args = append(args, id)
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st)
	}

	query := fmt.Sprintf(
		`UPDATE batches SET state = ?%s WHERE id = ? AND state IN (%s)`,
		timestamps, strings.Join(placeholders, ", "),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update batch state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing batch from a disallowed transition.
		if _, gerr := s.GetBatch(ctx, id); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

// BatchCounts aggregates the batch's tasks by state.
func (s *SQLiteStore) BatchCounts(ctx context.Context, id string) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM tasks WHERE batch_id = ? GROUP BY state`, id)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var state TaskState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, err
		}
		counts.Total += n
		switch state {
		case TaskPending:
			counts.Pending = n
		case TaskRunning:
			counts.Running = n
		case TaskSucceeded:
			counts.Succeeded = n
		case TaskFailed:
			counts.Failed = n
		case TaskCancelled:
			counts.Cancelled = n
		}
	}
	return counts, rows.Err()
}

// BatchesInState lists batches currently in the given state.
func (s *SQLiteStore) BatchesInState(ctx context.Context, state BatchState) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, binding_id, source_file_ref, source_sheet, state, concurrency_limit, max_attempts, result_template, created_at, started_at, finished_at
		FROM batches WHERE state = ? ORDER BY created_at`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches by state: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// --- tasks ---

// ClaimNextPending atomically claims the lowest-row pending task. The
// claim is a single UPDATE so concurrent workers serialize on the write
// lock instead of racing a read-then-write transaction into SQLITE_BUSY.
func (s *SQLiteStore) ClaimNextPending(ctx context.Context, batchID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET state = ?, attempts = attempts + 1, started_at = COALESCE(started_at, ?)
		WHERE id = (
			SELECT id FROM tasks
			WHERE batch_id = ? AND state = ?
			ORDER BY source_row_index
			LIMIT 1
		)
		RETURNING id, batch_id, source_row_index, inputs, state, attempts, max_attempts, external_run_id, output, error_kind, error_detail, created_at, started_at, finished_at`,
		TaskRunning, time.Now().UnixNano(), batchID, TaskPending,
	)
	return scanTask(row)
}

// MarkTaskSucceeded transitions a running task to succeeded.
func (s *SQLiteStore) MarkTaskSucceeded(ctx context.Context, id, externalRunID, output string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, external_run_id = ?, output = ?, error_kind = NULL, error_detail = NULL, finished_at = ?
		WHERE id = ? AND state = ?`,
		TaskSucceeded, externalRunID, output, time.Now().UnixNano(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return requireRow(res)
}

// MarkTaskFailed transitions a running task to failed.
func (s *SQLiteStore) MarkTaskFailed(ctx context.Context, id, externalRunID, errorKind, errorDetail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, external_run_id = COALESCE(NULLIF(?, ''), external_run_id), error_kind = ?, error_detail = ?, finished_at = ?
		WHERE id = ? AND state = ?`,
		TaskFailed, externalRunID, errorKind, errorDetail, time.Now().UnixNano(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return requireRow(res)
}

// MarkTaskCancelled transitions a pending or running task to cancelled.
func (s *SQLiteStore) MarkTaskCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, error_kind = ?, finished_at = ?
		WHERE id = ? AND state IN (?, ?)`,
		TaskCancelled, "cancelled", time.Now().UnixNano(), id, TaskPending, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task cancelled: %w", err)
	}
	return requireRow(res)
}

// RequeueTask transitions a running task back to pending for retry.
func (s *SQLiteStore) RequeueTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ? WHERE id = ? AND state = ?`,
		TaskPending, id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	return requireRow(res)
}

// ResetRunningTasks moves all running tasks of a batch back to pending.
func (s *SQLiteStore) ResetRunningTasks(ctx context.Context, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ? WHERE batch_id = ? AND state = ?`,
		TaskPending, batchID, TaskRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CancelRemainingTasks moves all pending tasks of a batch to cancelled.
func (s *SQLiteStore) CancelRemainingTasks(ctx context.Context, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, error_kind = ?, finished_at = ?
		WHERE batch_id = ? AND state = ?`,
		TaskCancelled, "cancelled", time.Now().UnixNano(), batchID, TaskPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel remaining tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetTask fetches a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, source_row_index, inputs, state, attempts, max_attempts, external_run_id, output, error_kind, error_detail, created_at, started_at, finished_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns the batch's tasks ordered by source row index.
func (s *SQLiteStore) ListTasks(ctx context.Context, batchID string, filter TaskFilter) ([]*Task, error) {
	query := `
		SELECT id, batch_id, source_row_index, inputs, state, attempts, max_attempts, external_run_id, output, error_kind, error_detail, created_at, started_at, finished_at
		FROM tasks WHERE batch_id = ?`
	args := []any{batchID}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	query += " ORDER BY source_row_index"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- scanning helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanBinding(row scannable) (*workflow.Binding, error) {
	var b workflow.Binding
	var description, schemaJSON sql.NullString
	var syncedAt sql.NullInt64
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(&b.ID, &b.Name, &description, &b.BaseURL, &b.Credential,
		&schemaJSON, &syncedAt, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan binding: %w", err)
	}

	b.Description = description.String
	b.Active = active != 0
	b.CreatedAt = time.Unix(0, createdAt)
	b.UpdatedAt = time.Unix(0, updatedAt)
	if syncedAt.Valid {
		t := time.Unix(0, syncedAt.Int64)
		b.SyncedAt = &t
	}
	if schemaJSON.Valid && schemaJSON.String != "" {
		var schema workflow.Schema
		if err := json.Unmarshal([]byte(schemaJSON.String), &schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal binding schema: %w", err)
		}
		b.Schema = &schema
	}
	return &b, nil
}

func scanBatch(row scannable) (*Batch, error) {
	var b Batch
	var bindingID, sourceFileRef, resultTemplate sql.NullString
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(&b.ID, &bindingID, &sourceFileRef, &b.SourceSheet, &b.State,
		&b.ConcurrencyLimit, &b.MaxAttempts, &resultTemplate, &createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	b.BindingID = bindingID.String
	b.SourceFileRef = sourceFileRef.String
	b.ResultTemplate = resultTemplate.String
	b.CreatedAt = time.Unix(0, createdAt)
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		b.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		b.FinishedAt = &t
	}
	return &b, nil
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var inputsJSON string
	var externalRunID, output, errorKind, errorDetail sql.NullString
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(&t.ID, &t.BatchID, &t.SourceRowIndex, &inputsJSON, &t.State,
		&t.Attempts, &t.MaxAttempts, &externalRunID, &output, &errorKind, &errorDetail,
		&createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if err := json.Unmarshal([]byte(inputsJSON), &t.Inputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task inputs: %w", err)
	}
	t.ExternalRunID = externalRunID.String
	t.Output = output.String
	t.ErrorKind = errorKind.String
	t.ErrorDetail = errorDetail.String
	t.CreatedAt = time.Unix(0, createdAt)
	if startedAt.Valid {
		ts := time.Unix(0, startedAt.Int64)
		t.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := time.Unix(0, finishedAt.Int64)
		t.FinishedAt = &ts
	}
	return &t, nil
}

func marshalSchema(schema *workflow.Schema) (any, error) {
	if schema == nil {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}

func timePtrToUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
