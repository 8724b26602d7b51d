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
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/batchflow/internal/log"
	"github.com/tombee/batchflow/internal/metrics"
	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/render"
	"github.com/tombee/batchflow/internal/store"
)

// RetryPolicy controls re-dispatch of retryable task failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Backoff computes the delay before re-dispatching after the given attempt
// count, with exponential growth and ±25% jitter.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	jitter := backoff * 0.25 * (2*rand.Float64() - 1)
	return time.Duration(backoff + jitter)
}

// RunClient is the per-call remote client contract. Satisfied by
// *remote.Client; each task call constructs a fresh instance and closes it,
// so no transport state is ever shared between concurrent tasks.
type RunClient interface {
	Run(ctx context.Context, inputs map[string]any) (*remote.RunResult, error)
	Close()
}

// ClientFactory builds a fresh client for one call against the batch's
// binding.
type ClientFactory func() RunClient

// dispatcher drains one batch's pending tasks through a bounded worker
// pool. It is the single writer of task state transitions out of running.
type dispatcher struct {
	batch     *store.Batch
	store     store.Store
	newClient ClientFactory
	renderer  *render.Renderer
	policy    RetryPolicy
	events    *Broadcaster
	logger    *slog.Logger

	// limiter throttles remote calls process-wide; nil disables.
	limiter *rate.Limiter
	// globalSlots bounds tasks in flight across all batches; nil disables.
	globalSlots chan struct{}

	paused atomic.Bool
}

// pause stops workers from claiming new tasks. In-flight tasks run to a
// terminal state.
func (d *dispatcher) pause() {
	d.paused.Store(true)
}

// run executes workers until the batch drains, pauses or is cancelled.
// The context is cancelled only by batch cancellation, never by pause.
func (d *dispatcher) run(ctx context.Context) {
	workers := d.batch.ConcurrencyLimit
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
}

// Claim errors are retried so a transient storage hiccup cannot kill a
// worker and strand its share of the batch.
const (
	claimRetryDelay  = 100 * time.Millisecond
	maxClaimFailures = 5
)

// worker claims pending tasks in ascending source row order until none
// remain or the dispatcher is stopped.
func (d *dispatcher) worker(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil || d.paused.Load() {
			return
		}

		task, err := d.store.ClaimNextPending(ctx, d.batch.ID)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= maxClaimFailures {
				d.logger.Error("task claim failed, worker giving up", log.Error(err))
				return
			}
			d.logger.Warn("task claim failed, retrying", log.Error(err))
			select {
			case <-time.After(claimRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0

		d.execute(ctx, task)
	}
}

// execute runs one claimed task to a terminal state or requeues it for
// retry. The claim has already been persisted with the task in running.
func (d *dispatcher) execute(ctx context.Context, task *store.Task) {
	logger := log.WithTaskContext(d.logger, task.BatchID, task.ID, task.SourceRowIndex)

	// A cancel that landed between claim and dispatch abandons the task
	// without a remote call.
	if ctx.Err() != nil {
		d.cancelTask(ctx, task, logger)
		return
	}

	metrics.TaskStarted()
	d.events.Publish(Event{
		Type:           EventTaskStarted,
		BatchID:        task.BatchID,
		TaskID:         task.ID,
		SourceRowIndex: task.SourceRowIndex,
	})

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.cancelTask(ctx, task, logger)
			metrics.TaskFinished(string(store.TaskCancelled))
			return
		}
	}

	if d.globalSlots != nil {
		select {
		case d.globalSlots <- struct{}{}:
			defer func() { <-d.globalSlots }()
		case <-ctx.Done():
			d.cancelTask(ctx, task, logger)
			metrics.TaskFinished(string(store.TaskCancelled))
			return
		}
	}

	result, err := d.call(ctx, task)
	if err == nil {
		d.succeed(ctx, task, result, logger)
		return
	}

	kind := remote.KindOf(err)

	// A timeout while the batch is cancelling is the cancellation signal;
	// the call's outcome is discarded.
	if ctx.Err() != nil {
		d.cancelTask(ctx, task, logger)
		metrics.TaskFinished(string(store.TaskCancelled))
		return
	}

	if kind.Retryable() && task.Attempts < task.MaxAttempts {
		d.retry(ctx, task, kind, logger)
		return
	}

	d.fail(ctx, task, result, kind, err, logger)
}

// call issues the remote workflow call with a fresh client under the
// per-call deadline.
func (d *dispatcher) call(ctx context.Context, task *store.Task) (*remote.RunResult, error) {
	inputs := make(map[string]any, len(task.Inputs))
	for k, v := range task.Inputs {
		inputs[k] = v
	}

	client := d.newClient()
	defer client.Close()

	start := time.Now()
	result, err := client.Run(ctx, inputs)

	kind := ""
	if err != nil {
		kind = string(remote.KindOf(err))
	}
	metrics.RemoteCall(time.Since(start), kind)
	return result, err
}

func (d *dispatcher) succeed(ctx context.Context, task *store.Task, result *remote.RunResult, logger *slog.Logger) {
	output, renderErr := d.renderer.Render(d.batch.ResultTemplate, task.Inputs, result)
	if renderErr != nil {
		logger.Warn("result template failed, using extracted output", log.Error(renderErr))
	}

	if err := d.store.MarkTaskSucceeded(ctx, task.ID, result.ExternalRunID, output); err != nil {
		logger.Error("failed to persist task success", log.Error(err))
		return
	}

	metrics.TaskFinished(string(store.TaskSucceeded))
	d.events.Publish(Event{
		Type:           EventTaskSucceeded,
		BatchID:        task.BatchID,
		TaskID:         task.ID,
		SourceRowIndex: task.SourceRowIndex,
	})
	logger.Info("task succeeded",
		slog.Int("attempts", task.Attempts),
		log.Duration("call", result.ElapsedMS))
}

func (d *dispatcher) retry(ctx context.Context, task *store.Task, kind remote.ErrorKind, logger *slog.Logger) {
	delay := d.policy.Backoff(task.Attempts)
	logger.Warn("task failed, retrying",
		slog.String(log.ErrorKindKey, string(kind)),
		slog.Int("attempts", task.Attempts),
		slog.Duration("backoff", delay))

	// The worker holds the task through the backoff, so it still counts
	// against the batch's concurrency limit.
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		d.cancelTask(ctx, task, logger)
		metrics.TaskFinished(string(store.TaskCancelled))
		return
	}

	if err := d.store.RequeueTask(ctx, task.ID); err != nil {
		logger.Error("failed to requeue task", log.Error(err))
	}
	metrics.TaskRequeued()
}

func (d *dispatcher) fail(ctx context.Context, task *store.Task, result *remote.RunResult, kind remote.ErrorKind, callErr error, logger *slog.Logger) {
	detail := callErr.Error()
	var ce *remote.CallError
	if errors.As(callErr, &ce) && ce.Detail != "" {
		detail = ce.Detail
	}

	externalRunID := ""
	if result != nil {
		externalRunID = result.ExternalRunID
	}

	if err := d.store.MarkTaskFailed(ctx, task.ID, externalRunID, string(kind), detail); err != nil {
		logger.Error("failed to persist task failure", log.Error(err))
		return
	}

	metrics.TaskFinished(string(store.TaskFailed))
	d.events.Publish(Event{
		Type:           EventTaskFailed,
		BatchID:        task.BatchID,
		TaskID:         task.ID,
		SourceRowIndex: task.SourceRowIndex,
		ErrorKind:      string(kind),
	})
	logger.Warn("task failed",
		slog.String(log.ErrorKindKey, string(kind)),
		slog.Int("attempts", task.Attempts))
}

// cancelTask abandons a claimed task during batch cancellation. Persistence
// uses a fresh context because the batch context is already cancelled.
func (d *dispatcher) cancelTask(ctx context.Context, task *store.Task, logger *slog.Logger) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := d.store.MarkTaskCancelled(persistCtx, task.ID); err != nil {
		logger.Error("failed to persist task cancellation", log.Error(err))
		return
	}
	logger.Info("task cancelled")
}
