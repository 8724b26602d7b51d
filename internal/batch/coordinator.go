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

// Package batch runs batches: the coordinator owns batch lifecycle, the
// dispatcher drains one batch's tasks through a bounded worker pool, and
// the broadcaster fans progress events out to subscribers.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/batchflow/internal/config"
	"github.com/tombee/batchflow/internal/log"
	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/render"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

// ErrInvalidState is returned when a lifecycle operation is not valid for
// the batch's current state.
var ErrInvalidState = errors.New("invalid batch state for operation")

// NewClientFunc builds a remote client for one call against a binding.
type NewClientFunc func(baseURL, credential string, timeout time.Duration) RunClient

func defaultNewClient(baseURL, credential string, timeout time.Duration) RunClient {
	return remote.NewClient(baseURL, credential, remote.WithTimeout(timeout))
}

// Coordinator owns batch lifecycle: it persists batch state transitions,
// runs one dispatcher per active batch and completes batches when their
// tasks drain.
type Coordinator struct {
	store     store.Store
	cfg       *config.Config
	events    *Broadcaster
	renderer  *render.Renderer
	logger    *slog.Logger
	newClient NewClientFunc

	limiter     *rate.Limiter
	globalSlots chan struct{}

	mu     sync.Mutex
	active map[string]*activeBatch
	wg     sync.WaitGroup
}

type activeBatch struct {
	dispatcher *dispatcher
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNewClient overrides remote client construction. Used by tests.
func WithNewClient(fn NewClientFunc) Option {
	return func(c *Coordinator) { c.newClient = fn }
}

// WithBroadcaster supplies a shared event broadcaster.
func WithBroadcaster(b *Broadcaster) Option {
	return func(c *Coordinator) { c.events = b }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(st store.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     st,
		cfg:       cfg,
		renderer:  render.New(),
		logger:    log.WithComponent(logger, "coordinator"),
		newClient: defaultNewClient,
		active:    make(map[string]*activeBatch),
	}
	if cfg.Dispatch.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.RatePerSecond), 1)
	}
	if cfg.MaxConcurrentTasks > 0 {
		c.globalSlots = make(chan struct{}, cfg.MaxConcurrentTasks)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = NewBroadcaster()
	}
	return c
}

// Events returns the coordinator's progress broadcaster.
func (c *Coordinator) Events() *Broadcaster {
	return c.events
}

// Renderer returns the shared result-template renderer, so batch creation
// can validate templates against the same compiler cache.
func (c *Coordinator) Renderer() *render.Renderer {
	return c.renderer
}

// Start moves a batch from created or paused to running and begins
// dispatching its pending tasks. Starting a batch that is already running
// is a no-op.
func (c *Coordinator) Start(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}

	switch batch.State {
	case store.BatchRunning:
		return nil
	case store.BatchCreated, store.BatchPaused:
	default:
		return fmt.Errorf("%w: cannot start batch in state %s", ErrInvalidState, batch.State)
	}

	err = c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchCreated, store.BatchPaused}, store.BatchRunning)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent start; treat as already running.
		return nil
	}
	if err != nil {
		return err
	}

	batch.State = store.BatchRunning
	c.publishState(batch.ID, store.BatchRunning)
	return c.launch(ctx, batch)
}

// Pause moves a running batch to paused. Workers finish their in-flight
// tasks but claim no new ones.
func (c *Coordinator) Pause(ctx context.Context, batchID string) error {
	err := c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchRunning}, store.BatchPaused)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: batch is not running", ErrInvalidState)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if ab, ok := c.active[batchID]; ok {
		ab.dispatcher.pause()
	}
	c.mu.Unlock()

	c.publishState(batchID, store.BatchPaused)
	return nil
}

// Resume moves a paused batch back to running.
func (c *Coordinator) Resume(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State != store.BatchPaused {
		return fmt.Errorf("%w: cannot resume batch in state %s", ErrInvalidState, batch.State)
	}
	return c.Start(ctx, batchID)
}

// Cancel moves a non-terminal batch to cancelling, aborts in-flight calls
// and cancels remaining pending tasks. Cancelling a batch that already
// reached a terminal state is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, batchID string) error {
	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.State.Terminal() {
		return nil
	}

	err = c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchCreated, store.BatchRunning, store.BatchPaused},
		store.BatchCancelling)
	if errors.Is(err, store.ErrConflict) {
		// Already cancelling or finished meanwhile.
		return nil
	}
	if err != nil {
		return err
	}
	c.publishState(batchID, store.BatchCancelling)

	c.mu.Lock()
	ab, running := c.active[batchID]
	c.mu.Unlock()

	if running {
		// The dispatcher's finish path completes the batch after drain. If
		// its workers had already drained when the cancel landed, that path
		// may have run before the context was cancelled and left the batch
		// in cancelling; settle it once the dispatcher is gone.
		ab.cancel()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			<-ab.done

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b, err := c.store.GetBatch(ctx, batchID)
			if err != nil {
				c.logger.Error("failed to check cancelled batch",
					slog.String(log.BatchIDKey, batchID), log.Error(err))
				return
			}
			if b.State != store.BatchCancelling {
				return
			}
			if err := c.finishCancelled(ctx, batchID); err != nil {
				c.logger.Error("failed to finish cancelled batch",
					slog.String(log.BatchIDKey, batchID), log.Error(err))
			}
		}()
		return nil
	}

	// No dispatcher holds the batch (created or paused with nothing in
	// flight), so finish it here.
	return c.finishCancelled(ctx, batchID)
}

// Recover re-materializes interrupted batches after process restart:
// running batches have their running tasks reset to pending and are
// restarted, cancelling batches are driven to completed.
func (c *Coordinator) Recover(ctx context.Context) error {
	running, err := c.store.BatchesInState(ctx, store.BatchRunning)
	if err != nil {
		return fmt.Errorf("list running batches: %w", err)
	}
	for _, b := range running {
		moved, err := c.store.ResetRunningTasks(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("reset tasks for batch %s: %w", b.ID, err)
		}
		c.logger.Info("recovering interrupted batch",
			slog.String(log.BatchIDKey, b.ID),
			slog.Int("requeued", moved))
		if err := c.launch(ctx, b); err != nil {
			return err
		}
	}

	cancelling, err := c.store.BatchesInState(ctx, store.BatchCancelling)
	if err != nil {
		return fmt.Errorf("list cancelling batches: %w", err)
	}
	for _, b := range cancelling {
		if _, err := c.store.ResetRunningTasks(ctx, b.ID); err != nil {
			return fmt.Errorf("reset tasks for batch %s: %w", b.ID, err)
		}
		if err := c.finishCancelled(ctx, b.ID); err != nil {
			return err
		}
		c.logger.Info("completed interrupted cancellation",
			slog.String(log.BatchIDKey, b.ID))
	}
	return nil
}

// Wait blocks until every active dispatcher has drained or the context
// expires.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops all dispatchers from claiming new work and waits for
// in-flight tasks. Batches stay running in the store; Recover resumes
// them on the next boot.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, ab := range c.active {
		ab.dispatcher.pause()
	}
	c.mu.Unlock()
	return c.Wait(ctx)
}

// launch spawns the dispatcher goroutine for a batch already persisted as
// running. The dispatcher runs detached from the caller's context; only
// Cancel stops it early.
func (c *Coordinator) launch(ctx context.Context, batch *store.Batch) error {
	// A paused dispatcher may still be draining its in-flight tasks; wait
	// for it so two pools never run the same batch.
	c.mu.Lock()
	prev, exists := c.active[batch.ID]
	c.mu.Unlock()
	if exists {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	binding, err := c.store.GetBinding(ctx, batch.BindingID)
	if err != nil {
		c.failBatch(ctx, batch.ID, fmt.Errorf("load binding %s: %w", batch.BindingID, err))
		return fmt.Errorf("load binding %s: %w", batch.BindingID, err)
	}

	maxAttempts := batch.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.Dispatch.MaxAttempts
	}

	d := &dispatcher{
		batch:     batch,
		store:     c.store,
		renderer:  c.renderer,
		events:    c.events,
		logger:    log.WithComponent(c.logger, "dispatcher"),
		newClient: c.clientFactory(binding),
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   c.cfg.Dispatch.BaseDelay,
			Multiplier:  c.cfg.Dispatch.Multiplier,
			MaxDelay:    c.cfg.Dispatch.MaxDelay,
		},
		limiter:     c.limiter,
		globalSlots: c.globalSlots,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ab := &activeBatch{dispatcher: d, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if _, raced := c.active[batch.ID]; raced {
		// Another start won; one dispatcher per batch.
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.active[batch.ID] = ab
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer close(ab.done)

		stopProgress := c.startProgress(batch.ID)
		d.run(runCtx)
		stopProgress()

		c.finish(batch.ID, runCtx.Err() != nil)

		c.mu.Lock()
		delete(c.active, batch.ID)
		c.mu.Unlock()
	}()
	return nil
}

func (c *Coordinator) clientFactory(binding *workflow.Binding) ClientFactory {
	baseURL := binding.BaseURL
	credential := binding.Credential
	timeout := c.cfg.Dispatch.RequestTimeout
	return func() RunClient {
		return c.newClient(baseURL, credential, timeout)
	}
}

// finish settles a batch's state after its dispatcher returns: cancelled
// runs cancel their leftovers, drained runs complete, paused runs stay
// paused.
func (c *Coordinator) finish(batchID string, cancelled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cancelled {
		if err := c.finishCancelled(ctx, batchID); err != nil {
			c.logger.Error("failed to finish cancelled batch",
				slog.String(log.BatchIDKey, batchID), log.Error(err))
		}
		return
	}

	counts, err := c.store.BatchCounts(ctx, batchID)
	if err != nil {
		c.logger.Error("failed to read batch counts",
			slog.String(log.BatchIDKey, batchID), log.Error(err))
		return
	}
	if !counts.Done() {
		// Paused, or shut down mid-run; the batch resumes later.
		return
	}

	err = c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchRunning, store.BatchCancelling}, store.BatchCompleted)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		c.logger.Error("failed to complete batch",
			slog.String(log.BatchIDKey, batchID), log.Error(err))
		return
	}
	if err == nil {
		c.publishProgress(batchID, &counts)
		c.publishState(batchID, store.BatchCompleted)
		c.logger.Info("batch completed",
			slog.String(log.BatchIDKey, batchID),
			slog.Int("succeeded", counts.Succeeded),
			slog.Int("failed", counts.Failed),
			slog.Int("cancelled", counts.Cancelled))
	}
}

// finishCancelled cancels a batch's remaining pending tasks and completes
// it.
func (c *Coordinator) finishCancelled(ctx context.Context, batchID string) error {
	moved, err := c.store.CancelRemainingTasks(ctx, batchID)
	if err != nil {
		return fmt.Errorf("cancel remaining tasks: %w", err)
	}

	err = c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchCancelling}, store.BatchCompleted)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("complete cancelled batch: %w", err)
	}

	c.logger.Info("batch cancelled",
		slog.String(log.BatchIDKey, batchID),
		slog.Int("cancelled_pending", moved))
	c.publishState(batchID, store.BatchCompleted)
	return nil
}

// failBatch records an unrecoverable coordinator error against the batch.
func (c *Coordinator) failBatch(ctx context.Context, batchID string, cause error) {
	c.logger.Error("batch failed",
		slog.String(log.BatchIDKey, batchID), log.Error(cause))

	err := c.store.UpdateBatchState(ctx, batchID,
		[]store.BatchState{store.BatchCreated, store.BatchRunning, store.BatchPaused},
		store.BatchFailed)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		c.logger.Error("failed to mark batch failed",
			slog.String(log.BatchIDKey, batchID), log.Error(err))
		return
	}
	c.publishState(batchID, store.BatchFailed)
}

// startProgress emits a debounced batch_progress event at most once per
// tick while the dispatcher runs. Returns a stop function.
func (c *Coordinator) startProgress(batchID string) func() {
	tick := c.cfg.ProgressTick
	if tick <= 0 {
		tick = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		var last store.Counts
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), tick)
				counts, err := c.store.BatchCounts(ctx, batchID)
				cancel()
				if err != nil || counts == last {
					continue
				}
				last = counts
				c.publishProgress(batchID, &counts)
			}
		}
	}()
	return func() { close(done) }
}

func (c *Coordinator) publishState(batchID string, state store.BatchState) {
	c.events.Publish(Event{
		Type:       EventBatchStateChanged,
		BatchID:    batchID,
		BatchState: state,
	})
}

func (c *Coordinator) publishProgress(batchID string, counts *store.Counts) {
	c.events.Publish(Event{
		Type:    EventBatchProgress,
		BatchID: batchID,
		Counts:  counts,
	})
}
