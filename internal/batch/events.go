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
	"sync"
	"time"

	"github.com/tombee/batchflow/internal/store"
)

// EventType identifies a progress event.
type EventType string

const (
	EventTaskStarted       EventType = "task_started"
	EventTaskSucceeded     EventType = "task_succeeded"
	EventTaskFailed        EventType = "task_failed"
	EventBatchStateChanged EventType = "batch_state_changed"
	EventBatchProgress     EventType = "batch_progress"
)

// Event is one progress notification. Events for a single task are totally
// ordered; no ordering is guaranteed across tasks. Each event is emitted
// only after the state transition it reports has been persisted.
type Event struct {
	Type           EventType        `json:"type"`
	BatchID        string           `json:"batch_id"`
	TaskID         string           `json:"task_id,omitempty"`
	SourceRowIndex int              `json:"source_row_index,omitempty"`
	BatchState     store.BatchState `json:"batch_state,omitempty"`
	Counts         *store.Counts    `json:"counts,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Broadcaster fans progress events out to subscribers. The core produces
// events from many workers; consumption transport is the subscriber's
// concern.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for a batch, and an
// unsubscribe function. An empty batch id subscribes to all batches.
// Slow subscribers drop events rather than block workers.
func (b *Broadcaster) Subscribe(batchID string) (<-chan Event, func()) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[batchID] = append(b.subscribers[batchID], ch)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[batchID]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[batchID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsub
}

// Publish delivers an event to the batch's subscribers and the all-batches
// subscribers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Sends stay under the read lock: they are non-blocking, and unsubscribe
	// closes the channel under the write lock, so a send can never race a
	// close.
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.send(b.subscribers[event.BatchID], event)
	if event.BatchID != "" {
		b.send(b.subscribers[""], event)
	}
}

func (b *Broadcaster) send(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
