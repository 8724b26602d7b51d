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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterRoutesByBatch(t *testing.T) {
	b := NewBroadcaster()

	ch1, unsub1 := b.Subscribe("batch-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("batch-2")
	defer unsub2()

	b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-1", TaskID: "t1"})

	ev := <-ch1
	require.Equal(t, "t1", ev.TaskID)
	require.False(t, ev.Timestamp.IsZero())
	require.Empty(t, ch2)
}

func TestBroadcasterAllBatchesSubscription(t *testing.T) {
	b := NewBroadcaster()

	all, unsub := b.Subscribe("")
	defer unsub()

	b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-1"})
	b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-2"})

	require.Equal(t, "batch-1", (<-all).BatchID)
	require.Equal(t, "batch-2", (<-all).BatchID)
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()

	ch, unsub := b.Subscribe("batch-1")
	unsub()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-1"})
}

func TestBroadcasterConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	// Publishers racing subscribers that unsubscribe mid-stream must never
	// send on a closed channel.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-1"})
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		ch, unsub := b.Subscribe("batch-1")
		select {
		case <-ch:
		default:
		}
		unsub()
	}

	close(stop)
	wg.Wait()
}

func TestBroadcasterDropsWhenSubscriberLags(t *testing.T) {
	b := NewBroadcaster()

	ch, unsub := b.Subscribe("batch-1")
	defer unsub()

	// Overfill the subscriber buffer without draining it; the excess must
	// be dropped rather than block the publisher.
	for i := 0; i < 150; i++ {
		b.Publish(Event{Type: EventTaskStarted, BatchID: "batch-1", TaskID: fmt.Sprintf("t%d", i)})
	}

	require.Len(t, ch, 100)
	require.Equal(t, "t0", (<-ch).TaskID)
}
