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

// Package metrics exposes prometheus collectors for the batch core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_tasks_completed_total",
			Help: "Tasks reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	tasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchflow_tasks_running",
			Help: "Tasks currently executing a remote call",
		},
	)

	remoteCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchflow_remote_call_duration_seconds",
			Help:    "Duration of remote workflow calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	tasksRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchflow_tasks_retried_total",
			Help: "Tasks requeued after a retryable failure",
		},
	)

	remoteCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_remote_call_errors_total",
			Help: "Failed remote workflow calls by error kind",
		},
		[]string{"kind"},
	)
)

// TaskStarted records a task entering execution.
func TaskStarted() {
	tasksRunning.Inc()
}

// TaskFinished records a task leaving execution with a terminal state.
func TaskFinished(state string) {
	tasksRunning.Dec()
	tasksCompleted.WithLabelValues(state).Inc()
}

// TaskRequeued records a task leaving execution for another attempt.
func TaskRequeued() {
	tasksRunning.Dec()
	tasksRetried.Inc()
}

// RemoteCall records one remote workflow call.
func RemoteCall(duration time.Duration, errorKind string) {
	remoteCallDuration.Observe(duration.Seconds())
	if errorKind != "" {
		remoteCallErrors.WithLabelValues(errorKind).Inc()
	}
}
