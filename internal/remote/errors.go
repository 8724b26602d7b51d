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

package remote

import "fmt"

// ErrorKind classifies a failed remote workflow call. The taxonomy drives
// the dispatcher's retry decision and the diagnostic written to the result
// sheet.
type ErrorKind string

const (
	// KindValidation marks rows rejected before dispatch.
	KindValidation ErrorKind = "validation"
	// KindTransport marks connect/TLS/read failures.
	KindTransport ErrorKind = "transport"
	// KindTimeout marks a per-call deadline exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindRetryable marks HTTP 5xx, 408 and 429 responses.
	KindRetryable ErrorKind = "retryable"
	// KindPermanent marks HTTP 4xx responses other than 408/429.
	KindPermanent ErrorKind = "permanent"
	// KindApplication marks a 2xx response whose workflow status is failed.
	KindApplication ErrorKind = "application"
	// KindProtocol marks malformed remote responses.
	KindProtocol ErrorKind = "protocol"
	// KindCancelled marks tasks abandoned by batch cancellation.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the dispatcher may re-dispatch a call that
// failed with this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransport, KindTimeout, KindRetryable:
		return true
	default:
		return false
	}
}

// CallError is the error returned by Client.Run. It always carries a kind
// from the taxonomy above.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Detail     string
	Cause      error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("workflow call failed (%s)", e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Cause }

// KindOf extracts the error kind from an error, bucketing anything
// unexpected as protocol so a surprising failure can never crash a worker
// retry decision.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ce, ok := err.(*CallError); ok {
		return ce.Kind
	}
	return KindProtocol
}
