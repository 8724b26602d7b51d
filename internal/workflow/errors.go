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

package workflow

import "fmt"

// NotFoundError is returned when a binding does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("binding not found: %s", e.ID)
}

// InUseError is returned when a binding cannot be deleted because a
// non-terminal batch still references it.
type InUseError struct {
	ID      string
	Batches int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("binding %s is in use by %d active batch(es)", e.ID, e.Batches)
}

// AuthError is returned when the remote service rejects the credential.
type AuthError struct {
	BaseURL string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential rejected by %s", e.BaseURL)
}

// UnreachableError is returned on transport failure to the remote service.
type UnreachableError struct {
	BaseURL string
	Cause   error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("endpoint %s unreachable: %v", e.BaseURL, e.Cause)
}

func (e *UnreachableError) Unwrap() error { return e.Cause }

// ProtocolError is returned when the remote schema response is malformed.
type ProtocolError struct {
	BaseURL string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.BaseURL, e.Detail)
}
