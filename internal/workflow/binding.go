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

// Package workflow defines workflow bindings and their cached parameter
// schemas. A binding identifies one remote workflow: endpoint base URL,
// credential and the schema used to validate input rows and shape templates.
package workflow

import (
	"fmt"
	"strconv"
	"time"
)

// ParameterType is the type of a workflow input parameter.
type ParameterType string

const (
	ParameterString    ParameterType = "string"
	ParameterNumber    ParameterType = "number"
	ParameterSelect    ParameterType = "select"
	ParameterParagraph ParameterType = "paragraph"
	ParameterFile      ParameterType = "file"
)

// Parameter describes one input parameter of a remote workflow.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
	Default     string        `json:"default,omitempty"`
	Options     []string      `json:"options,omitempty"`
}

// Schema is the cached parameter schema of a binding. It is the authoritative
// description used by template generation, row validation and result
// assembly. It is never inferred from row content.
type Schema struct {
	Parameters []Parameter `json:"parameters"`
}

// Parameter returns the parameter with the given name, or nil.
func (s *Schema) Parameter(name string) *Parameter {
	for i := range s.Parameters {
		if s.Parameters[i].Name == name {
			return &s.Parameters[i]
		}
	}
	return nil
}

// Names returns the parameter names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Parameters))
	for i, p := range s.Parameters {
		names[i] = p.Name
	}
	return names
}

// Binding is a registered remote workflow: endpoint, credential and cached
// schema. Bindings outlive batches; the schema is mutated only by an
// explicit sync.
type Binding struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	BaseURL     string     `json:"base_url"`
	Credential  string     `json:"-"`
	Schema      *Schema    `json:"schema,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FieldError describes a single invalid field in an input row.
type FieldError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("row %d: field %q: %s", e.Row, e.Field, e.Message)
}

// ValidateRow checks one input row against the schema. The row index is the
// absolute position of the row in the source sheet and is carried into
// every reported error.
func (s *Schema) ValidateRow(row int, inputs map[string]string) []FieldError {
	var errs []FieldError
	for _, p := range s.Parameters {
		value, ok := inputs[p.Name]
		if !ok || value == "" {
			if p.Required {
				errs = append(errs, FieldError{
					Row:     row,
					Field:   p.Name,
					Message: "required parameter is missing",
				})
			}
			continue
		}

		switch p.Type {
		case ParameterNumber:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				errs = append(errs, FieldError{
					Row:     row,
					Field:   p.Name,
					Message: fmt.Sprintf("value %q is not a number", value),
				})
			}
		case ParameterSelect:
			if len(p.Options) > 0 && !contains(p.Options, value) {
				errs = append(errs, FieldError{
					Row:     row,
					Field:   p.Name,
					Message: fmt.Sprintf("value %q is not one of %v", value, p.Options),
				})
			}
		}
	}
	return errs
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
