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

package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/batchflow/internal/remote"
)

func runResult(t *testing.T, data string) *remote.RunResult {
	t.Helper()
	o := &remote.Ordered{}
	require.NoError(t, json.Unmarshal([]byte(data), o))
	return &remote.RunResult{
		ExternalRunID: "run-1",
		Data:          o,
		Status:        remote.StatusSucceeded,
	}
}

func TestRenderEmptyTemplateExtracts(t *testing.T) {
	r := New()

	text, err := r.Render("", nil, runResult(t, `{"outputs": {"text": "hello"}}`))
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestRenderExpr(t *testing.T) {
	r := New()
	res := runResult(t, `{"outputs": {"answer": "42", "reason": "it just is"}}`)
	inputs := map[string]string{"q": "meaning of life"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"output variable", `upper(output)`, "42\nIT JUST IS"},
		{"outputs lookup", `outputs.answer`, "42"},
		{"inputs in scope", `inputs.q + ": " + outputs.answer`, "meaning of life: 42"},
		{"undefined resolves to nil-safe expression", `outputs.missing ?? "fallback"`, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := r.Render(tt.template, inputs, res)
			require.NoError(t, err)
			require.Equal(t, tt.want, text)
		})
	}
}

func TestRenderExprNonString(t *testing.T) {
	r := New()
	res := runResult(t, `{"outputs": {"score": 3.5}}`)

	text, err := r.Render(`outputs.score`, nil, res)
	require.NoError(t, err)
	require.Equal(t, "3.5", text)
}

func TestRenderJQ(t *testing.T) {
	r := New()
	res := runResult(t, `{"outputs": {"items": [{"name": "a"}, {"name": "b"}]}}`)

	text, err := r.Render(`jq:.outputs.items[].name`, nil, res)
	require.NoError(t, err)
	require.Equal(t, "a\nb", text)
}

// A failing template must still yield the extracted text so the result cell
// is never blanked by a template bug.
func TestRenderFailureFallsBackToExtraction(t *testing.T) {
	r := New()
	res := runResult(t, `{"outputs": {"text": "the real answer"}}`)

	tests := []struct {
		name     string
		template string
	}{
		{"expr compile error", `outputs.`},
		{"expr produces nil", `nil`},
		{"jq parse error", `jq:.outputs | (`},
		{"jq no value", `jq:.outputs.missing`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := r.Render(tt.template, nil, res)
			require.Error(t, err)
			require.Equal(t, "the real answer", text)
		})
	}
}

func TestValidate(t *testing.T) {
	r := New()

	require.NoError(t, r.Validate(""))
	require.NoError(t, r.Validate(`outputs.answer`))
	require.NoError(t, r.Validate(`jq:.outputs`))
	require.Error(t, r.Validate(`outputs.`))
	require.Error(t, r.Validate(`jq:.outputs | (`))
}

func TestRenderNestedOutputsInScope(t *testing.T) {
	r := New()
	res := runResult(t, `{"outputs": {"outputs": {"text": "nested"}}}`)

	text, err := r.Render(`outputs.text`, nil, res)
	require.NoError(t, err)
	require.Equal(t, "nested", text)
}
