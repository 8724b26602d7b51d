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

// Package render turns a task's run result into the text written to the
// result sheet.
//
// An empty template yields the standard output extraction. A template
// prefixed "jq:" runs a jq program over the run's outputs object. Anything
// else is an expr expression evaluated with inputs, outputs and the
// extracted output text in scope. A template that fails to render falls
// back to the extracted text so a bad template never blanks a result cell.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"

	"github.com/tombee/batchflow/internal/remote"
)

const jqPrefix = "jq:"

// jqTimeout bounds a single jq evaluation.
const jqTimeout = time.Second

// Renderer renders result templates. Compiled expressions are cached for
// repeated evaluation across a batch's tasks.
type Renderer struct {
	mu        sync.RWMutex
	exprCache map[string]*vm.Program
	jqCache   map[string]*gojq.Code
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{
		exprCache: make(map[string]*vm.Program),
		jqCache:   make(map[string]*gojq.Code),
	}
}

// Validate checks a template at batch creation so bad templates surface
// before any task runs.
func (r *Renderer) Validate(template string) error {
	if template == "" {
		return nil
	}
	if strings.HasPrefix(template, jqPrefix) {
		_, err := r.compileJQ(strings.TrimPrefix(template, jqPrefix))
		return err
	}
	_, err := r.compileExpr(template)
	return err
}

// Render produces the result text for one task. On template failure the
// extracted output text is returned along with the error.
func (r *Renderer) Render(template string, inputs map[string]string, res *remote.RunResult) (string, error) {
	extracted := remote.ExtractText(res)
	if template == "" {
		return extracted, nil
	}

	if strings.HasPrefix(template, jqPrefix) {
		text, err := r.renderJQ(strings.TrimPrefix(template, jqPrefix), res)
		if err != nil {
			return extracted, err
		}
		return text, nil
	}

	text, err := r.renderExpr(template, inputs, res, extracted)
	if err != nil {
		return extracted, err
	}
	return text, nil
}

func (r *Renderer) renderExpr(template string, inputs map[string]string, res *remote.RunResult, extracted string) (string, error) {
	program, err := r.compileExpr(template)
	if err != nil {
		return "", fmt.Errorf("compile result template: %w", err)
	}

	inputEnv := make(map[string]any, len(inputs))
	for k, v := range inputs {
		inputEnv[k] = v
	}
	env := map[string]any{
		"inputs":  inputEnv,
		"outputs": outputsMap(res),
		"output":  extracted,
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("evaluate result template: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("result template produced no value")
	}
	return stringify(result), nil
}

func (r *Renderer) renderJQ(program string, res *remote.RunResult) (string, error) {
	code, err := r.compileJQ(program)
	if err != nil {
		return "", fmt.Errorf("compile jq template: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), jqTimeout)
	defer cancel()

	var input any
	if res != nil {
		input = res.Data.Map()
	}

	var parts []string
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return "", fmt.Errorf("evaluate jq template: %w", err)
		}
		if v == nil {
			continue
		}
		parts = append(parts, stringify(v))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("jq template produced no value")
	}
	return strings.Join(parts, "\n"), nil
}

func (r *Renderer) compileExpr(template string) (*vm.Program, error) {
	r.mu.RLock()
	program, ok := r.exprCache[template]
	r.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(template, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.exprCache[template] = program
	r.mu.Unlock()
	return program, nil
}

func (r *Renderer) compileJQ(program string) (*gojq.Code, error) {
	r.mu.RLock()
	code, ok := r.jqCache[program]
	r.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	r.mu.Lock()
	r.jqCache[program] = code
	r.mu.Unlock()
	return code, nil
}

// outputsMap extracts the outputs object as a plain map for template
// environments, descending one nested outputs level like extraction does.
func outputsMap(res *remote.RunResult) map[string]any {
	if res == nil || res.Data == nil {
		return nil
	}
	v, ok := res.Data.Get("outputs")
	if !ok {
		return res.Data.Map()
	}
	obj, ok := v.(*remote.Ordered)
	if !ok {
		return res.Data.Map()
	}
	if inner, found := obj.Get("outputs"); found {
		if innerObj, ok := inner.(*remote.Ordered); ok {
			return innerObj.Map()
		}
	}
	return obj.Map()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
