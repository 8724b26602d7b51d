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

// Package remote implements the single-shot client for the remote workflow
// service. A Client is bound to one binding and intended for one in-flight
// call: every call owns its transport, so a completion on one call can never
// tear down connections in use by another.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tombee/batchflow/internal/workflow"
)

const (
	defaultTimeout  = 5 * time.Minute
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "batchflow/1.0"
	userField = "batch-client"
)

var tracer = otel.Tracer("github.com/tombee/batchflow/internal/remote")

// RunStatus is the remote workflow's reported terminal status.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// RunResult is the outcome of a single workflow run call.
type RunResult struct {
	// ExternalRunID is the identifier the remote service assigned to the
	// invocation. Persisted on first response; deliberately insufficient
	// for deduplication across restarts.
	ExternalRunID string

	// Data is the run's data object with key order preserved. Output
	// extraction operates on this.
	Data *Ordered

	// Status is the remote workflow status.
	Status RunStatus

	// ErrorDetail is the remote error message when Status is failed.
	ErrorDetail string

	// ElapsedMS is the wall-clock duration of the call in milliseconds.
	ElapsedMS int64
}

// Client issues a single workflow run against one binding. Construct a
// fresh Client per call and Close it afterwards.
type Client struct {
	baseURL    string
	credential string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call deadline covering connect, headers and body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for one call against the given endpoint.
func NewClient(baseURL, credential string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	// A private transport per client: connection state is never shared
	// with concurrent calls.
	c.httpClient = &http.Client{
		Timeout:   c.timeout,
		Transport: &http.Transport{},
	}
	return c
}

// Close releases the client's connections. The client must not be reused.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// runResponse is the wire shape of a blocking workflows/run response.
type runResponse struct {
	WorkflowRunID string          `json:"workflow_run_id"`
	TaskID        string          `json:"task_id"`
	Data          json.RawMessage `json:"data"`
}

// Run executes the workflow with the given inputs in blocking mode.
// On failure the returned error is always a *CallError.
func (c *Client) Run(ctx context.Context, inputs map[string]any) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.run")
	defer span.End()

	body, err := json.Marshal(map[string]any{
		"inputs":        inputs,
		"response_mode": "blocking",
		"user":          userField,
	})
	if err != nil {
		return nil, &CallError{Kind: KindProtocol, Detail: "encode request", Cause: err}
	}

	start := time.Now()
	status, respBody, err := c.do(ctx, http.MethodPost, "/workflows/run", body)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err := classifyStatus(status, respBody); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var resp runResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &CallError{Kind: KindProtocol, Detail: "decode response body", Cause: err}
	}

	data := &Ordered{}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			return nil, &CallError{Kind: KindProtocol, Detail: "decode run data", Cause: err}
		}
	}

	result := &RunResult{
		ExternalRunID: resp.WorkflowRunID,
		Data:          data,
		Status:        StatusSucceeded,
		ElapsedMS:     elapsed,
	}
	if v, ok := data.Get("status"); ok {
		if s, ok := v.(string); ok && s != string(StatusSucceeded) {
			result.Status = StatusFailed
			if e, ok := data.Get("error"); ok && e != nil {
				result.ErrorDetail = fmt.Sprintf("%v", e)
			}
			if result.ErrorDetail == "" {
				result.ErrorDetail = fmt.Sprintf("workflow status %q", s)
			}
			return result, &CallError{Kind: KindApplication, Detail: result.ErrorDetail}
		}
	}

	span.SetAttributes(attribute.String("workflow.run_id", result.ExternalRunID))
	return result, nil
}

// FetchSchema retrieves the workflow's parameter schema from the remote
// service. Used by the registry on create and sync; never during dispatch.
func (c *Client) FetchSchema(ctx context.Context) (*workflow.Schema, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/parameters", nil)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body); err != nil {
		return nil, err
	}

	var resp struct {
		UserInputForm []map[string]struct {
			Variable string   `json:"variable"`
			Label    string   `json:"label"`
			Required bool     `json:"required"`
			Default  string   `json:"default"`
			Options  []string `json:"options"`
		} `json:"user_input_form"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CallError{Kind: KindProtocol, Detail: "decode parameters response", Cause: err}
	}
	if resp.UserInputForm == nil {
		return nil, &CallError{Kind: KindProtocol, Detail: "parameters response missing user_input_form"}
	}

	schema := &workflow.Schema{}
	for _, item := range resp.UserInputForm {
		for inputType, p := range item {
			if p.Variable == "" {
				continue
			}
			schema.Parameters = append(schema.Parameters, workflow.Parameter{
				Name:        p.Variable,
				Type:        mapParameterType(inputType),
				Required:    p.Required,
				Description: p.Label,
				Default:     p.Default,
				Options:     p.Options,
			})
		}
	}
	return schema, nil
}

// mapParameterType maps the remote form input type to the schema type.
func mapParameterType(inputType string) workflow.ParameterType {
	switch inputType {
	case "text-input":
		return workflow.ParameterString
	case "paragraph":
		return workflow.ParameterParagraph
	case "number":
		return workflow.ParameterNumber
	case "select":
		return workflow.ParameterSelect
	case "file":
		return workflow.ParameterFile
	default:
		return workflow.ParameterString
	}
}

// do issues one HTTP request and reads the full body. Transport failures
// are mapped to timeout or transport kinds.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &CallError{Kind: KindTransport, Detail: "build request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, &CallError{Kind: KindTimeout, Detail: "deadline exceeded", Cause: err}
		}
		return 0, nil, &CallError{Kind: KindTransport, Detail: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if isTimeout(err) {
			return 0, nil, &CallError{Kind: KindTimeout, Detail: "deadline exceeded reading body", Cause: err}
		}
		return 0, nil, &CallError{Kind: KindTransport, Detail: "read response body", Cause: err}
	}
	return resp.StatusCode, respBody, nil
}

// classifyStatus maps non-2xx HTTP statuses to error kinds.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := errorMessage(body)
	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return &CallError{Kind: KindRetryable, StatusCode: status, Detail: detail}
	case status >= 400:
		return &CallError{Kind: KindPermanent, StatusCode: status, Detail: detail}
	default:
		return &CallError{Kind: KindProtocol, StatusCode: status, Detail: detail}
	}
}

// errorMessage extracts a message from an error response body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// isTimeout reports whether an error represents an exceeded deadline,
// either from the context or the transport.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
