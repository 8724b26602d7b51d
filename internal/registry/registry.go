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

// Package registry manages workflow bindings: creation validates the
// endpoint by fetching the parameter schema, sync refreshes the cached
// schema, and deletion is rejected while a non-terminal batch references
// the binding.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/batchflow/internal/log"
	"github.com/tombee/batchflow/internal/remote"
	"github.com/tombee/batchflow/internal/store"
	"github.com/tombee/batchflow/internal/workflow"
)

// SchemaFetcher fetches a workflow's parameter schema from its endpoint.
// Satisfied by *remote.Client.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context) (*workflow.Schema, error)
	Close()
}

// ClientFactory builds a single-use schema fetcher for an endpoint.
type ClientFactory func(baseURL, credential string) SchemaFetcher

// Registry stores and synchronizes workflow bindings.
type Registry struct {
	store     store.BindingStore
	newClient ClientFactory
	logger    *slog.Logger
}

// New creates a Registry backed by the given store.
func New(st store.BindingStore, factory ClientFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		newClient: factory,
		logger:    log.WithComponent(logger, "registry"),
	}
}

// CreateRequest holds the fields for registering a binding.
type CreateRequest struct {
	Name        string
	Description string
	BaseURL     string
	Credential  string
}

// Create registers a binding after validating the endpoint by fetching its
// schema. The fetched schema is cached on the binding.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*workflow.Binding, error) {
	if req.Name == "" {
		return nil, &workflow.FieldError{Field: "name", Message: "name is required"}
	}
	if req.BaseURL == "" {
		return nil, &workflow.FieldError{Field: "base_url", Message: "base_url is required"}
	}
	if req.Credential == "" {
		return nil, &workflow.FieldError{Field: "credential", Message: "credential is required"}
	}

	schema, err := r.fetchSchema(ctx, req.BaseURL, req.Credential)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	binding := &workflow.Binding{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		BaseURL:     req.BaseURL,
		Credential:  req.Credential,
		Schema:      schema,
		SyncedAt:    &now,
		Active:      true,
	}

	if err := r.store.CreateBinding(ctx, binding); err != nil {
		return nil, err
	}

	r.logger.Info("binding created",
		slog.String(log.BindingIDKey, binding.ID),
		slog.String("name", binding.Name),
		slog.Int("parameters", len(schema.Parameters)))
	return binding, nil
}

// Sync refetches the binding's schema and updates the sync timestamp.
func (r *Registry) Sync(ctx context.Context, id string) (*workflow.Binding, error) {
	binding, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	schema, err := r.fetchSchema(ctx, binding.BaseURL, binding.Credential)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	binding.Schema = schema
	binding.SyncedAt = &now
	if err := r.store.UpdateBinding(ctx, binding); err != nil {
		return nil, err
	}

	r.logger.Info("binding schema synced",
		slog.String(log.BindingIDKey, id),
		slog.Int("parameters", len(schema.Parameters)))
	return binding, nil
}

// UpdateRequest holds optional binding fields to change. Nil fields are
// left untouched. The cached schema is only mutated by Sync.
type UpdateRequest struct {
	Name        *string
	Description *string
	Active      *bool
}

// Update changes a binding's descriptive fields.
func (r *Registry) Update(ctx context.Context, id string, req UpdateRequest) (*workflow.Binding, error) {
	binding, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		binding.Name = *req.Name
	}
	if req.Description != nil {
		binding.Description = *req.Description
	}
	if req.Active != nil {
		binding.Active = *req.Active
	}

	if err := r.store.UpdateBinding(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// Delete removes a binding. Rejected while any non-terminal batch
// references it; terminal batches are detached and kept as history.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	active, err := r.store.ActiveBatchCount(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return &workflow.InUseError{ID: id, Batches: active}
	}

	if err := r.store.DeleteBinding(ctx, id); err != nil {
		return err
	}
	r.logger.Info("binding deleted", slog.String(log.BindingIDKey, id))
	return nil
}

// Get fetches a binding by id.
func (r *Registry) Get(ctx context.Context, id string) (*workflow.Binding, error) {
	binding, err := r.store.GetBinding(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &workflow.NotFoundError{ID: id}
	}
	return binding, err
}

// List returns all bindings.
func (r *Registry) List(ctx context.Context) ([]*workflow.Binding, error) {
	return r.store.ListBindings(ctx)
}

// fetchSchema validates an endpoint by fetching its schema, mapping client
// failures to the registry's synchronous error surface.
func (r *Registry) fetchSchema(ctx context.Context, baseURL, credential string) (*workflow.Schema, error) {
	client := r.newClient(baseURL, credential)
	defer client.Close()

	schema, err := client.FetchSchema(ctx)
	if err == nil {
		return schema, nil
	}

	var callErr *remote.CallError
	if errors.As(err, &callErr) {
		switch {
		case callErr.StatusCode == http.StatusUnauthorized || callErr.StatusCode == http.StatusForbidden:
			return nil, &workflow.AuthError{BaseURL: baseURL}
		case callErr.Kind == remote.KindTransport || callErr.Kind == remote.KindTimeout:
			return nil, &workflow.UnreachableError{BaseURL: baseURL, Cause: err}
		default:
			return nil, &workflow.ProtocolError{BaseURL: baseURL, Detail: callErr.Detail}
		}
	}
	return nil, &workflow.UnreachableError{BaseURL: baseURL, Cause: err}
}
