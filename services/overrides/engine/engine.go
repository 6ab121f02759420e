// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds engine tuning values.
type Config struct {
	// FamilyMarker is the path segment that anchors override locations.
	FamilyMarker string

	// ListPageSize is the page size for override root listings.
	ListPageSize int

	// MetaConcurrency bounds concurrent read-only lookups.
	MetaConcurrency int

	// WriteAttempts is the number of attempts per write and compensation.
	WriteAttempts int

	// EnforceETag rejects saves whose etag does not match current state.
	EnforceETag bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		FamilyMarker:    DefaultFamilyMarker,
		ListPageSize:    500,
		MetaConcurrency: 4,
		WriteAttempts:   3,
		EnforceETag:     true,
	}
}

// applyConfigDefaults fills zero values. EnforceETag keeps its value.
func applyConfigDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.FamilyMarker == "" {
		cfg.FamilyMarker = defaults.FamilyMarker
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = defaults.ListPageSize
	}
	if cfg.MetaConcurrency <= 0 {
		cfg.MetaConcurrency = defaults.MetaConcurrency
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = defaults.WriteAttempts
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine combines resolution, planning and execution of override saves.
//
// # Thread Safety
//
// Holds no per-request state; safe for concurrent use. Concurrent saves to
// the same rule file are not serialized.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	tracer    *Tracer
	assembler *Assembler
	planner   *Planner
	executor  *Executor
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger   *slog.Logger
	tracer   *Tracer
	hook     cache.Hook
	recorder IncidentRecorder
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithTracer sets the engine tracer.
func WithTracer(tracer *Tracer) Option {
	return func(o *engineOptions) { o.tracer = tracer }
}

// WithCacheHook sets the hook invoked after committed saves.
func WithCacheHook(hook cache.Hook) Option {
	return func(o *engineOptions) { o.hook = hook }
}

// WithIncidentRecorder sets where incomplete rollbacks are recorded.
func WithIncidentRecorder(recorder IncidentRecorder) Option {
	return func(o *engineOptions) { o.recorder = recorder }
}

// New creates an Engine.
//
// # Inputs
//
//   - cfg: Engine configuration. Zero values take defaults.
//   - opts: Optional logger, tracer, cache hook and incident recorder.
//
// # Outputs
//
//   - *Engine: Ready to use.
func New(cfg Config, opts ...Option) *Engine {
	applyConfigDefaults(&cfg)

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = NewTracer(o.logger, false)
	}
	if o.hook == nil {
		o.hook = cache.NopHook{}
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}

	return &Engine{
		cfg:       cfg,
		logger:    o.logger.With("component", "engine.Engine"),
		tracer:    o.tracer,
		assembler: NewAssembler(cfg, o.logger, o.tracer),
		planner:   NewPlanner(cfg, o.logger),
		executor:  NewExecutor(cfg, o.hook, o.recorder, o.logger, o.tracer),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Resolve returns the active overrides of a rule file.
func (e *Engine) Resolve(ctx context.Context, store remote.Store, fileID string) (*Resolution, error) {
	return e.assembler.Resolve(ctx, store, fileID)
}

// Plan validates desired overrides and computes the write plan without
// executing it.
func (e *Engine) Plan(ctx context.Context, store remote.Store, fileID string, desired []json.RawMessage, message string) (*Plan, error) {
	return e.planner.Plan(ctx, store, fileID, desired, message)
}

// SaveRequest is one override save.
type SaveRequest struct {
	FileID        string
	Overrides     []json.RawMessage
	CommitMessage string

	// ETag is the etag the caller last read. Empty skips the precondition.
	ETag string

	// ServerID identifies the remote server for cache invalidation.
	ServerID string
}

// SaveResult is the state after a committed save.
type SaveResult struct {
	Resolution *Resolution
	Result     *Result
}

// Save validates, plans and executes a save, then resolves the new state.
//
// # Description
//
// A plan with no writes commits immediately. When the post-commit read
// fails, the resolution is built from the desired set.
//
// # Outputs
//
//   - *SaveResult: New state and per-file results.
//   - error: *ValidationError, ErrInvalidPath, *RuleTextError, ErrConflict,
//     *CallError for planning reads, or *AbortError.
func (e *Engine) Save(ctx context.Context, store remote.Store, req SaveRequest, progress ProgressFunc) (*SaveResult, error) {
	plan, err := e.planner.Plan(ctx, store, req.FileID, req.Overrides, req.CommitMessage)
	if err != nil {
		return nil, err
	}
	if err := e.planner.CheckPrecondition(plan, req.ETag); err != nil {
		return nil, err
	}

	result, err := e.executor.Execute(ctx, store, plan, req.ServerID, progress)
	if err != nil {
		return nil, err
	}

	res, err := e.assembler.Resolve(ctx, store, req.FileID)
	if err != nil {
		e.logger.WarnContext(ctx, "post-save resolve failed; returning desired state",
			slog.String("file_id", req.FileID),
			slog.String("error", err.Error()),
		)
		res = desiredResolution(plan)
	}
	return &SaveResult{Resolution: res, Result: result}, nil
}

// desiredResolution builds a resolution from the plan's desired set.
func desiredResolution(plan *Plan) *Resolution {
	overrides := make([]OverrideEntry, 0, len(plan.Desired))
	for _, entry := range plan.Desired {
		if entry.HasProcessors() {
			overrides = append(overrides, entry)
		}
	}
	return &Resolution{
		Location:      plan.Location,
		Overrides:     overrides,
		MetaByObject:  map[string]OverrideMeta{},
		FilesByObject: map[string]string{},
		ETag:          ComputeETag(overrides),
		Exists:        len(overrides) > 0,
	}
}
