// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the overrides service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/validation"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/middleware"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// StoreProvider returns the rule store of an authenticated caller.
type StoreProvider interface {
	StoreFor(ctx context.Context, info *extensions.AuthInfo) (remote.Store, error)
}

// DefaultKeepAliveInterval is the keepalive period of save streams.
const DefaultKeepAliveInterval = 15 * time.Second

// OverridesConfig configures an OverridesHandler.
type OverridesConfig struct {
	Engine  *engine.Engine
	Stores  StoreProvider
	Audit   extensions.AuditLogger
	Metrics *observability.APIMetrics
	Logger  *slog.Logger

	// KeepAliveInterval is the save stream keepalive period.
	// Default: DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration
}

// OverridesHandler serves override reads and saves.
//
// # Thread Safety
//
// Safe for concurrent use: all state is per request.
type OverridesHandler struct {
	engine    *engine.Engine
	stores    StoreProvider
	audit     extensions.AuditLogger
	metrics   *observability.APIMetrics
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewOverridesHandler creates the handler. Engine, Stores and Metrics are
// required.
func NewOverridesHandler(cfg OverridesConfig) *OverridesHandler {
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	return &OverridesHandler{
		engine:    cfg.Engine,
		stores:    cfg.Stores,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "handlers.overrides"),
		keepAlive: cfg.KeepAliveInterval,
	}
}

// =============================================================================
// GET /overrides
// =============================================================================

// Resolve handles GET /overrides?file_id=.
func (h *OverridesHandler) Resolve(c *gin.Context) {
	fileID := c.Query("file_id")
	if fileID == "" {
		h.metrics.RecordError(observability.EndpointResolve, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file_id"})
		return
	}
	if err := validation.ValidateRulePath(fileID); err != nil {
		h.metrics.RecordError(observability.EndpointResolve, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file_id", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	store, err := h.stores.StoreFor(ctx, middleware.GetAuthInfo(c))
	if err != nil {
		h.fail(c, observability.EndpointResolve, err)
		return
	}

	res, err := h.engine.Resolve(ctx, store, fileID)
	if err != nil {
		h.logger.WarnContext(ctx, "override resolve failed",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		h.fail(c, observability.EndpointResolve, err)
		return
	}
	c.JSON(http.StatusOK, NewResolveResponse(res))
}

// =============================================================================
// POST /overrides/save
// =============================================================================

// Save handles POST /overrides/save.
func (h *OverridesHandler) Save(c *gin.Context) {
	start := time.Now()
	req, ok := h.bindSave(c, observability.EndpointSave)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	info := middleware.GetAuthInfo(c)
	store, err := h.stores.StoreFor(ctx, info)
	if err != nil {
		h.fail(c, observability.EndpointSave, err)
		return
	}

	out, err := h.engine.Save(ctx, store, req.toEngine(serverIDOf(info)), nil)
	h.finishSave(ctx, observability.EndpointSave, info, req, out, err, start)
	if err != nil {
		h.fail(c, observability.EndpointSave, err)
		return
	}
	c.JSON(http.StatusOK, saveResponse(out))
}

// =============================================================================
// POST /overrides/save-stream
// =============================================================================

// SaveStream handles POST /overrides/save-stream.
//
// # Description
//
// Request errors are answered as plain JSON like Save. Once the stream
// starts, every engine transition is a progress event and the stream ends
// with exactly one complete or error event. Once writes start they run to
// completion even if the client disconnects.
func (h *OverridesHandler) SaveStream(c *gin.Context) {
	const endpoint = observability.EndpointSaveStream
	start := time.Now()
	req, ok := h.bindSave(c, endpoint)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	info := middleware.GetAuthInfo(c)
	store, err := h.stores.StoreFor(ctx, info)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}
	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	stopKeepAlive := h.startKeepAlive(ctx, sse, endpoint)
	defer stopKeepAlive()

	disconnected := false
	progress := func(p engine.Progress) {
		if disconnected {
			return
		}
		if err := sse.WriteProgress(p); err != nil {
			disconnected = true
			h.metrics.RecordClientDisconnect(endpoint)
			h.logger.Info("save stream client disconnected",
				slog.String("tx_id", p.TxID),
				slog.String("error", err.Error()),
			)
		}
	}

	out, err := h.engine.Save(ctx, store, req.toEngine(serverIDOf(info)), progress)
	h.finishSave(ctx, endpoint, info, req, out, err, start)
	stopKeepAlive()
	if disconnected {
		return
	}

	if err != nil {
		status, body, code := engineErrorResponse(err)
		h.metrics.RecordError(endpoint, code)
		_ = sse.WriteError(status, body)
		return
	}
	_ = sse.WriteComplete(saveResponse(out))
}

// startKeepAlive pings the stream until the returned stop is called. Stop
// is idempotent and waits for the pinger to exit.
func (h *OverridesHandler) startKeepAlive(ctx context.Context, sse SSEWriter, endpoint observability.Endpoint) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sse.WriteKeepAlive(); err != nil {
					return
				}
				h.metrics.RecordKeepAlive(endpoint)
			}
		}
	}()

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		<-exited
	}
}

// =============================================================================
// Helpers
// =============================================================================

// bindSave decodes and validates a save body, answering 400 on failure.
func (h *OverridesHandler) bindSave(c *gin.Context, endpoint observability.Endpoint) (*SaveRequest, bool) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing file_id, overrides, or commit_message",
			"details": err.Error(),
		})
		return nil, false
	}
	return &req, true
}

// finishSave records metrics, logs and the audit event of a finished save.
func (h *OverridesHandler) finishSave(ctx context.Context, endpoint observability.Endpoint, info *extensions.AuthInfo,
	req *SaveRequest, out *engine.SaveResult, err error, start time.Time) {

	outcome := saveOutcome(out, err)
	h.metrics.RecordSave(endpoint, outcome, time.Since(start))

	event := extensions.AuditEvent{
		EventType:    extensions.EventOverrideSave,
		Action:       "save",
		ResourceType: "override",
		ResourceID:   req.FileID,
		Outcome:      extensions.OutcomeSuccess,
		Metadata:     map[string]any{"outcome": outcome},
	}
	if info != nil {
		event.UserID, event.ServerID = info.UserID, info.ServerID
	}

	if err != nil {
		event.Outcome = extensions.OutcomeFailure
		event.Metadata["error"] = err.Error()
		var abortErr *engine.AbortError
		if errors.As(err, &abortErr) {
			event.Metadata["rollback"] = string(abortErr.Rollback.Status)
		}
		h.logger.WarnContext(ctx, "override save failed",
			slog.String("file_id", req.FileID),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
	} else {
		event.Metadata["tx_id"] = out.Result.TxID
		event.Metadata["writes"] = out.Result.Writes
		h.logger.InfoContext(ctx, "override save committed",
			slog.String("file_id", req.FileID),
			slog.String("tx_id", out.Result.TxID),
			slog.Int("writes", out.Result.Writes),
		)
	}

	if auditErr := h.audit.Log(ctx, event); auditErr != nil {
		h.logger.WarnContext(ctx, "audit log failed", slog.String("error", auditErr.Error()))
	}
}

func (h *OverridesHandler) fail(c *gin.Context, endpoint observability.Endpoint, err error) {
	status, body, code := engineErrorResponse(err)
	h.metrics.RecordError(endpoint, code)
	c.JSON(status, body)
}

func saveOutcome(out *engine.SaveResult, err error) string {
	var abortErr *engine.AbortError
	switch {
	case errors.As(err, &abortErr):
		if abortErr.Rollback.Status == engine.RollbackIncomplete {
			return observability.OutcomeIncomplete
		}
		return observability.OutcomeAborted
	case err != nil:
		return observability.OutcomeRejected
	case out.Result.Writes == 0:
		return observability.OutcomeNoop
	}
	return observability.OutcomeCommitted
}

func serverIDOf(info *extensions.AuthInfo) string {
	if info == nil {
		return ""
	}
	return info.ServerID
}
