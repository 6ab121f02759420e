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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const engineTracerName = "overrides.engine"

// Tracer provides OpenTelemetry spans for override operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with override-specific span creation.
// When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer. Uses slog.Default() if logger is nil.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(engineTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartResolve starts a span for a read-side resolution.
func (t *Tracer) StartResolve(ctx context.Context, fileID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "overrides.resolve",
		trace.WithAttributes(attribute.String("overrides.file_id", truncateForTrace(fileID, 256))),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndResolve completes a resolve span.
func (t *Tracer) EndResolve(span trace.Span, res *Resolution, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
	if res != nil {
		span.SetAttributes(
			attribute.Int("overrides.count", len(res.Overrides)),
			attribute.String("overrides.etag", res.ETag),
		)
	}
}

// StartTransaction starts a span covering plan execution.
func (t *Tracer) StartTransaction(ctx context.Context, txID string, plan *Plan) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "overrides.transaction",
		trace.WithAttributes(
			attribute.String("tx.id", txID),
			attribute.String("tx.file_id", truncateForTrace(plan.FileID, 256)),
			attribute.Int("tx.ops", len(plan.Ops)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "starting override transaction",
		slog.String("tx_id", txID),
		slog.Int("ops", len(plan.Ops)),
	)
	return ctx, span
}

// EndTransaction completes a transaction span.
func (t *Tracer) EndTransaction(span trace.Span, result *Result, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if result != nil {
		span.SetAttributes(
			attribute.String("tx.state", string(result.State)),
			attribute.Int("tx.writes", result.Writes),
			attribute.String("tx.rollback", string(result.Rollback.Status)),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartWrite starts a span for one write operation, including its retries.
func (t *Tracer) StartWrite(ctx context.Context, op WriteOp, compensation bool) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	name := "overrides.write"
	if compensation {
		name = "overrides.compensate"
	}
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("write.path_id", truncateForTrace(op.PathID, 256)),
			attribute.String("write.action", string(op.Action)),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndWrite completes a write span.
func (t *Tracer) EndWrite(span trace.Span, attempts int, err error) {
	if span == nil {
		return
	}
	defer span.End()
	span.SetAttributes(attribute.Int("write.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordStateTransition adds a transaction state event to the active span.
func (t *Tracer) RecordStateTransition(ctx context.Context, txID string, from, to TxState) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("state_transition",
			trace.WithAttributes(
				attribute.String("tx.id", txID),
				attribute.String("tx.from", string(from)),
				attribute.String("tx.to", string(to)),
			),
		)
	}
	t.logger.DebugContext(ctx, "override transaction state",
		slog.String("tx_id", txID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// truncateForTrace truncates a string for use in span attributes.
//
// If maxLen is less than 4, returns at most maxLen characters without suffix.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// LoggerWithTrace returns logger with trace_id and span_id fields taken
// from ctx, when it carries a valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
