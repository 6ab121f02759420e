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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for override engine metrics.
var meter = otel.Meter("overrides.engine")

// Metric instruments for override operations.
var (
	resolveTotal        metric.Int64Counter
	resolveDuration     metric.Float64Histogram
	transactionTotal    metric.Int64Counter
	transactionDuration metric.Float64Histogram
	writeOpTotal        metric.Int64Counter
	writeAttemptTotal   metric.Int64Counter
	compensationTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		if resolveTotal, err = meter.Int64Counter(
			"overrides_resolve_total",
			metric.WithDescription("Total number of override resolutions"),
		); err != nil {
			metricsErr = err
			return
		}

		if resolveDuration, err = meter.Float64Histogram(
			"overrides_resolve_duration_seconds",
			metric.WithDescription("Duration of override resolutions in seconds"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if transactionTotal, err = meter.Int64Counter(
			"overrides_transaction_total",
			metric.WithDescription("Total number of override write transactions by outcome"),
		); err != nil {
			metricsErr = err
			return
		}

		if transactionDuration, err = meter.Float64Histogram(
			"overrides_transaction_duration_seconds",
			metric.WithDescription("Duration of override write transactions in seconds"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}

		if writeOpTotal, err = meter.Int64Counter(
			"overrides_write_op_total",
			metric.WithDescription("Total number of planned write operations by action and status"),
		); err != nil {
			metricsErr = err
			return
		}

		if writeAttemptTotal, err = meter.Int64Counter(
			"overrides_write_attempt_total",
			metric.WithDescription("Total number of remote write attempts"),
		); err != nil {
			metricsErr = err
			return
		}

		if compensationTotal, err = meter.Int64Counter(
			"overrides_compensation_total",
			metric.WithDescription("Total number of compensating writes by status"),
		); err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// recordResolve records an override resolution.
func recordResolve(ctx context.Context, duration time.Duration, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", statusLabel(success)))
	resolveTotal.Add(ctx, 1, attrs)
	resolveDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordTransaction records the outcome of an executed plan.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - duration: Wall time from first write to commit or abort.
//   - state: Final transaction state.
//   - rollback: Compensation outcome.
func recordTransaction(ctx context.Context, duration time.Duration, state TxState, rollback RollbackStatus) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("rollback", string(rollback)),
	)
	transactionTotal.Add(ctx, 1, attrs)
	transactionDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordWriteOp records the final status of one write operation.
func recordWriteOp(ctx context.Context, action Action, status FileStatus, attempts int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	writeOpTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("status", string(status)),
	))
	writeAttemptTotal.Add(ctx, int64(attempts), metric.WithAttributes(
		attribute.String("action", string(action)),
	))
}

// recordCompensation records a compensating write.
func recordCompensation(ctx context.Context, action Action, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	compensationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("status", statusLabel(success)),
	))
}
