// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the overrides HTTP
// API.
//
// # Description
//
// Engine-level metrics (transactions, write operations, compensations) are
// recorded through OpenTelemetry inside the engine package. This package
// covers the HTTP surface:
//   - Save requests by endpoint and outcome
//   - Save latency histograms
//   - Active progress streams
//   - Errors by endpoint and error code
//   - Stream keepalives and client disconnects
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "overrides"
	apiSubsystem     = "api"
)

// APIMetrics holds the Prometheus collectors of the overrides API.
//
// # Fields
//
//   - SavesTotal: Save requests by endpoint and outcome
//   - SaveDurationSeconds: Save latency by endpoint and outcome
//   - ActiveStreams: Open progress streams
//   - ErrorsTotal: Errors by endpoint and error code
//   - KeepAlivesTotal: Keepalive comments sent on progress streams
//   - ClientDisconnectsTotal: Streams whose client went away before the end
type APIMetrics struct {
	SavesTotal             *prometheus.CounterVec
	SaveDurationSeconds    *prometheus.HistogramVec
	ActiveStreams          *prometheus.GaugeVec
	ErrorsTotal            *prometheus.CounterVec
	KeepAlivesTotal        *prometheus.CounterVec
	ClientDisconnectsTotal *prometheus.CounterVec
}

// NewAPIMetrics creates and registers the API collectors on reg.
//
// # Inputs
//
//   - reg: Registerer to use. prometheus.DefaultRegisterer in production, a
//     fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	factory := promauto.With(reg)
	return &APIMetrics{
		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "saves_total",
				Help:      "Total override save requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		SaveDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "save_duration_seconds",
				Help:      "Override save duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "outcome"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "active_streams",
				Help:      "Number of open save progress streams",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "errors_total",
				Help:      "Total API errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent on progress streams",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during progress streams",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// Endpoint labels an API endpoint.
type Endpoint string

const (
	EndpointResolve    Endpoint = "resolve"
	EndpointSave       Endpoint = "save"
	EndpointSaveStream Endpoint = "save_stream"
	EndpointLogin      Endpoint = "login"
)

// ErrorCode categorizes an API error.
type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeAborted      ErrorCode = "aborted"
	ErrorCodeStore        ErrorCode = "store"
	ErrorCodeInternal     ErrorCode = "internal"
)

// Save outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeNoop       = "noop"
	OutcomeAborted    = "aborted"
	OutcomeRejected   = "rejected"
	OutcomeIncomplete = "rollback_incomplete"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSave records one finished save request.
func (m *APIMetrics) RecordSave(endpoint Endpoint, outcome string, d time.Duration) {
	m.SavesTotal.WithLabelValues(string(endpoint), outcome).Inc()
	m.SaveDurationSeconds.WithLabelValues(string(endpoint), outcome).Observe(d.Seconds())
}

// RecordError records an API error.
func (m *APIMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *APIMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *APIMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordKeepAlive counts a keepalive comment.
func (m *APIMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect counts a client that left mid-stream.
func (m *APIMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
