// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the overrides service.
const (
	EventAuthLogin      = "auth.login"
	EventAuthLogout     = "auth.logout"
	EventOverrideSave   = "override.save"
	EventOverrideDenied = "override.denied"

	EventIncidentResolved = "incident.resolved"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
)

// AuditEvent is a security-relevant event for compliance logging.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventOverrideSave,
//	    UserID:       info.UserID,
//	    Action:       "update",
//	    ResourceType: "override",
//	    ResourceID:   fileID,
//	    Outcome:      OutcomeSuccess,
//	    Metadata:     map[string]any{"tx_id": result.TxID, "writes": result.Writes},
//	}
type AuditEvent struct {
	// EventType categorizes the event, e.g. "override.save".
	EventType string

	// Timestamp is when the event occurred. Zero means now (UTC).
	Timestamp time.Time

	// UserID identifies who performed the action.
	UserID string

	// ServerID is the rule store server the action targeted.
	ServerID string

	// Action describes the operation, e.g. "login" or "update".
	Action string

	// ResourceType is the category of resource involved, e.g. "override".
	ResourceType string

	// ResourceID is the specific resource, e.g. a rule file path.
	ResourceID string

	// Outcome is one of the Outcome* constants.
	Outcome string

	// Metadata holds event-specific details such as a transaction id.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use. Log failures are
// reported to the caller, which logs them and continues.
type AuditLogger interface {
	// Log records an event.
	Log(ctx context.Context, event AuditEvent) error

	// Flush persists buffered events. Called during shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// Flush is a no-op.
func (l *NopAuditLogger) Flush(context.Context) error { return nil }

// SlogAuditLogger writes events as structured log records on a dedicated
// "audit" logger.
//
// Thread-safe: slog.Logger is safe for concurrent use.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSlogAuditLogger creates an audit logger that writes through logger.
// Uses slog.Default() if logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// Log writes the event at Info, or Warn for blocked and failed outcomes.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("server_id", event.ServerID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if len(event.Metadata) > 0 {
		meta := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	level := slog.LevelInfo
	if event.Outcome == OutcomeFailure || event.Outcome == OutcomeBlocked {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "audit event", attrs...)
	return nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
