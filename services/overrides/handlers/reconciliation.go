// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/journal"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/middleware"
)

// IncidentJournal lists and resolves incomplete rollbacks.
type IncidentJournal interface {
	List(ctx context.Context, limit int) ([]engine.Incident, error)
	Resolve(ctx context.Context, id string) error
}

// ReconciliationHandler exposes the reconciliation journal.
type ReconciliationHandler struct {
	journal IncidentJournal
	audit   extensions.AuditLogger
	logger  *slog.Logger
}

// NewReconciliationHandler creates the handler.
func NewReconciliationHandler(j IncidentJournal, audit extensions.AuditLogger, logger *slog.Logger) *ReconciliationHandler {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationHandler{journal: j, audit: audit, logger: logger.With("component", "handlers.reconciliation")}
}

// List handles GET /overrides/reconciliation?limit=. Only incidents of the
// caller's server are returned.
func (h *ReconciliationHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	incidents, err := h.journal.List(c.Request.Context(), 0)
	if err != nil {
		h.logger.Error("journal list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read reconciliation journal"})
		return
	}

	serverID := serverIDOf(middleware.GetAuthInfo(c))
	out := make([]engine.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if inc.ServerID != "" && serverID != "" && inc.ServerID != serverID {
			continue
		}
		out = append(out, inc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": out, "count": len(out)})
}

// Resolve handles POST /overrides/reconciliation/:id/resolve.
func (h *ReconciliationHandler) Resolve(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if err := h.journal.Resolve(ctx, id); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		h.logger.Error("journal resolve failed", slog.String("incident_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve incident"})
		return
	}

	event := extensions.AuditEvent{
		EventType:    extensions.EventIncidentResolved,
		Action:       "resolve",
		ResourceType: "incident",
		ResourceID:   id,
		Outcome:      extensions.OutcomeSuccess,
	}
	if info := middleware.GetAuthInfo(c); info != nil {
		event.UserID, event.ServerID = info.UserID, info.ServerID
	}
	if err := h.audit.Log(ctx, event); err != nil {
		h.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"resolved": id})
}
