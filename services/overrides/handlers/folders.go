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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/validation"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/middleware"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// FoldersHandler serves cached folder summaries. Saves invalidate the
// summaries through the engine's cache hook.
type FoldersHandler struct {
	index  *cache.FolderIndex
	stores StoreProvider
}

// NewFoldersHandler creates the handler.
func NewFoldersHandler(index *cache.FolderIndex, stores StoreProvider) *FoldersHandler {
	return &FoldersHandler{index: index, stores: stores}
}

// Summary handles GET /folders/summary?node=.
func (h *FoldersHandler) Summary(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("node"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing node"})
		return
	}
	node, err := validation.SanitizeRulePath(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	info := middleware.GetAuthInfo(c)
	store, err := h.stores.StoreFor(ctx, info)
	if err != nil {
		status, body, _ := engineErrorResponse(err)
		c.JSON(status, body)
		return
	}

	serverID := serverIDOf(info)
	cached := h.index.Cached(serverID, node)
	summary, err := h.index.Summary(ctx, store, serverID, node)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Folder not found", "node": node})
			return
		}
		status, body, _ := engineErrorResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "cached": cached})
}
