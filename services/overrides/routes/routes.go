// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/handlers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/middleware"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

// Handlers groups the handlers mounted by SetupRoutes.
type Handlers struct {
	Overrides      *handlers.OverridesHandler
	Reconciliation *handlers.ReconciliationHandler
	Folders        *handlers.FoldersHandler
	Auth           *handlers.AuthHandler

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler
}

// SetupRoutes registers every route of the overrides service.
//
// Auth and server routes are public. Every other /api/v1 route requires a
// session; saves and incident resolution additionally require edit
// permission.
func SetupRoutes(router *gin.Engine, h Handlers, opts extensions.ServiceOptions) {
	opts = opts.Normalize()

	router.GET("/health", handlers.HealthCheck)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/logout", h.Auth.Logout)
			auth.GET("/session", h.Auth.Session)
		}
		v1.GET("/servers", h.Auth.ListServers)

		api := v1.Group("", middleware.SessionAuth(opts.AuthProvider, session.CookieName))
		{
			api.GET("/overrides", h.Overrides.Resolve)
			api.GET("/overrides/reconciliation", h.Reconciliation.List)
			api.GET("/folders/summary", h.Folders.Summary)

			edit := api.Group("", middleware.RequireEditPermission(opts.AuditLogger))
			{
				edit.POST("/overrides/save", h.Overrides.Save)
				edit.POST("/overrides/save-stream", h.Overrides.SaveStream)
				edit.POST("/overrides/reconciliation/:id/resolve", h.Reconciliation.Resolve)
			}
		}
	}
}
