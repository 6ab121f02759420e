// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the overrides service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	SessionAuth
//	   │
//	   ├─► Token from session cookie, else "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       RequireEditPermission (save routes only)
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// # Local Behavior
//
// With NopAuthProvider every request is the local editor, so the service
// works against an in-memory store without a login.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "overrides_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated identity in the Gin context.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated identity from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: Identity, or nil if the request was not
//     authenticated
//
// # Examples
//
//	info := middleware.GetAuthInfo(c)
//	if info == nil {
//	    c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
//	    return
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// SessionAuth creates a Gin middleware that authenticates requests.
//
// # Description
//
// Reads the session token from cookieName, falling back to a bearer token,
// validates it with provider and stores the resulting AuthInfo for
// downstream handlers. Invalid sessions get 401 with
// {"error": "unauthorized"}; provider failures get 401 with
// {"error": "authentication failed"}.
//
// # Inputs
//
//   - provider: Validates tokens. Must not be nil.
//   - cookieName: Session cookie to read.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func SessionAuth(provider extensions.AuthProvider, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, cookieName)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			slog.Warn("session validation failed",
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireEditPermission rejects sessions without rule edit permission with
// 403 and records the denial on audit.
//
// Must run after SessionAuth.
func RequireEditPermission(audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		if !info.CanEditRules {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Read-only access",
			})
			if audit != nil {
				if err := audit.Log(c.Request.Context(), extensions.AuditEvent{
					EventType:    extensions.EventOverrideDenied,
					UserID:       info.UserID,
					ServerID:     info.ServerID,
					Action:       c.Request.Method + " " + c.FullPath(),
					ResourceType: "override",
					ResourceID:   c.Query("file_id"),
					Outcome:      extensions.OutcomeBlocked,
				}); err != nil {
					slog.Warn("audit log failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractToken returns the session cookie value, or the bearer token when
// no cookie is present. Returns "" when neither is set.
func extractToken(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
