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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

// ServerDirectory resolves configured servers and verifies logins.
//
// servers.Registry and servers.Static implement it.
type ServerDirectory interface {
	Server(id string) (servers.Server, bool)
	List() []servers.Server
	Authenticate(ctx context.Context, login servers.Login) (*remote.LoginResult, error)
	Forget(sessionID string)
}

// AuthConfig configures an AuthHandler.
type AuthConfig struct {
	Sessions *session.Store
	Servers  ServerDirectory
	Audit    extensions.AuditLogger
	Metrics  *observability.APIMetrics
	Logger   *slog.Logger

	// CookieSecure forces the Secure cookie attribute. The attribute is
	// also set for TLS requests and X-Forwarded-Proto: https.
	CookieSecure bool

	// BasicEnabled and CertEnabled gate the two login methods.
	BasicEnabled bool
	CertEnabled  bool
}

// AuthHandler serves login, logout and session lookup.
type AuthHandler struct {
	cfg    AuthConfig
	logger *slog.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(cfg AuthConfig) *AuthHandler {
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthHandler{cfg: cfg, logger: cfg.Logger.With("component", "handlers.auth")}
}

// sessionResponse is the public view of a session.
type sessionResponse struct {
	SessionID    string    `json:"session_id"`
	User         string    `json:"user"`
	ServerID     string    `json:"server_id"`
	AuthMethod   string    `json:"auth_method"`
	ExpiresAt    time.Time `json:"expires_at"`
	CanEditRules bool      `json:"can_edit_rules"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:    s.ID,
		User:         s.UserID,
		ServerID:     s.ServerID,
		AuthMethod:   s.AuthMethod,
		ExpiresAt:    s.ExpiresAt.UTC(),
		CanEditRules: s.CanEditRules,
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ctx := c.Request.Context()

	h.logger.InfoContext(ctx, "login attempt",
		slog.String("server_id", req.ServerID),
		slog.String("auth_type", req.AuthType),
		slog.String("user", userOrCert(req.Username)),
	)

	if req.ServerID == "" || req.AuthType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing server_id or auth_type"})
		return
	}
	if _, ok := h.cfg.Servers.Server(req.ServerID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
		return
	}

	switch req.AuthType {
	case servers.AuthBasic:
		if !h.cfg.BasicEnabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "Basic authentication is disabled"})
			return
		}
		if req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing username or password"})
			return
		}
	case servers.AuthCertificate:
		if !h.cfg.CertEnabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "Certificate authentication is disabled"})
			return
		}
		if req.CertPath == "" || req.KeyPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing cert_path or key_path"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported auth_type"})
		return
	}

	res, err := h.cfg.Servers.Authenticate(ctx, servers.Login{
		ServerID: req.ServerID,
		AuthType: req.AuthType,
		Username: req.Username,
		Password: req.Password,
		CertFile: req.CertPath,
		KeyFile:  req.KeyPath,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "login failed",
			slog.String("server_id", req.ServerID),
			slog.String("user", userOrCert(req.Username)),
			slog.String("error", err.Error()),
		)
		h.auditLogin(ctx, req, extensions.OutcomeFailure)
		if errors.Is(err, remote.ErrUnauthorized) {
			h.recordError(observability.ErrorCodeUnauthorized)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
			return
		}
		h.recordError(observability.ErrorCodeStore)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	user := req.Username
	if user == "" {
		user = "api"
	}
	sess, err := h.cfg.Sessions.Create(session.CreateRequest{
		UserID:       user,
		ServerID:     req.ServerID,
		AuthMethod:   req.AuthType,
		CanEditRules: res.CanEditRules,
		Username:     req.Username,
		Password:     req.Password,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "session store failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	h.setCookie(c, sess.ID, int(time.Until(sess.ExpiresAt).Seconds()))
	h.auditLogin(ctx, req, extensions.OutcomeSuccess)
	h.logger.InfoContext(ctx, "login success",
		slog.String("server_id", sess.ServerID),
		slog.String("user", sess.UserID),
		slog.String("auth_type", sess.AuthMethod),
		slog.Bool("can_edit_rules", sess.CanEditRules),
	)
	c.JSON(http.StatusOK, newSessionResponse(sess))
}

// Logout handles POST /auth/logout. It answers 204 whether or not a
// session existed.
func (h *AuthHandler) Logout(c *gin.Context) {
	id, err := c.Cookie(session.CookieName)
	if err == nil && id != "" {
		if sess, getErr := h.cfg.Sessions.Get(id); getErr == nil {
			if auditErr := h.cfg.Audit.Log(c.Request.Context(), extensions.AuditEvent{
				EventType:    extensions.EventAuthLogout,
				UserID:       sess.UserID,
				ServerID:     sess.ServerID,
				Action:       "logout",
				ResourceType: "session",
				Outcome:      extensions.OutcomeSuccess,
			}); auditErr != nil {
				h.logger.Warn("audit log failed", slog.String("error", auditErr.Error()))
			}
		}
		h.cfg.Sessions.Delete(id)
		h.cfg.Servers.Forget(id)
		h.setCookie(c, "", -1)
	}
	c.Status(http.StatusNoContent)
}

// Session handles GET /auth/session.
func (h *AuthHandler) Session(c *gin.Context) {
	id, err := c.Cookie(session.CookieName)
	if err != nil || id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No active session"})
		return
	}
	sess, err := h.cfg.Sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No active session"})
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(sess))
}

// ListServers handles GET /servers.
func (h *AuthHandler) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Servers.List())
}

func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	secure := h.cfg.CookieSecure || c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, value, maxAge, "/", "", secure, true)
}

func (h *AuthHandler) auditLogin(ctx context.Context, req LoginRequest, outcome string) {
	err := h.cfg.Audit.Log(ctx, extensions.AuditEvent{
		EventType:    extensions.EventAuthLogin,
		UserID:       userOrCert(req.Username),
		ServerID:     req.ServerID,
		Action:       "login",
		ResourceType: "session",
		Outcome:      outcome,
		Metadata:     map[string]any{"auth_type": req.AuthType},
	})
	if err != nil {
		h.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
}

func (h *AuthHandler) recordError(code observability.ErrorCode) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordError(observability.EndpointLogin, code)
	}
}

func userOrCert(user string) string {
	if user == "" {
		return "cert user"
	}
	return user
}
