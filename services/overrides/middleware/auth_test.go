// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

const testCookie = "TEST_SESSION"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
	gotToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, e extensions.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Flush(context.Context) error { return nil }

func newRouter(provider extensions.AuthProvider, audit extensions.AuditLogger) *gin.Engine {
	r := gin.New()
	r.Use(SessionAuth(provider, testCookie))
	r.GET("/overrides", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": GetAuthInfo(c).UserID})
	})
	r.POST("/overrides/save", RequireEditPermission(audit), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

// =============================================================================
// extractToken Tests
// =============================================================================

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{"cookie", "sess-1", "", "sess-1"},
		{"cookie wins over bearer", "sess-1", "Bearer other", "sess-1"},
		{"bearer", "", "Bearer abc123", "abc123"},
		{"bearer case insensitive", "", "bearer ABC", "ABC"},
		{"basic ignored", "", "Basic abc123", ""},
		{"empty bearer", "", "Bearer ", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: testCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractToken(c, testCookie))
		})
	}
}

// =============================================================================
// SessionAuth Tests
// =============================================================================

func TestSessionAuth_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice", ServerID: "ua-prod"}}
	r := newRouter(provider, nil)

	req := httptest.NewRequest(http.MethodGet, "/overrides", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "sess-1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"alice"}`, w.Body.String())
	assert.Equal(t, "sess-1", provider.gotToken)
}

func TestSessionAuth_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", fmt.Errorf("expired: %w", extensions.ErrUnauthorized), `{"error":"unauthorized"}`},
		{"provider failure", errors.New("backend down"), `{"error":"authentication failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&mockAuthProvider{err: tt.err}, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/overrides", nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

// =============================================================================
// RequireEditPermission Tests
// =============================================================================

func TestRequireEditPermission_Editor(t *testing.T) {
	audit := &recordingAudit{}
	r := newRouter(&mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice", CanEditRules: true}}, audit)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/overrides/save", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, audit.events)
}

func TestRequireEditPermission_ReadOnly(t *testing.T) {
	audit := &recordingAudit{}
	r := newRouter(&mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "bob", ServerID: "ua-prod"}}, audit)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/overrides/save", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Read-only access"}`, w.Body.String())

	require.Len(t, audit.events, 1)
	e := audit.events[0]
	assert.Equal(t, extensions.EventOverrideDenied, e.EventType)
	assert.Equal(t, "bob", e.UserID)
	assert.Equal(t, "ua-prod", e.ServerID)
	assert.Equal(t, extensions.OutcomeBlocked, e.Outcome)
}

func TestRequireEditPermission_WithoutSession(t *testing.T) {
	r := gin.New()
	r.POST("/save", RequireEditPermission(nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/save", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetAuthInfo_WrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(authInfoKey, "not auth info")
	assert.Nil(t, GetAuthInfo(c))
}
