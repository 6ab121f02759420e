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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/handlers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/journal"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

// ============================================================================
// Test Setup
// ============================================================================

const testRuleID = "core/default/processing/event/fcom/_objects/trap/vendor-x/device.json"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, opts extensions.ServiceOptions) *gin.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := remote.NewMemoryStore("tester")
	store.Seed(testRuleID, `{"objects":[{"@objectName":"IF-MIB::ifDown"}]}`)
	stores := servers.NewStatic("", store)

	j, err := journal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.NewAPIMetrics(reg)
	index := cache.NewFolderIndex(0, logger)
	eng := engine.New(engine.DefaultConfig(), engine.WithLogger(logger), engine.WithCacheHook(index))

	router := gin.New()
	SetupRoutes(router, Handlers{
		Overrides: handlers.NewOverridesHandler(handlers.OverridesConfig{
			Engine: eng, Stores: stores, Metrics: metrics, Logger: logger,
		}),
		Reconciliation: handlers.NewReconciliationHandler(j, nil, logger),
		Folders:        handlers.NewFoldersHandler(index, stores),
		Auth: handlers.NewAuthHandler(handlers.AuthConfig{
			Sessions: session.NewStore(session.Config{Logger: logger}), Servers: stores,
			Metrics: metrics, Logger: logger, BasicEnabled: true,
		}),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, opts)
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions())

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/api/v1/auth/login"},
		{"POST", "/api/v1/auth/logout"},
		{"GET", "/api/v1/auth/session"},
		{"GET", "/api/v1/servers"},
		{"GET", "/api/v1/overrides"},
		{"POST", "/api/v1/overrides/save"},
		{"POST", "/api/v1/overrides/save-stream"},
		{"GET", "/api/v1/overrides/reconciliation"},
		{"POST", "/api/v1/overrides/reconciliation/:id/resolve"},
		{"GET", "/api/v1/folders/summary"},
	}

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, e := range expected {
		assert.True(t, registered[e.method+" "+e.path], "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_DefaultOptionsActAsLocalEditor(t *testing.T) {
	router := newRouter(t, extensions.ServiceOptions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/overrides?file_id="+testRuleID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := `{"file_id":"` + testRuleID + `","overrides":[],"commit_message":"noop"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides/save", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSetupRoutes_SessionStoreRequiresCookie(t *testing.T) {
	sessions := session.NewStore(session.Config{})
	router := newRouter(t, extensions.DefaultOptions().WithAuth(sessions))

	for _, target := range []string{
		"/api/v1/overrides?file_id=" + testRuleID,
		"/api/v1/overrides/reconciliation",
		"/api/v1/folders/summary?node=core",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}

	sess, err := sessions.Create(session.CreateRequest{UserID: "bob", ServerID: servers.LocalServerID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/overrides?file_id="+testRuleID, nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/overrides/save", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "read-only session cannot save")
}

func TestSetupRoutes_PublicEndpoints(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions().WithAuth(session.NewStore(session.Config{})))

	for _, target := range []string{"/health", "/metrics", "/api/v1/servers"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
}
