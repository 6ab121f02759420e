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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/journal"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/middleware"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

// =============================================================================
// Test Setup
// =============================================================================

const (
	testRuleID  = "core/default/processing/event/fcom/_objects/trap/vendor-x/device.json"
	testRuleDir = "core/default/processing/event/fcom/_objects/trap/vendor-x"
	testRoot    = "core/default/processing/event/fcom/overrides"
	ifDownFile  = testRoot + "/vendor-x.if-mib.ifdown.override.json"

	ifDown = "IF-MIB::ifDown"

	testRuleText = `{"objects":[{"@objectName":"IF-MIB::ifDown","event":{"Severity":"minor"}},{"@objectName":"IF-MIB::ifUp","event":{"Severity":"clear"}}]}`
	opCritical   = `{"op":"replace","path":"/event/severity","value":"critical"}`
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedProvider authenticates every request as info.
type fixedProvider struct {
	info *extensions.AuthInfo
}

func (p fixedProvider) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return p.info, nil
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

func (r *recordingAudit) ofType(eventType string) []extensions.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []extensions.AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	router   *gin.Engine
	store    *remote.MemoryStore
	metrics  *observability.APIMetrics
	journal  *journal.Journal
	index    *cache.FolderIndex
	sessions *session.Store
	audit    *recordingAudit
}

var editor = &extensions.AuthInfo{
	UserID: "alice", SessionID: "s-1", ServerID: servers.LocalServerID, CanEditRules: true,
}

var viewer = &extensions.AuthInfo{
	UserID: "bob", SessionID: "s-2", ServerID: servers.LocalServerID,
}

// newTestEnv wires the API over a memory store holding the two-object test
// rule file, authenticating every API request as info.
func newTestEnv(t *testing.T, info *extensions.AuthInfo) *testEnv {
	t.Helper()

	store := remote.NewMemoryStore("tester")
	store.Seed(testRuleID, testRuleText)
	store.SeedFolder(testRoot)

	j, err := journal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	env := &testEnv{
		store:    store,
		metrics:  observability.NewAPIMetrics(prometheus.NewRegistry()),
		journal:  j,
		index:    cache.NewFolderIndex(0, testLogger()),
		sessions: session.NewStore(session.Config{Logger: testLogger()}),
		audit:    &recordingAudit{},
	}

	eng := engine.New(engine.DefaultConfig(),
		engine.WithLogger(testLogger()),
		engine.WithCacheHook(env.index),
		engine.WithIncidentRecorder(j),
	)
	stores := servers.NewStatic("", store)

	overrides := NewOverridesHandler(OverridesConfig{
		Engine: eng, Stores: stores, Audit: env.audit, Metrics: env.metrics, Logger: testLogger(),
	})
	recon := NewReconciliationHandler(j, env.audit, testLogger())
	folders := NewFoldersHandler(env.index, stores)
	auth := NewAuthHandler(AuthConfig{
		Sessions: env.sessions, Servers: stores, Audit: env.audit, Metrics: env.metrics,
		Logger: testLogger(), BasicEnabled: true, CertEnabled: true,
	})

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", auth.Login)
	v1.POST("/auth/logout", auth.Logout)
	v1.GET("/auth/session", auth.Session)
	v1.GET("/servers", auth.ListServers)

	api := v1.Group("", middleware.SessionAuth(fixedProvider{info: info}, session.CookieName))
	api.GET("/overrides", overrides.Resolve)
	api.GET("/overrides/reconciliation", recon.List)
	api.GET("/folders/summary", folders.Summary)

	edit := api.Group("", middleware.RequireEditPermission(env.audit))
	edit.POST("/overrides/save", overrides.Save)
	edit.POST("/overrides/save-stream", overrides.SaveStream)
	edit.POST("/overrides/reconciliation/:id/resolve", recon.Resolve)

	env.router = r
	return env
}

func (e *testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, _ := json.Marshal(b)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// override builds a desired override entry with the given processors.
func override(objectName string, ops ...string) json.RawMessage {
	return json.RawMessage(`{"_type":"override","@objectName":"` + objectName + `","processors":[` + strings.Join(ops, ",") + `]}`)
}

func saveBody(entries ...json.RawMessage) map[string]any {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return map[string]any{
		"file_id":        testRuleID,
		"overrides":      entries,
		"commit_message": "test save",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

type sseFrame struct {
	Event string
	Data  sseData
}

// sseData mirrors StreamEvent with the payload left undecoded.
type sseData struct {
	Id       string           `json:"id"`
	Type     string           `json:"type"`
	Hash     string           `json:"hash"`
	PrevHash string           `json:"prevHash"`
	Progress *engine.Progress `json:"progress"`
	Status   int              `json:"status"`
	Payload  json.RawMessage  `json:"payload"`
}

// parseSSE splits an event stream body into frames, skipping comments.
func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data))
			}
		}
		frames = append(frames, f)
	}
	return frames
}
