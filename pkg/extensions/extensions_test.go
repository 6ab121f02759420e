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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_FluentChaining(t *testing.T) {
	original := DefaultOptions()
	auth := &mockAuthProvider{userID: "custom-user"}
	audit := &mockAuditLogger{}

	opts := original.WithAuth(auth).WithAudit(audit)

	if opts.AuthProvider != auth {
		t.Error("WithAuth did not set the provider")
	}
	if opts.AuditLogger != audit {
		t.Error("WithAudit did not set the logger")
	}
	if _, ok := original.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("WithAuth modified the original options")
	}
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	if opts.AuthProvider == nil || opts.AuditLogger == nil {
		t.Fatal("Normalize left nil fields")
	}

	auth := &mockAuthProvider{userID: "kept"}
	if got := (ServiceOptions{AuthProvider: auth}).Normalize().AuthProvider; got != auth {
		t.Error("Normalize replaced a configured provider")
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	provider := &NopAuthProvider{}

	for _, token := range []string{"", "sess_abc123", "   "} {
		info, err := provider.Validate(context.Background(), token)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", token, err)
		}
		if info.UserID != "local-user" {
			t.Errorf("UserID = %q, want local-user", info.UserID)
		}
		if info.ServerID != "local" {
			t.Errorf("ServerID = %q, want local", info.ServerID)
		}
		if !info.CanEditRules {
			t.Error("local user should be able to edit rules")
		}
	}
}

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{UserID: "alice", Roles: []string{"viewer", "editor"}}

	tests := []struct {
		role string
		want bool
	}{
		{"editor", true},
		{"viewer", true},
		{"admin", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			if got := info.HasRole(tt.role); got != tt.want {
				t.Errorf("HasRole(%q) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}

	if (&AuthInfo{}).HasRole("editor") {
		t.Error("zero AuthInfo should have no roles")
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	if err := logger.Log(context.Background(), AuditEvent{EventType: EventOverrideSave}); err != nil {
		t.Errorf("Log() error = %v", err)
	}
	if err := logger.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	logger.now = func() time.Time { return time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC) }

	err := logger.Log(context.Background(), AuditEvent{
		EventType:    EventOverrideSave,
		UserID:       "alice",
		ServerID:     "ua-prod",
		Action:       "update",
		ResourceType: "override",
		ResourceID:   "core/rules/device.json",
		Outcome:      OutcomeSuccess,
		Metadata:     map[string]any{"writes": 2},
	})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		"level":       "INFO",
		"component":   "audit",
		"event_type":  EventOverrideSave,
		"user_id":     "alice",
		"server_id":   "ua-prod",
		"resource_id": "core/rules/device.json",
		"outcome":     OutcomeSuccess,
		"timestamp":   "2025-05-01T08:00:00Z",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %v", k, entry[k], want)
		}
	}
	meta, ok := entry["metadata"].(map[string]any)
	if !ok || meta["writes"] != float64(2) {
		t.Errorf("metadata = %v", entry["metadata"])
	}
}

func TestSlogAuditLogger_FailureIsWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	_ = logger.Log(context.Background(), AuditEvent{EventType: EventOverrideDenied, Outcome: OutcomeBlocked})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if _, ok := entry["metadata"]; ok {
		t.Error("empty metadata should be omitted")
	}
}

func TestNopImplementations_ConcurrentSafety(t *testing.T) {
	auth := &NopAuthProvider{}
	audit := &NopAuditLogger{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = auth.Validate(ctx, "token")
			_ = audit.Log(ctx, AuditEvent{EventType: EventAuthLogin})
		}()
	}
	wg.Wait()
}

// ============================================================================
// Mocks
// ============================================================================

type mockAuthProvider struct {
	userID string
}

func (p *mockAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: p.userID}, nil
}

type mockAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *mockAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *mockAuditLogger) Flush(context.Context) error { return nil }
