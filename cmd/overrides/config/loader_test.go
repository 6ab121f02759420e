// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/logging"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12230, cfg.Server.Port)
	assert.Equal(t, overrides.BackendMemory, cfg.Store.Backend)
	assert.True(t, cfg.Engine.EnforceETag)
	assert.Equal(t, 3, cfg.Engine.WriteAttempts)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
store:
  backend: ua
servers:
  - id: ua-1
    name: Lab
    base_url: https://ua.example.com/api
    timeout: 5s
auth:
  require: true
  session_ttl: 2h
cache:
  folder_ttl: 30s
engine:
  write_attempts: 5
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.GinMode, "unset keys keep defaults")
	assert.Equal(t, overrides.BackendUA, cfg.Store.Backend)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "https://ua.example.com/api", cfg.Servers[0].BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Servers[0].Timeout)
	assert.True(t, cfg.Auth.Require)
	assert.True(t, cfg.Auth.BasicEnabled)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.FolderTTL)
	assert.Equal(t, 5, cfg.Engine.WriteAttempts)
	assert.Equal(t, 500, cfg.Engine.ListPageSize)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "server: [", wantErr: "failed to parse"},
		{name: "unknown backend", content: "store:\n  backend: ftp\n", wantErr: "unknown store.backend"},
		{name: "ua without servers", content: "store:\n  backend: ua\n", wantErr: "at least one server"},
		{name: "bad log level", content: "log:\n  level: loud\n", wantErr: "log.level"},
		{name: "bad trace exporter", content: "telemetry:\n  trace_exporter: prometheus\n", wantErr: "trace_exporter"},
		{name: "port out of range", content: "server:\n  port: 70000\n", wantErr: "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv(EnvPort, "12345")
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := Load(writeFile(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []servers.Server{{ID: "a"}, {ID: "b"}}

	err := applyEnv(&cfg, mapLookup(map[string]string{
		EnvStoreBackend: " UA ",
		EnvTLSInsecure:  "true",
		EnvOTLPEndpoint: "collector:4317",
		EnvCookieSecure: "1",
		EnvBasicEnabled: "false",
		EnvCertEnabled:  "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, overrides.BackendUA, cfg.Store.Backend)
	assert.True(t, cfg.Servers[0].InsecureTLS)
	assert.True(t, cfg.Servers[1].InsecureTLS)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Auth.CookieSecure)
	assert.False(t, cfg.Auth.BasicEnabled)
	assert.True(t, cfg.Auth.CertEnabled)
}

func TestApplyEnv_Malformed(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvPort, "eighty"},
		{EnvCookieSecure, "maybe"},
		{EnvTLSInsecure, "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			err := applyEnv(&cfg, mapLookup(map[string]string{tt.key: tt.value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate_UANeedsLoginMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = overrides.BackendUA
	cfg.Servers = []servers.Server{{ID: "a", BaseURL: "https://a"}}
	cfg.Auth.BasicEnabled = false
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "overrides.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Auth, cfg.Auth)
}

func TestToService(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Dir = "/var/lib/overrides"
	cfg.Auth.Require = true

	svc := cfg.ToService()
	assert.Equal(t, 12230, svc.Port)
	assert.Equal(t, "/var/lib/overrides", svc.JournalDir)
	assert.True(t, svc.RequireAuth)
	assert.Equal(t, cfg.Engine.WriteAttempts, svc.Engine.WriteAttempts)
	assert.Equal(t, cfg.Server.KeepAliveInterval, svc.KeepAliveInterval)
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log = LogConfig{Level: "debug", Format: "json", Dir: "/tmp/logs"}

	lc := cfg.LoggingConfig("overrides")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "/tmp/logs", lc.LogDir)
	assert.Equal(t, "overrides", lc.Service)
}
