// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the overrides service configuration file.
package config

import (
	"time"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/telemetry"
)

type OverridesConfig struct {
	// Server: HTTP listener
	Server ServerConfig `yaml:"server"`

	// Store: where rule files live, "memory" or "ua"
	Store StoreConfig `yaml:"store"`

	// Servers: the UA servers users can log in to
	Servers []servers.Server `yaml:"servers"`

	Auth      AuthConfig       `yaml:"auth"`
	Journal   JournalConfig    `yaml:"journal"`
	Cache     CacheConfig      `yaml:"cache"`
	Engine    EngineConfig     `yaml:"engine"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Log       LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`               // e.g. 12230
	GinMode           string        `yaml:"gin_mode"`           // debug, release, test
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"` // e.g. 15s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`   // e.g. 10s
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	SeedDir string `yaml:"seed_dir,omitempty"`
}

type AuthConfig struct {
	Require      bool          `yaml:"require"`
	BasicEnabled bool          `yaml:"basic_enabled"`
	CertEnabled  bool          `yaml:"cert_enabled"`
	CookieSecure bool          `yaml:"cookie_secure"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

type JournalConfig struct {
	// Dir holds the badger files. Empty keeps the journal in memory.
	Dir string `yaml:"dir"`
}

type CacheConfig struct {
	FolderTTL time.Duration `yaml:"folder_ttl"`
}

type EngineConfig struct {
	FamilyMarker    string `yaml:"family_marker"`
	ListPageSize    int    `yaml:"list_page_size"`
	MetaConcurrency int    `yaml:"meta_concurrency"`
	WriteAttempts   int    `yaml:"write_attempts"`
	EnforceETag     bool   `yaml:"enforce_etag"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, or empty for auto
	Dir    string `yaml:"dir,omitempty"`
}

// DefaultConfig returns a configuration for a local memory-backed service.
func DefaultConfig() OverridesConfig {
	eng := engine.DefaultConfig()
	return OverridesConfig{
		Server: ServerConfig{
			Port:              12230,
			GinMode:           "release",
			KeepAliveInterval: 15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Store: StoreConfig{Backend: overrides.BackendMemory},
		Auth: AuthConfig{
			BasicEnabled: true,
			SessionTTL:   session.DefaultTTL,
		},
		Engine: EngineConfig{
			FamilyMarker:    eng.FamilyMarker,
			ListPageSize:    eng.ListPageSize,
			MetaConcurrency: eng.MetaConcurrency,
			WriteAttempts:   eng.WriteAttempts,
			EnforceETag:     eng.EnforceETag,
		},
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// ToService converts the file configuration into overrides.Config.
func (c OverridesConfig) ToService() overrides.Config {
	return overrides.Config{
		Port:              c.Server.Port,
		GinMode:           c.Server.GinMode,
		Backend:           c.Store.Backend,
		SeedDir:           c.Store.SeedDir,
		Servers:           c.Servers,
		RequireAuth:       c.Auth.Require,
		BasicAuthEnabled:  c.Auth.BasicEnabled,
		CertAuthEnabled:   c.Auth.CertEnabled,
		CookieSecure:      c.Auth.CookieSecure,
		SessionTTL:        c.Auth.SessionTTL,
		JournalDir:        c.Journal.Dir,
		FolderCacheTTL:    c.Cache.FolderTTL,
		KeepAliveInterval: c.Server.KeepAliveInterval,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		Engine: engine.Config{
			FamilyMarker:    c.Engine.FamilyMarker,
			ListPageSize:    c.Engine.ListPageSize,
			MetaConcurrency: c.Engine.MetaConcurrency,
			WriteAttempts:   c.Engine.WriteAttempts,
			EnforceETag:     c.Engine.EnforceETag,
		},
		Telemetry: c.Telemetry,
	}
}
