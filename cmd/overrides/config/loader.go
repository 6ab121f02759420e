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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/logging"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/telemetry"
)

// Environment variables applied on top of the file.
const (
	EnvPort         = "OVERRIDES_PORT"
	EnvStoreBackend = "OVERRIDES_STORE_BACKEND"
	EnvLogLevel     = "OVERRIDES_LOG_LEVEL"
	EnvTLSInsecure  = "UA_TLS_INSECURE"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvCookieSecure = "COOKIE_SECURE"
	EnvBasicEnabled = "UA_AUTH_BASIC_ENABLED"
	EnvCertEnabled  = "UA_AUTH_CERT_ENABLED"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads the configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path when path is
// non-empty, then applies environment overrides and validates the result.
// Keys absent from the file keep their defaults.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file.
//
// # Outputs
//
//   - OverridesConfig: The merged configuration.
//   - error: Non-nil if the file cannot be read or parsed, an environment
//     value is malformed, or validation fails.
func Load(path string) (OverridesConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *OverridesConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvStoreBackend); ok {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}

	flags := []struct {
		name   string
		target *bool
	}{
		{EnvCookieSecure, &cfg.Auth.CookieSecure},
		{EnvBasicEnabled, &cfg.Auth.BasicEnabled},
		{EnvCertEnabled, &cfg.Auth.CertEnabled},
	}
	for _, f := range flags {
		if v, ok := lookup(f.name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", f.name, err)
			}
			*f.target = b
		}
	}

	if v, ok := lookup(EnvTLSInsecure); ok {
		insecure, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTLSInsecure, err)
		}
		for i := range cfg.Servers {
			cfg.Servers[i].InsecureTLS = insecure
		}
	}
	return nil
}

// Validate checks the values the service cannot default.
func (c OverridesConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Store.Backend {
	case "", overrides.BackendMemory:
	case overrides.BackendUA:
		if len(c.Servers) == 0 {
			return fmt.Errorf("%w: store.backend ua needs at least one server", ErrInvalidConfig)
		}
		if !c.Auth.BasicEnabled && !c.Auth.CertEnabled {
			return fmt.Errorf("%w: store.backend ua needs a login method", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch c.Telemetry.TraceExporter {
	case "", telemetry.ExporterNone, telemetry.ExporterOTLP, telemetry.ExporterStdout:
	default:
		return fmt.Errorf("%w: unknown telemetry.trace_exporter %q", ErrInvalidConfig, c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "", telemetry.ExporterNone, telemetry.ExporterPrometheus, telemetry.ExporterStdout:
	default:
		return fmt.Errorf("%w: unknown telemetry.metric_exporter %q", ErrInvalidConfig, c.Telemetry.MetricExporter)
	}
	if c.Engine.WriteAttempts < 0 || c.Engine.ListPageSize < 0 || c.Engine.MetaConcurrency < 0 {
		return fmt.Errorf("%w: engine values must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoggingConfig converts the log section for pkg/logging.
func (c OverridesConfig) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		Format:  logging.Format(c.Log.Format),
	}
}
