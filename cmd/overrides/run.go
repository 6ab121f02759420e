// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/Tones-Lab/ua-com-navigator-sub002/cmd/overrides/config"
	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/logging"
	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/validation"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/handlers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/journal"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

const serviceName = "overrides"

// Environment variables read by the probes.
const (
	envUsername = "UA_USERNAME"
	envPassword = "UA_PASSWORD"
)

var errNoProbeTarget = errors.New("one of --seed-dir, --server-url or --server is required")

// =============================================================================
// Shared setup
// =============================================================================

func loadConfig(opts *cliOptions) (config.OverridesConfig, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.OverridesConfig) *logging.Logger {
	return logging.New(cfg.LoggingConfig(serviceName))
}

// openProbeStore returns the store a probe command reads from.
func openProbeStore(opts *cliOptions, cfg config.OverridesConfig, logger *slog.Logger) (remote.Store, error) {
	if opts.seedDir != "" {
		store := remote.NewMemoryStore("cli")
		n, err := overrides.SeedMemoryStore(store, opts.seedDir)
		if err != nil {
			return nil, fmt.Errorf("failed to seed from %s: %w", opts.seedDir, err)
		}
		logger.Debug("Seeded memory store", "dir", opts.seedDir, "files", n)
		return store, nil
	}

	ua := remote.UAConfig{
		BaseURL:     opts.serverURL,
		InsecureTLS: opts.insecure,
		Logger:      logger,
	}
	if opts.serverID != "" {
		found := false
		for _, s := range cfg.Servers {
			if s.ID == opts.serverID {
				ua.BaseURL = s.BaseURL
				ua.InsecureTLS = ua.InsecureTLS || s.InsecureTLS
				ua.Timeout = s.Timeout
				ua.RequestsPerSecond = s.RequestsPerSecond
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("server %q is not in the config", opts.serverID)
		}
	}
	if ua.BaseURL == "" {
		return nil, errNoProbeTarget
	}

	username, password := opts.username, opts.password
	if username == "" {
		username = os.Getenv(envUsername)
	}
	if password == "" {
		password = os.Getenv(envPassword)
	}
	ua.Credentials = remote.StaticCredentials{Username: username, Password: password}
	return remote.NewUAClient(ua)
}

func newProbeEngine(cfg config.OverridesConfig, logger *slog.Logger) *engine.Engine {
	return engine.New(cfg.ToService().Engine, engine.WithLogger(logger))
}

// =============================================================================
// serve
// =============================================================================

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()

	svc, err := overrides.New(cfg.ToService(), nil, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	logger.Slog().Info("Starting overrides service",
		"port", cfg.Server.Port, "backend", cfg.Store.Backend, "log_file", logger.FilePath())
	return svc.Run(cmd.Context())
}

// =============================================================================
// resolve / plan
// =============================================================================

func runResolve(cmd *cobra.Command, opts *cliOptions, fileID string) error {
	fileID, err := validation.SanitizeRulePath(fileID)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()

	store, err := openProbeStore(opts, cfg, logger.Slog())
	if err != nil {
		return err
	}
	res, err := newProbeEngine(cfg, logger.Slog()).Resolve(cmd.Context(), store, fileID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(handlers.NewResolveResponse(res))
	}

	fmt.Fprintf(out, "file: %s\n", fileID)
	fmt.Fprintf(out, "vendor: %s\n", res.Location.Vendor)
	fmt.Fprintf(out, "override root: %s\n", res.Location.OverrideRoot)
	fmt.Fprintf(out, "override file: %s\n", res.Location.OverridePath)
	fmt.Fprintf(out, "exists: %t\n", res.Exists)
	fmt.Fprintf(out, "etag: %s\n", res.ETag)
	if len(res.Overrides) == 0 {
		fmt.Fprintln(out, "overrides: none")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nOBJECT\tFILE\tREVISION\tMODIFIED BY")
	for _, entry := range res.Overrides {
		meta := res.MetaByObject[entry.ObjectName]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.ObjectName, res.FilesByObject[entry.ObjectName], meta.Revision, meta.ModifiedBy)
	}
	return tw.Flush()
}

func runPlan(cmd *cobra.Command, opts *cliOptions, fileID string) error {
	fileID, err := validation.SanitizeRulePath(fileID)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()

	desired, err := readDesired(opts.overrides)
	if err != nil {
		return err
	}
	store, err := openProbeStore(opts, cfg, logger.Slog())
	if err != nil {
		return err
	}
	plan, err := newProbeEngine(cfg, logger.Slog()).Plan(cmd.Context(), store, fileID, desired, opts.message)
	if err != nil {
		return err
	}

	if opts.outputJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	return engine.WritePlan(cmd.OutOrStdout(), plan)
}

// readDesired reads a JSON array of override entries. Comments and
// trailing commas are allowed.
func readDesired(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}
	var desired []json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &desired); err != nil {
		return nil, fmt.Errorf("overrides file must hold a JSON array: %w", err)
	}
	return desired, nil
}

// =============================================================================
// journal
// =============================================================================

func openJournal(opts *cliOptions) (*journal.Journal, *logging.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	dir := opts.journalDir
	if dir == "" {
		dir = cfg.Journal.Dir
	}
	if dir == "" {
		return nil, nil, errors.New("--dir or journal.dir is required")
	}
	logger := newLogger(cfg)
	jcfg := journal.DefaultConfig(dir)
	jcfg.GCInterval = 0
	jcfg.Logger = logger.Slog()
	j, err := journal.Open(jcfg)
	if err != nil {
		_ = logger.Close()
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, logger, nil
}

func runJournalList(cmd *cobra.Command, opts *cliOptions) error {
	j, logger, err := openJournal(opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer j.Close()

	incidents, err := j.List(cmd.Context(), opts.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(incidents) == 0 {
		fmt.Fprintln(out, "No open incidents")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tFILE\tUNREVERTED\tCAUSE")
	for _, inc := range incidents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			inc.ID, inc.CreatedAt.Format("2006-01-02 15:04:05"), inc.FileID, len(inc.Unreverted), inc.Cause)
	}
	return tw.Flush()
}

func runJournalResolve(cmd *cobra.Command, opts *cliOptions, id string) error {
	j, logger, err := openJournal(opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer j.Close()

	if err := j.Resolve(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", id)
	return nil
}
