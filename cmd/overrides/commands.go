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
	"github.com/spf13/cobra"
)

// cliOptions holds the flags shared by every command.
type cliOptions struct {
	configPath string
	logLevel   string

	// serve
	port int

	// probes
	seedDir    string
	serverURL  string
	serverID   string
	username   string
	password   string
	insecure   bool
	overrides  string
	message    string
	outputJSON bool

	// journal
	journalDir string
	limit      int
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "overrides",
		Short: "Reconcile and save FCOM rule overrides",
		Long: `overrides serves the override API and probes override state of
rule files on a Unified Assurance server or a local seed directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	// --- Serve ---
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the override HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serveCmd.Flags().IntVar(&opts.port, "port", 0, "HTTP port (overrides config and OVERRIDES_PORT)")

	// --- Probes ---
	resolveCmd := &cobra.Command{
		Use:   "resolve <file_id>",
		Short: "Print the effective overrides of a rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0])
		},
	}
	planCmd := &cobra.Command{
		Use:   "plan <file_id>",
		Short: "Print the writes a save would perform without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}
	for _, c := range []*cobra.Command{resolveCmd, planCmd} {
		c.Flags().StringVar(&opts.seedDir, "seed-dir", "", "probe a memory store seeded from this directory")
		c.Flags().StringVar(&opts.serverURL, "server-url", "", "UA rules API root, e.g. https://ua.example.com/api")
		c.Flags().StringVar(&opts.serverID, "server", "", "UA server id from the config file")
		c.Flags().StringVar(&opts.username, "username", "", "UA username (default $UA_USERNAME)")
		c.Flags().StringVar(&opts.password, "password", "", "UA password (default $UA_PASSWORD)")
		c.Flags().BoolVar(&opts.insecure, "insecure", false, "skip TLS verification")
	}
	resolveCmd.Flags().BoolVar(&opts.outputJSON, "json", false, "print the API response body")
	planCmd.Flags().StringVar(&opts.overrides, "overrides", "", "JSON or JSONC file with the desired override entries")
	planCmd.Flags().StringVar(&opts.message, "message", "", "commit message")
	planCmd.Flags().BoolVar(&opts.outputJSON, "json", false, "print the plan as JSON")
	_ = planCmd.MarkFlagRequired("overrides")

	// --- Journal ---
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect incomplete rollbacks awaiting reconciliation",
	}
	journalCmd.PersistentFlags().StringVar(&opts.journalDir, "dir", "", "journal directory (default journal.dir from config)")
	journalListCmd := &cobra.Command{
		Use:   "list",
		Short: "List open incidents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalList(cmd, opts)
		},
	}
	journalListCmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum incidents to print")
	journalResolveCmd := &cobra.Command{
		Use:   "resolve <incident_id>",
		Short: "Mark an incident reconciled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalResolve(cmd, opts, args[0])
		},
	}
	journalCmd.AddCommand(journalListCmd, journalResolveCmd)

	rootCmd.AddCommand(serveCmd, resolveCmd, planCmd, journalCmd)
	return rootCmd
}
