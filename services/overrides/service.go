// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package overrides wires the override engine into an HTTP service.
//
// The service combines the engine, a rule store backend, sessions, the
// reconciliation journal, the folder summary cache and telemetry behind the
// /api/v1 routes.
//
// # Backends
//
//   - "memory": one in-memory store, optionally seeded from a directory.
//     Without RequireAuth every request acts as the local editor.
//   - "ua": one Unified Assurance rules API per configured server. Users
//     log in per server; each session gets its own client.
//
// # Usage
//
//	svc, err := overrides.New(cfg, nil, logger)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package overrides

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/handlers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/journal"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/routes"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/telemetry"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendUA     = "ua"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the overrides HTTP service.
//
// # Thread Safety
//
// Run blocks and must be called at most once.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then
	// shuts down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Used when Run is never
	// called.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration.
type Config struct {
	// Port is the HTTP port. Default: 12230.
	Port int

	// GinMode is "debug", "release" or "test". Empty keeps the Gin default.
	GinMode string

	// Backend is BackendMemory or BackendUA. Default: BackendMemory.
	Backend string

	// SeedDir seeds the memory backend: every regular file becomes a rule
	// file at its slash-separated path relative to SeedDir.
	SeedDir string

	// Servers are the UA servers of BackendUA.
	Servers []servers.Server

	// RequireAuth requires a login for the memory backend. BackendUA always
	// requires one.
	RequireAuth bool

	// BasicAuthEnabled and CertAuthEnabled gate the login methods.
	BasicAuthEnabled bool
	CertAuthEnabled  bool

	// CookieSecure forces the Secure attribute on the session cookie.
	CookieSecure bool

	// SessionTTL is the session lifetime. Default: session.DefaultTTL.
	SessionTTL time.Duration

	// JournalDir holds the reconciliation journal. Empty keeps it in memory.
	JournalDir string

	// FolderCacheTTL bounds folder summary age. Zero keeps summaries until a
	// save invalidates them.
	FolderCacheTTL time.Duration

	// KeepAliveInterval is the save stream keepalive period.
	KeepAliveInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// Engine tunes the override engine. Zero fields take engine defaults.
	Engine engine.Config

	// Telemetry selects trace and metric exporters.
	Telemetry telemetry.Config
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Engine == (engine.Config{}) {
		cfg.Engine = engine.DefaultConfig()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// directory is what the auth handler and the override handlers need from a
// server backend.
type directory interface {
	handlers.ServerDirectory
	handlers.StoreProvider
}

type service struct {
	config    Config
	opts      extensions.ServiceOptions
	logger    *slog.Logger
	router    *gin.Engine
	telemetry *telemetry.Providers
	journal   *journal.Journal
	sessions  *session.Store
	directory directory
}

// New creates the service.
//
// # Description
//
// Initializes in order: telemetry, the journal, sessions, the store
// backend, the engine, then the router. A failure releases everything
// created so far.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension points. Nil uses session auth when a login is
//     required, the local editor otherwise, and slog audit logging.
//   - logger: Process logger. Uses slog.Default() if nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize.
func New(cfg Config, opts *extensions.ServiceOptions, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: logger.With("component", "overrides.service"),
	}
	if opts != nil {
		s.opts = *opts
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	var err error
	s.telemetry, err = telemetry.Init(context.Background(), s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := s.initJournal(logger); err != nil {
		s.cleanup()
		return nil, err
	}

	s.sessions = session.NewStore(session.Config{TTL: s.config.SessionTTL, Logger: logger})

	requireAuth, err := s.initBackend(logger)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	if s.opts.AuthProvider == nil {
		if requireAuth {
			s.opts.AuthProvider = s.sessions
		} else {
			s.opts.AuthProvider = &extensions.NopAuthProvider{}
		}
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = extensions.NewSlogAuditLogger(logger)
	}

	s.initRouter(logger)
	return s, nil
}

// Run serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.sessions.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting overrides server",
			slog.Int("port", s.config.Port),
			slog.String("backend", s.config.Backend),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down overrides server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	s.cleanup()
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initJournal(logger *slog.Logger) error {
	cfg := journal.InMemoryConfig()
	if s.config.JournalDir != "" {
		if err := os.MkdirAll(s.config.JournalDir, 0o750); err != nil {
			return fmt.Errorf("failed to create journal dir: %w", err)
		}
		cfg = journal.DefaultConfig(s.config.JournalDir)
	}
	cfg.Logger = logger

	j, err := journal.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open reconciliation journal: %w", err)
	}
	s.journal = j
	return nil
}

// initBackend creates the server directory and reports whether a login is
// required.
func (s *service) initBackend(logger *slog.Logger) (bool, error) {
	switch s.config.Backend {
	case BackendMemory:
		store := remote.NewMemoryStore("local-user")
		if s.config.SeedDir != "" {
			n, err := SeedMemoryStore(store, s.config.SeedDir)
			if err != nil {
				return false, fmt.Errorf("failed to seed memory store: %w", err)
			}
			s.logger.Info("memory store seeded",
				slog.String("dir", s.config.SeedDir),
				slog.Int("files", n),
			)
		}
		s.directory = servers.NewStatic("", store)
		return s.config.RequireAuth, nil

	case BackendUA:
		registry, err := servers.NewRegistry(s.config.Servers, s.sessions, logger)
		if err != nil {
			return false, fmt.Errorf("failed to load servers: %w", err)
		}
		s.directory = registry
		return true, nil

	default:
		return false, fmt.Errorf("unknown store backend %q", s.config.Backend)
	}
}

func (s *service) initRouter(logger *slog.Logger) {
	metrics := observability.NewAPIMetrics(s.telemetry.Registry)
	index := cache.NewFolderIndex(s.config.FolderCacheTTL, logger)

	eng := engine.New(s.config.Engine,
		engine.WithLogger(logger),
		engine.WithTracer(engine.NewTracer(logger, s.config.Telemetry.TraceExporter != telemetry.ExporterNone)),
		engine.WithCacheHook(index),
		engine.WithIncidentRecorder(s.journal),
	)

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.serviceName()))

	routes.SetupRoutes(s.router, routes.Handlers{
		Overrides: handlers.NewOverridesHandler(handlers.OverridesConfig{
			Engine:            eng,
			Stores:            s.directory,
			Audit:             s.opts.AuditLogger,
			Metrics:           metrics,
			Logger:            logger,
			KeepAliveInterval: s.config.KeepAliveInterval,
		}),
		Reconciliation: handlers.NewReconciliationHandler(s.journal, s.opts.AuditLogger, logger),
		Folders:        handlers.NewFoldersHandler(index, s.directory),
		Auth: handlers.NewAuthHandler(handlers.AuthConfig{
			Sessions:     s.sessions,
			Servers:      s.directory,
			Audit:        s.opts.AuditLogger,
			Metrics:      metrics,
			Logger:       logger,
			CookieSecure: s.config.CookieSecure,
			BasicEnabled: s.config.BasicAuthEnabled,
			CertEnabled:  s.config.CertAuthEnabled,
		}),
		Metrics: s.telemetry.MetricsHandler(),
	}, s.opts)
}

func (s *service) serviceName() string {
	if s.config.Telemetry.ServiceName != "" {
		return s.config.Telemetry.ServiceName
	}
	return telemetry.DefaultConfig().ServiceName
}

// cleanup releases resources. Safe to call more than once.
func (s *service) cleanup() {
	ctx := context.Background()
	if s.opts.AuditLogger != nil {
		if err := s.opts.AuditLogger.Flush(ctx); err != nil {
			s.logger.Warn("audit flush failed", slog.String("error", err.Error()))
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("journal close failed", slog.String("error", err.Error()))
		}
		s.journal = nil
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		s.telemetry = nil
	}
}

// SeedMemoryStore copies every regular file under dir into store and
// returns the number of files seeded.
func SeedMemoryStore(store *remote.MemoryStore, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." {
				store.SeedFolder(rel)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		store.Seed(rel, string(data))
		n++
		return nil
	})
	return n, err
}
