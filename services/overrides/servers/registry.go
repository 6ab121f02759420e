// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package servers maps server ids to rule stores.
//
// Registry serves configured Unified Assurance servers: it verifies logins
// and hands out one rules API client per session. Static serves a single
// store, typically an in-memory one, to every caller.
package servers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

// Authentication methods.
const (
	AuthBasic       = "basic"
	AuthCertificate = "certificate"
)

var (
	// ErrUnknownServer indicates the server id is not configured.
	ErrUnknownServer = errors.New("server not found")

	// ErrUnsupportedAuth indicates an authentication method other than
	// basic or certificate.
	ErrUnsupportedAuth = errors.New("unsupported auth type")
)

// Server is one configured rule store server.
type Server struct {
	ID          string `json:"server_id" yaml:"id"`
	Name        string `json:"server_name" yaml:"name"`
	BaseURL     string `json:"-" yaml:"base_url"`
	Environment string `json:"environment" yaml:"environment"`

	InsecureTLS       bool          `json:"-" yaml:"insecure_tls"`
	Timeout           time.Duration `json:"-" yaml:"timeout"`
	RequestsPerSecond float64       `json:"-" yaml:"requests_per_second"`
}

// Login is a login attempt against one server.
type Login struct {
	ServerID string
	AuthType string
	Username string
	Password string
	CertFile string
	KeyFile  string
}

// Registry holds configured servers and per-session rules API clients.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	servers  map[string]Server
	sessions *session.Store
	logger   *slog.Logger

	// httpClient overrides client construction. Used by tests.
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*remote.UAClient
}

// NewRegistry creates a registry over servers. Session credentials are read
// from sessions when a client is first needed.
func NewRegistry(servers []Server, sessions *session.Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]Server, len(servers))
	for _, s := range servers {
		if s.ID == "" || s.BaseURL == "" {
			return nil, fmt.Errorf("servers: id and base_url are required (got id=%q)", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("servers: duplicate id %q", s.ID)
		}
		byID[s.ID] = s
	}
	return &Registry{
		servers:  byID,
		sessions: sessions,
		logger:   logger.With("component", "servers.Registry"),
		clients:  make(map[string]*remote.UAClient),
	}, nil
}

// Server returns the configured server with id.
func (r *Registry) Server(id string) (Server, bool) {
	s, ok := r.servers[id]
	return s, ok
}

// List returns configured servers ordered by id.
func (r *Registry) List() []Server {
	out := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Authenticate verifies a login against its server.
//
// # Description
//
// Basic logins call the rules API login and read the edit permission from
// its response. Certificate logins list the rule tree root and are always
// read-only.
//
// # Outputs
//
//   - *remote.LoginResult: Verified login.
//   - error: ErrUnknownServer, ErrUnsupportedAuth, remote.ErrUnauthorized
//     for rejected credentials, or a transport error.
func (r *Registry) Authenticate(ctx context.Context, login Login) (*remote.LoginResult, error) {
	server, ok := r.servers[login.ServerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, login.ServerID)
	}

	cfg := r.clientConfig(server)
	switch login.AuthType {
	case AuthBasic:
		cfg.Credentials = remote.StaticCredentials{Username: login.Username, Password: login.Password}
	case AuthCertificate:
		cfg.CertFile, cfg.KeyFile = login.CertFile, login.KeyFile
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuth, login.AuthType)
	}

	client, err := remote.NewUAClient(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res *remote.LoginResult
	if login.AuthType == AuthBasic {
		res, err = client.Login(ctx, login.Username, login.Password)
	} else {
		res, err = client.CheckAccess(ctx)
	}
	r.logger.Info("rules API login verified",
		slog.String("server_id", server.ID),
		slog.String("auth_type", login.AuthType),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// StoreFor returns the rules API client of the caller's session.
//
// Clients are created on first use and reused until Forget.
func (r *Registry) StoreFor(_ context.Context, info *extensions.AuthInfo) (remote.Store, error) {
	if info == nil || info.SessionID == "" {
		return nil, fmt.Errorf("no session: %w", extensions.ErrUnauthorized)
	}
	server, ok := r.servers[info.ServerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, info.ServerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[info.SessionID]; ok {
		return c, nil
	}

	creds, err := r.sessions.Credentials(info.SessionID)
	if err != nil {
		return nil, err
	}
	cfg := r.clientConfig(server)
	cfg.Credentials = creds
	client, err := remote.NewUAClient(cfg)
	if err != nil {
		return nil, err
	}
	r.clients[info.SessionID] = client
	return client, nil
}

// Forget drops the cached client of a session.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.clients, sessionID)
	r.mu.Unlock()
}

func (r *Registry) clientConfig(s Server) remote.UAConfig {
	return remote.UAConfig{
		BaseURL:           s.BaseURL,
		InsecureTLS:       s.InsecureTLS,
		Timeout:           s.Timeout,
		RequestsPerSecond: s.RequestsPerSecond,
		HTTPClient:        r.httpClient,
		Logger:            r.logger,
	}
}

// =============================================================================
// Static
// =============================================================================

// LocalServerID is the server id of Static when none is given.
const LocalServerID = "local"

// Static serves one store to every session.
type Static struct {
	server Server
	store  remote.Store
}

// NewStatic creates a single-store provider. An empty id becomes
// LocalServerID.
func NewStatic(id string, store remote.Store) *Static {
	if id == "" {
		id = LocalServerID
	}
	return &Static{
		server: Server{ID: id, Name: id, Environment: "local"},
		store:  store,
	}
}

// Server returns the single server when id matches.
func (s *Static) Server(id string) (Server, bool) {
	return s.server, id == s.server.ID
}

// List returns the single server.
func (s *Static) List() []Server { return []Server{s.server} }

// Authenticate accepts any credentials for the single server and grants
// edit permission.
func (s *Static) Authenticate(_ context.Context, login Login) (*remote.LoginResult, error) {
	if login.ServerID != s.server.ID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, login.ServerID)
	}
	return &remote.LoginResult{CanEditRules: true}, nil
}

// StoreFor returns the single store.
func (s *Static) StoreFor(context.Context, *extensions.AuthInfo) (remote.Store, error) {
	return s.store, nil
}

// Forget is a no-op.
func (s *Static) Forget(string) {}
