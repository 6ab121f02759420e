// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session keeps authenticated rule store sessions.
//
// A session binds a user to one rule store server and records whether the
// user may edit rules. Rule store credentials are sealed in memguard
// enclaves and only opened for the duration of a request.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// CookieName is the session cookie set on login.
const CookieName = "FCOM_SESSION_ID"

// DefaultTTL is how long a session stays valid after login.
const DefaultTTL = 8 * time.Hour

// ErrExpired indicates the session existed but its TTL has passed.
var ErrExpired = errors.New("session expired")

// Session is one authenticated user on one server.
type Session struct {
	ID           string    `json:"sessionId"`
	UserID       string    `json:"user"`
	ServerID     string    `json:"serverId"`
	AuthMethod   string    `json:"authMethod"`
	CanEditRules bool      `json:"canEditRules"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`

	creds *memguard.Enclave
}

// credentials implements remote.Credentials by opening the session enclave.
type credentials struct {
	enclave *memguard.Enclave
}

// BasicAuth implements remote.Credentials.
//
// The returned strings are copies; the enclave buffer is destroyed before
// returning.
func (c credentials) BasicAuth() (string, string, error) {
	if c.enclave == nil {
		return "", "", errors.New("session has no stored credentials")
	}
	buf, err := c.enclave.Open()
	if err != nil {
		return "", "", fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()

	data := buf.Bytes()
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), string(data[i+1:]), nil
		}
	}
	return "", "", errors.New("malformed credential enclave")
}

// Config configures a Store.
type Config struct {
	// TTL is the session lifetime. Default: DefaultTTL.
	TTL time.Duration

	// SweepInterval is how often Run removes expired sessions.
	// Default: 10 minutes.
	SweepInterval time.Duration

	// Logger uses slog.Default() if nil.
	Logger *slog.Logger
}

// Store holds sessions in memory.
//
// # Description
//
// Sessions live until logout or TTL expiry; there is no sliding renewal.
// Sessions do not survive a restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	sweep    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      cfg.TTL,
		sweep:    cfg.SweepInterval,
		now:      time.Now,
		logger:   cfg.Logger.With("component", "session.Store"),
	}
}

// CreateRequest describes a login that has already been verified.
type CreateRequest struct {
	UserID       string
	ServerID     string
	AuthMethod   string
	CanEditRules bool

	// Username and Password are sealed into the session. Empty for
	// certificate sessions.
	Username string
	Password string
}

// Create starts a session.
func (s *Store) Create(req CreateRequest) (*Session, error) {
	if req.UserID == "" || req.ServerID == "" {
		return nil, errors.New("session: user and server are required")
	}

	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		ServerID:     req.ServerID,
		AuthMethod:   req.AuthMethod,
		CanEditRules: req.CanEditRules,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if req.Username != "" || req.Password != "" {
		secret := make([]byte, 0, len(req.Username)+1+len(req.Password))
		secret = append(secret, req.Username...)
		secret = append(secret, 0)
		secret = append(secret, req.Password...)
		// NewEnclave wipes secret.
		sess.creds = memguard.NewEnclave(secret)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("user", sess.UserID),
		slog.String("server_id", sess.ServerID),
		slog.Bool("can_edit_rules", sess.CanEditRules),
		slog.Bool("credentials_stored", sess.creds != nil),
	)
	return sess, nil
}

// Get returns the live session with id.
//
// Unknown ids return extensions.ErrUnauthorized. Expired sessions are
// removed and return an error matching both ErrExpired and
// extensions.ErrUnauthorized.
func (s *Store) Get(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("no session cookie: %w", extensions.ErrUnauthorized)
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session: %w", extensions.ErrUnauthorized)
	}
	if !s.now().Before(sess.ExpiresAt) {
		s.Delete(id)
		return nil, fmt.Errorf("%w: %w", ErrExpired, extensions.ErrUnauthorized)
	}
	return sess, nil
}

// Validate implements extensions.AuthProvider. The token is the session
// cookie value.
func (s *Store) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	sess, err := s.Get(token)
	if err != nil {
		return nil, err
	}
	info := &extensions.AuthInfo{
		UserID:       sess.UserID,
		SessionID:    sess.ID,
		ServerID:     sess.ServerID,
		CanEditRules: sess.CanEditRules,
		Roles:        []string{"viewer"},
	}
	if sess.CanEditRules {
		info.Roles = append(info.Roles, "editor")
	}
	return info, nil
}

// Credentials returns the sealed rule store credentials of a live session.
func (s *Store) Credentials(id string) (remote.Credentials, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.creds == nil {
		return nil, fmt.Errorf("session %s has no basic-auth credentials", id)
	}
	return credentials{enclave: sess.creds}, nil
}

// Delete ends a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return ok
}

// Len returns the number of sessions held, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("expired sessions swept", slog.Int("removed", removed))
	}
	return removed
}

// Run sweeps expired sessions every SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

var (
	_ extensions.AuthProvider = (*Store)(nil)
	_ remote.Credentials      = credentials{}
)
