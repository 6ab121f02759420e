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
	"context"
	"errors"
)

// ErrUnauthorized is returned when a session token is missing, unknown or
// expired. Implementations wrap it with additional context.
//
// Example:
//
//	if !ok {
//	    return nil, fmt.Errorf("session %s expired: %w", id, extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity attached to an authenticated request.
//
// Required fields:
//   - UserID: Unique identifier for the user
//   - ServerID: Rule store server the session is bound to
//
// Example:
//
//	info := &AuthInfo{
//	    UserID:       "alice",
//	    SessionID:    "0b6f...",
//	    ServerID:     "ua-prod",
//	    CanEditRules: true,
//	    Roles:        []string{"editor"},
//	}
type AuthInfo struct {
	// UserID identifies the user. Never empty.
	UserID string

	// SessionID is the opaque session identifier. Empty for providers
	// that do not use sessions.
	SessionID string

	// ServerID selects the rule store server for this session.
	ServerID string

	// CanEditRules permits override saves. Read-only sessions may resolve
	// overrides but not write them.
	CanEditRules bool

	// Roles contains the user's role memberships.
	Roles []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates session tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// NopAuthProvider returns a local editor bound to the "local" server. It
// is used when the service runs against an in-memory store.
//
// # Session Implementation
//
// session.Store implements AuthProvider: the token is the value of the
// session cookie and the returned AuthInfo carries the session's server
// and edit permission.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) for invalid tokens and
	// other errors for provider failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default authentication provider.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns the local editor. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:       "local-user",
		ServerID:     "local",
		CanEditRules: true,
		Roles:        []string{"editor"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
