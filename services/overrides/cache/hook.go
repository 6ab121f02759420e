// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the folder and overview caches that depend on rule
// store contents, and the hook used to invalidate them after a commit.
package cache

import (
	"context"
	"errors"
)

// Hook is notified after override writes commit.
//
// Calls are best-effort; callers log returned errors and continue.
type Hook interface {
	// RefreshFolder invalidates the cached summary of one folder.
	RefreshFolder(ctx context.Context, serverID, node string) error

	// RefreshOverviewNode invalidates the overview of node and its ancestors.
	RefreshOverviewNode(ctx context.Context, serverID, node string) error
}

// NopHook ignores all notifications.
type NopHook struct{}

// RefreshFolder implements Hook.
func (NopHook) RefreshFolder(context.Context, string, string) error { return nil }

// RefreshOverviewNode implements Hook.
func (NopHook) RefreshOverviewNode(context.Context, string, string) error { return nil }

// Multi fans a notification out to several hooks. Every hook is called;
// the errors are joined.
type Multi []Hook

// RefreshFolder implements Hook.
func (m Multi) RefreshFolder(ctx context.Context, serverID, node string) error {
	var errs []error
	for _, h := range m {
		if err := h.RefreshFolder(ctx, serverID, node); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshOverviewNode implements Hook.
func (m Multi) RefreshOverviewNode(ctx context.Context, serverID, node string) error {
	var errs []error
	for _, h := range m {
		if err := h.RefreshOverviewNode(ctx, serverID, node); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Hook = NopHook{}
	_ Hook = Multi(nil)
)
