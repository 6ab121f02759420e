// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// FolderSummary counts the direct children of a folder.
type FolderSummary struct {
	ServerID      string    `json:"serverId"`
	Node          string    `json:"node"`
	Files         int       `json:"files"`
	Folders       int       `json:"folders"`
	OverrideFiles int       `json:"overrideFiles"`
	RefreshedAt   time.Time `json:"refreshedAt"`
}

type folderKey struct {
	serverID string
	node     string
}

// FolderIndex caches folder summaries computed from store listings.
//
// # Description
//
// Summaries are computed on first request and kept until invalidated by
// RefreshFolder or RefreshOverviewNode, or until TTL expires. Invalidation
// only drops entries; recomputation happens on the next Summary call with
// the caller's store, so the index never holds store credentials.
//
// # Thread Safety
//
// Safe for concurrent use.
type FolderIndex struct {
	mu       sync.RWMutex
	entries  map[folderKey]FolderSummary
	ttl      time.Duration
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
}

// NewFolderIndex creates an empty index. A zero ttl keeps entries until
// they are invalidated.
func NewFolderIndex(ttl time.Duration, logger *slog.Logger) *FolderIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderIndex{
		entries:  make(map[folderKey]FolderSummary),
		ttl:      ttl,
		pageSize: 500,
		now:      time.Now,
		logger:   logger.With("component", "cache.FolderIndex"),
	}
}

// Summary returns the cached summary for node, computing it from store
// when absent or expired.
func (f *FolderIndex) Summary(ctx context.Context, store remote.Store, serverID, node string) (FolderSummary, error) {
	key := folderKey{serverID: serverID, node: normalizeNode(node)}

	f.mu.RLock()
	cached, ok := f.entries[key]
	f.mu.RUnlock()
	if ok && (f.ttl <= 0 || f.now().Sub(cached.RefreshedAt) < f.ttl) {
		return cached, nil
	}

	entries, err := remote.ListAll(ctx, store, key.node, f.pageSize)
	if err != nil {
		return FolderSummary{}, fmt.Errorf("summarize %s: %w", key.node, err)
	}
	summary := FolderSummary{ServerID: serverID, Node: key.node, RefreshedAt: f.now()}
	for _, e := range entries {
		switch {
		case e.IsFolder:
			summary.Folders++
		case strings.HasSuffix(e.PathName, ".override.json"):
			summary.OverrideFiles++
			summary.Files++
		default:
			summary.Files++
		}
	}

	f.mu.Lock()
	f.entries[key] = summary
	f.mu.Unlock()
	return summary, nil
}

// Cached reports whether a summary for node is held.
func (f *FolderIndex) Cached(serverID, node string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[folderKey{serverID: serverID, node: normalizeNode(node)}]
	return ok
}

// RefreshFolder implements Hook.
func (f *FolderIndex) RefreshFolder(_ context.Context, serverID, node string) error {
	node = normalizeNode(node)
	f.mu.Lock()
	delete(f.entries, folderKey{serverID: serverID, node: node})
	f.mu.Unlock()

	f.logger.Debug("folder summary invalidated",
		slog.String("server_id", serverID),
		slog.String("node", node),
	)
	return nil
}

// RefreshOverviewNode implements Hook. The node and every ancestor are
// invalidated because their recursive counts include node.
func (f *FolderIndex) RefreshOverviewNode(_ context.Context, serverID, node string) error {
	node = normalizeNode(node)
	f.mu.Lock()
	dropped := 0
	for current := node; ; {
		key := folderKey{serverID: serverID, node: current}
		if _, ok := f.entries[key]; ok {
			delete(f.entries, key)
			dropped++
		}
		if current == "" {
			break
		}
		if i := strings.LastIndex(current, "/"); i >= 0 {
			current = current[:i]
		} else {
			current = ""
		}
	}
	f.mu.Unlock()

	f.logger.Debug("overview invalidated",
		slog.String("server_id", serverID),
		slog.String("node", node),
		slog.Int("dropped", dropped),
	)
	return nil
}

func normalizeNode(node string) string {
	return strings.Trim(node, "/")
}

var _ Hook = (*FolderIndex)(nil)
