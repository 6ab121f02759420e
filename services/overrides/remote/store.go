// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote provides access to the hierarchical rule store.
//
// The store is versioned per file but offers no multi-file transactions.
// Two implementations are provided: UAClient talks to a Unified Assurance
// rules API over HTTPS, and MemoryStore keeps files in process for
// development and tests.
package remote

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrAlreadyExists indicates a create targeted an existing path.
	ErrAlreadyExists = errors.New("remote path already exists")

	// ErrUnauthorized indicates the remote rejected the credentials.
	ErrUnauthorized = errors.New("remote store rejected credentials")

	// ErrFolderNotEmpty indicates a folder delete while the folder has children.
	ErrFolderNotEmpty = errors.New("remote folder not empty")
)

// HeadRevision selects the latest committed revision.
const HeadRevision = "HEAD"

// Entry is one row of a directory listing.
type Entry struct {
	PathID     string `json:"pathId"`
	PathName   string `json:"pathName"`
	IsFolder   bool   `json:"isFolder"`
	Revision   string `json:"revision,omitempty"`
	Modified   string `json:"modified,omitempty"`
	ModifiedBy string `json:"modifiedBy,omitempty"`
}

// ListPage is one page of a directory listing.
type ListPage struct {
	Entries []Entry
	Total   int
}

// Document is a read rule or override file.
//
// HasRuleText is false when the response carried no usable RuleText;
// ResponseKeys and RuleTextType then describe what was received.
type Document struct {
	PathID       string
	RuleText     string
	HasRuleText  bool
	RuleTextType string
	ResponseKeys []string
}

// Revision is one history record, newest first.
type Revision struct {
	Revision     string `json:"revision,omitempty"`
	RevisionName string `json:"revisionName,omitempty"`
	Modified     string `json:"modified,omitempty"`
	ModifiedBy   string `json:"modifiedBy,omitempty"`
}

// CreateRequest describes a new file.
//
// TargetNode, when set, is the full path of the new file; otherwise the
// path is ParentNode + "/" + Name.
type CreateRequest struct {
	Name       string
	Content    string
	ParentNode string
	Message    string
	TargetNode string
}

// Path returns the full path the request creates.
func (r CreateRequest) Path() string {
	if r.TargetNode != "" {
		return r.TargetNode
	}
	if r.ParentNode == "" || r.ParentNode == "/" {
		return r.Name
	}
	return r.ParentNode + "/" + r.Name
}

// Store is the remote rule store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns one page of the direct children of node. A node that
	// does not exist returns ErrNotFound.
	List(ctx context.Context, node string, start, limit int) (*ListPage, error)

	// Read returns the file at pathID for the given revision.
	Read(ctx context.Context, pathID, revision string) (*Document, error)

	// Create writes a new file.
	Create(ctx context.Context, req CreateRequest) error

	// Update replaces the content of an existing file.
	Update(ctx context.Context, pathID, content, message string) error

	// Delete removes a file or an empty folder.
	Delete(ctx context.Context, pathID, message string) error

	// History returns revision records for pathID, newest first.
	History(ctx context.Context, pathID string, limit, offset int) ([]Revision, error)

	// CreateFolder creates a folder. An existing folder returns ErrAlreadyExists.
	CreateFolder(ctx context.Context, path string) error
}

// ListAll accumulates every page of node's listing.
func ListAll(ctx context.Context, store Store, node string, pageSize int) ([]Entry, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var all []Entry
	for start := 0; ; start += pageSize {
		page, err := store.List(ctx, node, start, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if len(page.Entries) < pageSize || (page.Total > 0 && len(all) >= page.Total) {
			return all, nil
		}
	}
}
