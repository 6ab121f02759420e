// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store method names recorded by MemoryStore.
const (
	MethodList         = "list"
	MethodRead         = "read"
	MethodCreate       = "create"
	MethodUpdate       = "update"
	MethodDelete       = "delete"
	MethodHistory      = "history"
	MethodCreateFolder = "createFolder"
)

// Call is one recorded store invocation.
type Call struct {
	Method string
	PathID string
}

// Mutating reports whether the call changes remote state.
func (c Call) Mutating() bool {
	switch c.Method {
	case MethodCreate, MethodUpdate, MethodDelete, MethodCreateFolder:
		return true
	}
	return false
}

// Fault decides whether a call fails. Returning nil lets the call proceed.
type Fault func(call Call) error

// FailAlways fails every call matching method and pathID.
func FailAlways(method, pathID string, err error) Fault {
	return func(call Call) error {
		if call.Method == method && call.PathID == pathID {
			return err
		}
		return nil
	}
}

// FailTimes fails the first n calls matching method and pathID.
func FailTimes(method, pathID string, n int, err error) Fault {
	var mu sync.Mutex
	remaining := n
	return func(call Call) error {
		if call.Method != method || call.PathID != pathID {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		remaining--
		return err
	}
}

type memFile struct {
	content    string
	noRuleText bool
	revisions  []Revision
	lastRev    int
}

// MemoryStore is an in-process Store with revision history, call recording
// and fault injection.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	files   map[string]*memFile
	folders map[string]bool
	calls   []Call
	faults  []Fault
	user    string
	now     func() time.Time
}

// NewMemoryStore creates an empty store whose revisions are attributed to user.
func NewMemoryStore(user string) *MemoryStore {
	if user == "" {
		user = "system"
	}
	return &MemoryStore{
		files:   make(map[string]*memFile),
		folders: map[string]bool{"": true},
		user:    user,
		now:     time.Now,
	}
}

// Seed writes a file without recording a call. Parent folders are created.
func (s *MemoryStore) Seed(pathID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pathID = cleanPath(pathID)
	s.mkdirAllLocked(parentOf(pathID))
	f := s.files[pathID]
	if f == nil {
		f = &memFile{}
		s.files[pathID] = f
	}
	s.commitLocked(f, content, "seed")
}

// SeedWithoutRuleText creates a file whose reads return no RuleText.
func (s *MemoryStore) SeedWithoutRuleText(pathID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pathID = cleanPath(pathID)
	s.mkdirAllLocked(parentOf(pathID))
	s.files[pathID] = &memFile{noRuleText: true}
}

// SeedFolder creates a folder and its parents without recording a call.
func (s *MemoryStore) SeedFolder(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(cleanPath(p))
}

// Content returns the current content of pathID.
func (s *MemoryStore) Content(pathID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[cleanPath(pathID)]
	if !ok {
		return "", false
	}
	return f.content, true
}

// Snapshot returns the content of every file under prefix.
func (s *MemoryStore) Snapshot(prefix string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix = cleanPath(prefix)
	out := make(map[string]string)
	for p, f := range s.files {
		if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			out[p] = f.content
		}
	}
	return out
}

// Calls returns a copy of the recorded calls.
func (s *MemoryStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// MutatingCalls returns the recorded calls that change remote state.
func (s *MemoryStore) MutatingCalls() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Mutating() {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// InjectFault adds a fault consulted before every call.
func (s *MemoryStore) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// ClearFaults removes all injected faults.
func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, node string, start, limit int) (*ListPage, error) {
	node = cleanPath(node)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodList, node); err != nil {
		return nil, err
	}
	if !s.folders[node] {
		return nil, fmt.Errorf("list %s: %w", node, ErrNotFound)
	}

	var entries []Entry
	for p, f := range s.files {
		if parentOf(p) != node {
			continue
		}
		entry := Entry{PathID: p, PathName: path.Base(p)}
		if n := len(f.revisions); n > 0 {
			entry.Revision = f.revisions[0].Revision
			entry.Modified = f.revisions[0].Modified
		}
		entries = append(entries, entry)
	}
	for p := range s.folders {
		if p != "" && parentOf(p) == node {
			entries = append(entries, Entry{PathID: p, PathName: path.Base(p), IsFolder: true})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PathID < entries[j].PathID })

	total := len(entries)
	if start >= total {
		return &ListPage{Total: total}, nil
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}
	return &ListPage{Entries: entries[start:end], Total: total}, nil
}

// Read implements Store. Only the latest content is kept, so revision is
// ignored.
func (s *MemoryStore) Read(ctx context.Context, pathID, revision string) (*Document, error) {
	pathID = cleanPath(pathID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodRead, pathID); err != nil {
		return nil, err
	}
	f, ok := s.files[pathID]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", pathID, ErrNotFound)
	}
	if f.noRuleText {
		return &Document{
			PathID:       pathID,
			RuleTextType: "undefined",
			ResponseKeys: []string{"success", "message"},
		}, nil
	}
	return &Document{
		PathID:       pathID,
		RuleText:     f.content,
		HasRuleText:  true,
		RuleTextType: "string",
		ResponseKeys: []string{"success", "data"},
	}, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, req CreateRequest) error {
	pathID := cleanPath(req.Path())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodCreate, pathID); err != nil {
		return err
	}
	if _, exists := s.files[pathID]; exists {
		return fmt.Errorf("create %s: %w", pathID, ErrAlreadyExists)
	}
	if !s.folders[parentOf(pathID)] {
		return fmt.Errorf("create %s: parent folder: %w", pathID, ErrNotFound)
	}
	f := &memFile{}
	s.files[pathID] = f
	s.commitLocked(f, req.Content, req.Message)
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, pathID, content, message string) error {
	pathID = cleanPath(pathID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodUpdate, pathID); err != nil {
		return err
	}
	f, ok := s.files[pathID]
	if !ok {
		return fmt.Errorf("update %s: %w", pathID, ErrNotFound)
	}
	s.commitLocked(f, content, message)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, pathID, message string) error {
	pathID = cleanPath(pathID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodDelete, pathID); err != nil {
		return err
	}
	if _, ok := s.files[pathID]; ok {
		delete(s.files, pathID)
		return nil
	}
	if pathID == "" || !s.folders[pathID] {
		return fmt.Errorf("delete %s: %w", pathID, ErrNotFound)
	}
	for p := range s.files {
		if strings.HasPrefix(p, pathID+"/") {
			return fmt.Errorf("delete %s: %w", pathID, ErrFolderNotEmpty)
		}
	}
	for p := range s.folders {
		if strings.HasPrefix(p, pathID+"/") {
			return fmt.Errorf("delete %s: %w", pathID, ErrFolderNotEmpty)
		}
	}
	delete(s.folders, pathID)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, pathID string, limit, offset int) ([]Revision, error) {
	pathID = cleanPath(pathID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodHistory, pathID); err != nil {
		return nil, err
	}
	f, ok := s.files[pathID]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", pathID, ErrNotFound)
	}
	if offset >= len(f.revisions) {
		return nil, nil
	}
	end := len(f.revisions)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Revision, end-offset)
	copy(out, f.revisions[offset:end])
	return out, nil
}

// CreateFolder implements Store.
func (s *MemoryStore) CreateFolder(ctx context.Context, p string) error {
	p = cleanPath(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recordLocked(ctx, MethodCreateFolder, p); err != nil {
		return err
	}
	if s.folders[p] {
		return fmt.Errorf("create folder %s: %w", p, ErrAlreadyExists)
	}
	s.mkdirAllLocked(p)
	return nil
}

func (s *MemoryStore) recordLocked(ctx context.Context, method, pathID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := Call{Method: method, PathID: pathID}
	s.calls = append(s.calls, call)
	for _, fault := range s.faults {
		if err := fault(call); err != nil {
			return fmt.Errorf("%s %s: %w", method, pathID, err)
		}
	}
	return nil
}

func (s *MemoryStore) commitLocked(f *memFile, content, message string) {
	f.content = content
	f.noRuleText = false
	f.lastRev++
	ts := s.now().UTC().Format(time.RFC3339)
	rev := Revision{
		Revision:     fmt.Sprintf("%d", f.lastRev),
		RevisionName: fmt.Sprintf("r%d [%s][%s] %s", f.lastRev, ts, s.user, message),
		Modified:     ts,
		ModifiedBy:   s.user,
	}
	f.revisions = append([]Revision{rev}, f.revisions...)
}

func (s *MemoryStore) mkdirAllLocked(p string) {
	for p != "" {
		s.folders[p] = true
		p = parentOf(p)
	}
}

func cleanPath(p string) string {
	return strings.Trim(p, "/")
}

func parentOf(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

var _ Store = (*MemoryStore)(nil)
