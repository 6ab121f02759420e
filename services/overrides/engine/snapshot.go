// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// overrideFile is an override file present in the override root listing.
//
// When loaded is false the content could not be read; this only happens on
// the best-effort read path.
type overrideFile struct {
	fileName string
	pathID   string
	listing  remote.Entry
	content  string
	record   *FileRecord
	loaded   bool
}

// entryFor returns the record entry for objectName. A per-object file
// without a matching object name contributes its only entry.
func (f *overrideFile) entryFor(objectName string) (RecordEntry, bool) {
	if f == nil || f.record == nil {
		return RecordEntry{}, false
	}
	if e, ok := f.record.Lookup(objectName); ok {
		return e, true
	}
	if len(f.record.Entries) == 1 && f.record.Entries[0].Entry.ObjectName == "" {
		return f.record.Entries[0], true
	}
	return RecordEntry{}, false
}

// snapshot is the remote override state of one rule file.
type snapshot struct {
	fileID     string
	location   Location
	objects    []string
	rootExists bool
	listing    []remote.Entry

	// perObject maps object names to their per-object file, when present.
	perObject map[string]*overrideFile

	// legacy holds the legacy files found, in preference order.
	legacy []*overrideFile

	// legacyIndex maps object names to their legacy entry. An object in
	// more than one legacy file resolves to the earliest file.
	legacyIndex map[string]legacyEntry
}

// legacyEntry is one object's entry in a legacy file.
type legacyEntry struct {
	file  *overrideFile
	entry RecordEntry
}

// loader reads snapshots from a store.
type loader struct {
	cfg    Config
	logger *slog.Logger
}

// load reads the rule file, lists the override root once and reads every
// override file relevant to the rule's objects.
//
// In strict mode any failed override read aborts the load, because the
// write path needs prior content for compensation. Otherwise failures are
// logged and the affected file is treated as absent.
func (l *loader) load(ctx context.Context, store remote.Store, fileID string, strict bool) (*snapshot, error) {
	loc, err := ResolveLocation(fileID, l.cfg.FamilyMarker)
	if err != nil {
		return nil, err
	}
	fileID = strings.Trim(fileID, "/")

	objects, err := l.readRuleObjects(ctx, store, fileID)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		fileID:     fileID,
		location:   loc,
		objects:    objects,
		rootExists: true,
		perObject:  make(map[string]*overrideFile),
	}

	listing, err := remote.ListAll(ctx, store, loc.OverrideRoot, l.cfg.ListPageSize)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		snap.rootExists = false
	case err != nil:
		return nil, &CallError{Op: "list", PathID: loc.OverrideRoot, Attempts: 1, Err: err}
	default:
		snap.listing = listing
	}

	for _, name := range BuildLegacyOverrideFileNames(loc.Vendor, loc.Method) {
		if entry, ok := findEntry(snap.listing, loc.OverrideRoot, name); ok {
			snap.legacy = append(snap.legacy, &overrideFile{fileName: name, pathID: entry.PathID, listing: entry})
		}
	}

	var files []*overrideFile
	for _, obj := range objects {
		name := BuildOverrideFileName(loc.Vendor, obj)
		if entry, ok := findEntry(snap.listing, loc.OverrideRoot, name); ok {
			f := &overrideFile{fileName: name, pathID: entry.PathID, listing: entry}
			snap.perObject[obj] = f
			files = append(files, f)
		}
	}
	files = append(files, snap.legacy...)

	if err := l.readFiles(ctx, store, files, strict); err != nil {
		return nil, err
	}

	snap.legacyIndex = make(map[string]legacyEntry)
	for _, f := range snap.legacy {
		if !f.loaded {
			continue
		}
		for obj, e := range f.record.Index() {
			if _, seen := snap.legacyIndex[obj]; !seen {
				snap.legacyIndex[obj] = legacyEntry{file: f, entry: e}
			}
		}
	}
	return snap, nil
}

func (l *loader) readRuleObjects(ctx context.Context, store remote.Store, fileID string) ([]string, error) {
	doc, err := store.Read(ctx, fileID, remote.HeadRevision)
	if err != nil {
		return nil, &CallError{Op: "read", PathID: fileID, Attempts: 1, Err: err}
	}
	if !doc.HasRuleText {
		return nil, &RuleTextError{
			PathID: fileID,
			Diagnostics: RuleTextDiagnostics{
				ResponseKeys: doc.ResponseKeys,
				HasRuleText:  false,
				RuleTextType: doc.RuleTextType,
			},
		}
	}
	objects, err := RuleObjectNames(doc.RuleText)
	if err != nil {
		return nil, &RuleTextError{
			PathID: fileID,
			Reason: err.Error(),
			Diagnostics: RuleTextDiagnostics{
				ResponseKeys: doc.ResponseKeys,
				HasRuleText:  true,
				RuleTextType: doc.RuleTextType,
			},
		}
	}
	return objects, nil
}

// readFiles reads override files concurrently, bounded by MetaConcurrency.
// Each goroutine writes only its own file.
func (l *loader) readFiles(ctx context.Context, store remote.Store, files []*overrideFile, strict bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MetaConcurrency)

	for _, f := range files {
		g.Go(func() error {
			err := l.readFile(gctx, store, f, strict)
			if err == nil {
				return nil
			}
			if strict {
				return err
			}
			l.logger.WarnContext(ctx, "override read failed",
				slog.String("path_id", f.pathID),
				slog.String("error", err.Error()),
			)
			return nil
		})
	}
	return g.Wait()
}

// readFile reads one override file. Strict reads retry like writes do.
func (l *loader) readFile(ctx context.Context, store remote.Store, f *overrideFile, strict bool) error {
	attempts := 1
	if strict {
		attempts = l.cfg.WriteAttempts
	}

	var doc *remote.Document
	var err error
	for i := 1; i <= attempts; i++ {
		doc, err = store.Read(ctx, f.pathID, remote.HeadRevision)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return &CallError{Op: "read", PathID: f.pathID, Attempts: attempts, Err: err}
	}

	record, err := ParseRecord(doc.RuleText)
	if err != nil {
		return fmt.Errorf("parse override file %s: %w", f.pathID, err)
	}
	f.content = doc.RuleText
	f.record = record
	f.loaded = true
	return nil
}

// findEntry locates fileName in a listing by exact name, full path, or
// path suffix.
func findEntry(listing []remote.Entry, root, fileName string) (remote.Entry, bool) {
	fullPath := root + "/" + fileName
	for _, e := range listing {
		if e.IsFolder {
			continue
		}
		id := strings.Trim(e.PathID, "/")
		if e.PathName == fileName || id == fullPath || strings.HasSuffix(id, "/"+fileName) {
			if e.PathID == "" {
				e.PathID = fullPath
			}
			return e, true
		}
	}
	return remote.Entry{}, false
}
