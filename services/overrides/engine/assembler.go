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
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// Resolution is the effective override state of a rule file.
type Resolution struct {
	Location      Location
	Overrides     []OverrideEntry
	MetaByObject  map[string]OverrideMeta
	FilesByObject map[string]string
	ETag          string
	Exists        bool
}

// Assembler resolves the current overrides of rule files.
//
// # Thread Safety
//
// Stateless between calls; safe for concurrent use.
type Assembler struct {
	loader *loader
	cfg    Config
	logger *slog.Logger
	tracer *Tracer
}

// NewAssembler creates an assembler.
func NewAssembler(cfg Config, logger *slog.Logger, tracer *Tracer) *Assembler {
	applyConfigDefaults(&cfg)
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = NewTracer(logger, false)
	}
	logger = logger.With("component", "engine.Assembler")
	return &Assembler{
		loader: &loader{cfg: cfg, logger: logger},
		cfg:    cfg,
		logger: logger,
		tracer: tracer,
	}
}

// Resolve returns the active overrides of the rule file at fileID.
//
// # Description
//
// Per-object files take precedence over the legacy file. Only entries with
// at least one processor are returned. Unreadable override files and
// failed history lookups are logged and skipped.
//
// # Outputs
//
//   - *Resolution: Overrides in rule-object order, with metadata.
//   - error: ErrInvalidPath, a *RuleTextError, or a *CallError for the rule
//     read or the override root listing.
func (a *Assembler) Resolve(ctx context.Context, store remote.Store, fileID string) (*Resolution, error) {
	start := time.Now()
	ctx, span := a.tracer.StartResolve(ctx, fileID)

	snap, err := a.loader.load(ctx, store, fileID, false)
	if err != nil {
		a.tracer.EndResolve(span, nil, err)
		recordResolve(ctx, time.Since(start), false)
		return nil, err
	}

	res := a.assemble(ctx, store, snap)
	a.tracer.EndResolve(span, res, nil)
	recordResolve(ctx, time.Since(start), true)
	return res, nil
}

// source is the file backing one object's current override.
type source struct {
	file  *overrideFile
	entry RecordEntry
}

// currentSource returns the per-object file entry for obj, falling back to
// the legacy index.
func currentSource(snap *snapshot, obj string) (source, bool) {
	if f := snap.perObject[obj]; f != nil {
		if !f.loaded {
			return source{}, false
		}
		if e, ok := f.entryFor(obj); ok {
			return source{file: f, entry: e}, true
		}
		return source{file: f}, true
	}
	if e, ok := snap.legacyIndex[obj]; ok {
		return source{file: e.file, entry: e.entry}, true
	}
	return source{}, false
}

// activeOverrides returns the normalized entries with processors, in rule
// object order, and the file backing each one.
func activeOverrides(snap *snapshot) ([]OverrideEntry, map[string]*overrideFile) {
	overrides := make([]OverrideEntry, 0, len(snap.objects))
	backing := make(map[string]*overrideFile)
	for _, obj := range snap.objects {
		src, ok := currentSource(snap, obj)
		if !ok || src.entry.Raw == nil {
			continue
		}
		entry := NormalizeEntry(src.entry.Entry, obj, snap.location.Method)
		if !entry.HasProcessors() {
			continue
		}
		overrides = append(overrides, entry)
		backing[obj] = src.file
	}
	return overrides, backing
}

func (a *Assembler) assemble(ctx context.Context, store remote.Store, snap *snapshot) *Resolution {
	res := &Resolution{
		Location:      snap.location,
		MetaByObject:  make(map[string]OverrideMeta),
		FilesByObject: make(map[string]string),
		Exists:        len(snap.legacy) > 0 || len(snap.perObject) > 0,
	}

	overrides, backing := activeOverrides(snap)
	res.Overrides = overrides
	for obj, f := range backing {
		res.FilesByObject[obj] = f.fileName
	}

	metaByPath := a.fileMeta(ctx, store, backing)
	for obj, f := range backing {
		res.MetaByObject[obj] = metaByPath[f.pathID]
	}
	res.ETag = ComputeETag(res.Overrides)
	return res
}

// fileMeta builds metadata for each distinct backing file. The listing is
// authoritative for identity; one history lookup per file fills missing
// modification fields, and the revision label supplies the user last.
func (a *Assembler) fileMeta(ctx context.Context, store remote.Store, backing map[string]*overrideFile) map[string]OverrideMeta {
	seen := make(map[string]bool)
	var files []*overrideFile
	for _, f := range backing {
		if !seen[f.pathID] {
			seen[f.pathID] = true
			files = append(files, f)
		}
	}

	metas := make([]OverrideMeta, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MetaConcurrency)
	for i, f := range files {
		g.Go(func() error {
			metas[i] = a.metaFor(gctx, store, f)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]OverrideMeta, len(files))
	for i, f := range files {
		out[f.pathID] = metas[i]
	}
	return out
}

func (a *Assembler) metaFor(ctx context.Context, store remote.Store, f *overrideFile) OverrideMeta {
	meta := OverrideMeta{
		PathID:     f.pathID,
		PathName:   orDefault(f.listing.PathName, f.fileName),
		Revision:   f.listing.Revision,
		Modified:   f.listing.Modified,
		ModifiedBy: f.listing.ModifiedBy,
	}

	history, err := store.History(ctx, f.pathID, 1, 0)
	if err != nil {
		a.logger.WarnContext(ctx, "override history lookup failed",
			slog.String("path_id", f.pathID),
			slog.String("error", err.Error()),
		)
		return meta
	}
	if len(history) == 0 {
		return meta
	}
	latest := history[0]
	if meta.Revision == "" {
		meta.Revision = latest.Revision
	}
	if meta.Modified == "" {
		meta.Modified = latest.Modified
	}
	if meta.ModifiedBy == "" {
		meta.ModifiedBy = latest.ModifiedBy
	}
	if meta.ModifiedBy == "" && latest.RevisionName != "" {
		meta.ModifiedBy = ParseRevisionName(latest.RevisionName).User
	}
	return meta
}

// NormalizeEntry fills default values for an override of objectName.
//
// The object name and type are always set; processors default to empty.
func NormalizeEntry(entry OverrideEntry, objectName, method string) OverrideEntry {
	out := entry
	out.Name = orDefault(entry.Name, objectName+" Override")
	out.Description = orDefault(entry.Description, "Overrides for "+objectName)
	out.Domain = orDefault(entry.Domain, "fault")
	out.Method = orDefault(entry.Method, orDefault(method, "trap"))
	out.Scope = orDefault(entry.Scope, "post")
	out.ObjectName = objectName
	out.Type = "override"
	if out.Processors == nil {
		out.Processors = []json.RawMessage{}
	}
	return out
}

// ComputeETag returns the hex BLAKE3-256 digest of the serialized overrides.
func ComputeETag(overrides []OverrideEntry) string {
	if overrides == nil {
		overrides = []OverrideEntry{}
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
