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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

// Planner turns a desired override set into an ordered write plan.
//
// # Thread Safety
//
// Stateless between calls; safe for concurrent use.
type Planner struct {
	loader *loader
	cfg    Config
	logger *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config, logger *slog.Logger) *Planner {
	applyConfigDefaults(&cfg)
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine.Planner")
	return &Planner{
		loader: &loader{cfg: cfg, logger: logger},
		cfg:    cfg,
		logger: logger,
	}
}

// Plan computes the writes that move fileID's overrides to desired.
//
// # Description
//
// Shape validation runs before any store call. The current state is then
// read strictly, so every write carries the content needed to revert it.
// Every rule object is visited: desired entries become targets, objects
// with a per-object file but no desired entry are cleared, and unchanged
// files produce no write. Legacy entries now covered by per-object files
// are removed from the legacy file, which is deleted once empty.
//
// # Inputs
//
//   - ctx: Context for store reads.
//   - store: Remote store.
//   - fileID: Rule file path.
//   - desired: Desired override entries as raw JSON.
//   - message: Commit message for every write.
//
// # Outputs
//
//   - *Plan: Per-object ops in rule-object order, legacy op last.
//   - error: *ValidationError, ErrInvalidPath, *RuleTextError or *CallError.
func (p *Planner) Plan(ctx context.Context, store remote.Store, fileID string, desired []json.RawMessage, message string) (*Plan, error) {
	entries, err := ValidateShape(desired)
	if err != nil {
		return nil, err
	}

	snap, err := p.loader.load(ctx, store, fileID, true)
	if err != nil {
		return nil, err
	}
	if err := validateOwnership(entries, snap.objects); err != nil {
		return nil, err
	}

	plan, err := buildPlan(snap, entries, message)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "override plan built",
		slog.String("file_id", plan.FileID),
		slog.Int("ops", len(plan.Ops)),
		slog.Bool("ensure_root", plan.EnsureRoot),
	)
	return plan, nil
}

// CheckPrecondition compares a caller etag with the plan's current etag.
// An empty etag, or a planner configured without enforcement, always
// passes.
func (p *Planner) CheckPrecondition(plan *Plan, etag string) error {
	if !p.cfg.EnforceETag || etag == "" {
		return nil
	}
	if etag != plan.CurrentETag {
		return fmt.Errorf("%w: have %s, current %s", ErrConflict, etag, plan.CurrentETag)
	}
	return nil
}

func buildPlan(snap *snapshot, entries []OverrideEntry, message string) (*Plan, error) {
	current, _ := activeOverrides(snap)
	plan := &Plan{
		FileID:        snap.fileID,
		Location:      snap.location,
		CommitMessage: message,
		CurrentETag:   ComputeETag(current),
		Ops:           []WriteOp{},
	}

	desiredBy := make(map[string]OverrideEntry, len(entries))
	for _, entry := range entries {
		desiredBy[entry.ObjectName] = entry
	}

	// covered holds objects that have a per-object file once the plan runs.
	covered := make(map[string]bool)
	method := snap.location.Method

	for _, obj := range snap.objects {
		file := snap.perObject[obj]
		if file != nil {
			covered[obj] = true
		}

		var target OverrideEntry
		desiredEntry, hasDesired := desiredBy[obj]
		switch {
		case hasDesired:
			target = NormalizeEntry(desiredEntry, obj, method)
			plan.Desired = append(plan.Desired, target)
			if file == nil && !target.HasProcessors() {
				// A cleared entry without a per-object file only drains the
				// legacy entry, if any.
				if _, inLegacy := snap.legacyIndex[obj]; !inLegacy {
					continue
				}
			}
		case file != nil:
			base := OverrideEntry{}
			if e, ok := file.entryFor(obj); ok {
				base = e.Entry
			}
			target = NormalizeEntry(base, obj, method)
			target.Processors = []json.RawMessage{}
		default:
			continue
		}

		payload, err := SerializeEntry(target)
		if err != nil {
			return nil, err
		}

		fileName := BuildOverrideFileName(snap.location.Vendor, obj)
		if file != nil {
			if strings.TrimSpace(file.content) == strings.TrimSpace(payload) {
				continue
			}
			plan.Ops = append(plan.Ops, WriteOp{
				PathID:          file.pathID,
				FileName:        file.fileName,
				Action:          ActionUpdate,
				Payload:         payload,
				PreviousContent: file.content,
				ObjectNames:     []string{obj},
			})
			continue
		}

		plan.Ops = append(plan.Ops, WriteOp{
			PathID:      snap.location.OverrideRoot + "/" + fileName,
			FileName:    fileName,
			Action:      ActionCreate,
			Payload:     payload,
			ObjectNames: []string{obj},
		})
		covered[obj] = true
		if !snap.rootExists {
			plan.EnsureRoot = true
		}
	}

	for _, legacy := range snap.legacy {
		legacyOp, err := planLegacy(legacy, covered)
		if err != nil {
			return nil, err
		}
		if legacyOp != nil {
			plan.Ops = append(plan.Ops, *legacyOp)
		}
	}
	return plan, nil
}

// planLegacy returns the write that removes covered entries from one
// legacy file, or nil when nothing changes.
func planLegacy(legacy *overrideFile, covered map[string]bool) (*WriteOp, error) {
	if !legacy.loaded {
		return nil, nil
	}

	remove := make(map[string]bool)
	var removed []string
	for _, e := range legacy.record.Entries {
		name := e.Entry.ObjectName
		if covered[name] && !remove[name] {
			remove[name] = true
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	remaining := legacy.record.Without(remove)
	if len(remaining.Entries) == 0 {
		return &WriteOp{
			PathID:          legacy.pathID,
			FileName:        legacy.fileName,
			Action:          ActionDelete,
			PreviousContent: legacy.content,
			ObjectNames:     removed,
			Legacy:          true,
		}, nil
	}

	payload, err := remaining.Serialize()
	if err != nil {
		return nil, err
	}
	return &WriteOp{
		PathID:          legacy.pathID,
		FileName:        legacy.fileName,
		Action:          ActionUpdate,
		Payload:         payload,
		PreviousContent: legacy.content,
		ObjectNames:     removed,
		Legacy:          true,
	}, nil
}
