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
	"encoding/json"
)

// =============================================================================
// Location
// =============================================================================

// Location is the override placement derived from a rule file path.
//
// Recomputed for every request; never persisted.
type Location struct {
	BasePath         string `json:"basePath"`
	Vendor           string `json:"vendor"`
	Method           string `json:"method,omitempty"`
	OverrideRoot     string `json:"overrideRoot"`
	OverrideFileName string `json:"overrideFileName"`
	OverridePath     string `json:"overridePath"`
}

// =============================================================================
// Override entries
// =============================================================================

// OverrideEntry is the customization record for one rule object.
//
// Processors hold patch operations as raw JSON so that entries read from
// legacy files keep their exact processor payloads. An empty slice means the
// override was explicitly cleared.
type OverrideEntry struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Domain      string            `json:"domain"`
	Method      string            `json:"method"`
	Scope       string            `json:"scope"`
	ObjectName  string            `json:"@objectName"`
	Type        string            `json:"_type"`
	Version     string            `json:"version,omitempty"`
	Processors  []json.RawMessage `json:"processors"`
}

// HasProcessors reports whether the entry carries at least one operation.
func (e OverrideEntry) HasProcessors() bool {
	return len(e.Processors) > 0
}

// PatchOp is a JSON-Patch style processor operation.
//
// Value is not interpreted; only the shape of the operation is validated.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
}

// OverrideMeta describes the remote file backing an object's override.
type OverrideMeta struct {
	PathID     string `json:"pathId,omitempty"`
	PathName   string `json:"pathName,omitempty"`
	Revision   string `json:"revision,omitempty"`
	Modified   string `json:"modified,omitempty"`
	ModifiedBy string `json:"modifiedBy,omitempty"`
}

// =============================================================================
// Write plans
// =============================================================================

// Action is a remote mutation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// WriteOp is one planned remote mutation.
//
// PreviousContent is captured from the remote store while planning, before
// any mutation, and is the only source used for compensation.
type WriteOp struct {
	PathID          string   `json:"pathId"`
	FileName        string   `json:"fileName"`
	Action          Action   `json:"action"`
	Payload         string   `json:"payload,omitempty"`
	PreviousContent string   `json:"previousContent,omitempty"`
	ObjectNames     []string `json:"objectNames,omitempty"`
	Legacy          bool     `json:"legacy,omitempty"`
}

// Plan is the ordered write-ahead plan for one save.
type Plan struct {
	FileID        string    `json:"fileId"`
	Location      Location  `json:"location"`
	CommitMessage string    `json:"commitMessage"`
	EnsureRoot    bool      `json:"ensureRoot"`
	CurrentETag   string    `json:"currentEtag"`
	Ops           []WriteOp `json:"ops"`

	// Desired is the normalized desired set, in rule-object order.
	Desired []OverrideEntry `json:"-"`
}

// Empty reports whether the plan requires no remote writes.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Ops) == 0
}

// =============================================================================
// Execution state
// =============================================================================

// FileStatus is the state of one WriteOp during execution.
type FileStatus string

const (
	FileQueued       FileStatus = "queued"
	FileSaving       FileStatus = "saving"
	FileDone         FileStatus = "done"
	FileFailed       FileStatus = "failed"
	FileReverted     FileStatus = "reverted"
	FileRevertFailed FileStatus = "revert_failed"
)

// TxState is the state of a whole transaction.
type TxState string

const (
	TxPlanning    TxState = "planning"
	TxExecuting   TxState = "executing"
	TxCommitted   TxState = "committed"
	TxRollingBack TxState = "rolling_back"
	TxAborted     TxState = "aborted"
)

// RollbackStatus summarizes compensation after an abort.
type RollbackStatus string

const (
	RollbackNone       RollbackStatus = "none"
	RollbackComplete   RollbackStatus = "complete"
	RollbackIncomplete RollbackStatus = "incomplete"
)

// FileResult is the final per-file outcome reported to callers.
type FileResult struct {
	FileName string     `json:"fileName"`
	PathID   string     `json:"pathId"`
	Action   Action     `json:"action"`
	Status   FileStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// RollbackReport describes the compensation pass.
type RollbackReport struct {
	Status   RollbackStatus `json:"status"`
	Reverted []string       `json:"reverted,omitempty"`
	Failed   []string       `json:"failed,omitempty"`
}

// Progress is emitted on every per-file and transaction state transition.
type Progress struct {
	TxID     string     `json:"txId"`
	State    TxState    `json:"state"`
	Index    int        `json:"index"`
	Total    int        `json:"total"`
	FileName string     `json:"fileName,omitempty"`
	PathID   string     `json:"pathId,omitempty"`
	Action   Action     `json:"action,omitempty"`
	Status   FileStatus `json:"status,omitempty"`
	Attempt  int        `json:"attempt,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ProgressFunc receives progress events. It is called synchronously from
// the executing goroutine.
type ProgressFunc func(Progress)

// Result is the outcome of a committed or aborted transaction.
type Result struct {
	TxID     string         `json:"txId"`
	State    TxState        `json:"state"`
	Writes   int            `json:"writes"`
	Files    []FileResult   `json:"files"`
	Rollback RollbackReport `json:"rollback"`
}
