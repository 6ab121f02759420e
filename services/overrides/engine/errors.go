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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for override operations.
var (
	// ErrInvalidPath indicates the rule file path has no processing family
	// marker or no vendor segment.
	ErrInvalidPath = errors.New("invalid rule file path")

	// ErrMissingRuleText indicates the remote rule document carries no RuleText.
	ErrMissingRuleText = errors.New("rule text missing from remote document")

	// ErrValidation indicates the desired override payload is malformed or
	// references objects the rule file does not define.
	ErrValidation = errors.New("override validation failed")

	// ErrPermissionDenied indicates the caller may not edit rules.
	ErrPermissionDenied = errors.New("read-only access")

	// ErrTransientStore indicates a remote store call failed after retries.
	ErrTransientStore = errors.New("remote store call failed")

	// ErrTransactionAborted indicates a write failed and the transaction
	// was rolled back.
	ErrTransactionAborted = errors.New("override transaction aborted")

	// ErrCompensationFailed indicates a rollback step could not be applied.
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrConflict indicates the caller's etag no longer matches remote state.
	ErrConflict = errors.New("overrides changed since last read")
)

// LastCall identifies the remote call that produced an error.
type LastCall struct {
	Op     string `json:"op"`
	PathID string `json:"pathId,omitempty"`
}

// CallError wraps a remote store failure with the call that produced it.
type CallError struct {
	Op       string
	PathID   string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.PathID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.PathID, e.Err)
}

func (e *CallError) Unwrap() []error {
	return []error{ErrTransientStore, e.Err}
}

// Call returns the LastCall diagnostic for this error.
func (e *CallError) Call() LastCall {
	return LastCall{Op: e.Op, PathID: e.PathID}
}

// RuleTextDiagnostics describes the shape of a rule document that lacked
// usable rule text.
type RuleTextDiagnostics struct {
	ResponseKeys []string `json:"responseKeys"`
	HasRuleText  bool     `json:"hasRuleText"`
	RuleTextType string   `json:"ruleTextType"`
}

// RuleTextError reports a missing RuleText together with diagnostics.
//
// Reason is set when rule text was present but could not be parsed.
type RuleTextError struct {
	PathID      string
	Reason      string
	Diagnostics RuleTextDiagnostics
}

func (e *RuleTextError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", ErrMissingRuleText.Error(), e.PathID, e.Reason)
	}
	return fmt.Sprintf("%s: %s (type=%s)", ErrMissingRuleText.Error(), e.PathID, e.Diagnostics.RuleTextType)
}

func (e *RuleTextError) Unwrap() error { return ErrMissingRuleText }

// Call returns the read that produced the missing rule text.
func (e *RuleTextError) Call() LastCall {
	return LastCall{Op: "read", PathID: e.PathID}
}

// ValidationIssue is a single rejected property of a desired override.
type ValidationIssue struct {
	Index      int    `json:"index"`
	ObjectName string `json:"objectName,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

// ValidationError lists every issue found in a desired override set.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("overrides[%d].%s: %s", issue.Index, issue.Field, issue.Message))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Call reports the validation step as the last call. No remote call is made
// before validation completes.
func (e *ValidationError) Call() LastCall {
	return LastCall{Op: "validate"}
}

// AbortError is returned when a transaction fails and rollback was attempted.
//
// The cause is the original failure. Compensation failures are reported in
// Rollback and never replace the cause.
type AbortError struct {
	Cause     error
	Succeeded int
	Files     []FileResult
	Rollback  RollbackReport
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s after %d successful writes (rollback %s): %v",
		ErrTransactionAborted.Error(), e.Succeeded, e.Rollback.Status, e.Cause)
}

func (e *AbortError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.Cause}
}

// Call returns the failing call when the cause carries one.
func (e *AbortError) Call() LastCall {
	var callErr *CallError
	if errors.As(e.Cause, &callErr) {
		return callErr.Call()
	}
	return LastCall{Op: "execute"}
}

// LastCallOf extracts the LastCall diagnostic from err, if any.
func LastCallOf(err error) (LastCall, bool) {
	var carrier interface{ Call() LastCall }
	if errors.As(err, &carrier) {
		return carrier.Call(), true
	}
	return LastCall{}, false
}
