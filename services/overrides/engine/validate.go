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
	"fmt"
)

// ValidateShape checks desired overrides without consulting the store.
//
// # Description
//
// Every entry must be an override object naming an object, no object may
// appear twice, and every processor must be a patch operation. All issues
// are collected before returning.
//
// # Outputs
//
//   - []OverrideEntry: Decoded entries in input order.
//   - error: *ValidationError listing every issue.
func ValidateShape(desired []json.RawMessage) ([]OverrideEntry, error) {
	var issues []ValidationIssue
	entries := make([]OverrideEntry, 0, len(desired))
	seen := make(map[string]int, len(desired))

	for i, raw := range desired {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			issues = append(issues, ValidationIssue{Index: i, Field: "entry", Message: "must be a JSON object"})
			continue
		}

		entry := decodeEntry(raw)
		if !IsOverrideEntry(raw) {
			issues = append(issues, ValidationIssue{
				Index: i, ObjectName: entry.ObjectName, Field: "_type",
				Message: `must be "override"`,
			})
		}

		if entry.ObjectName == "" {
			issues = append(issues, ValidationIssue{Index: i, Field: "@objectName", Message: "is required"})
		} else if first, dup := seen[entry.ObjectName]; dup {
			issues = append(issues, ValidationIssue{
				Index: i, ObjectName: entry.ObjectName, Field: "@objectName",
				Message: fmt.Sprintf("duplicates overrides[%d]", first),
			})
		} else {
			seen[entry.ObjectName] = i
		}

		issues = append(issues, processorIssues(i, entry.ObjectName, fields["processors"])...)
		entries = append(entries, entry)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return entries, nil
}

func processorIssues(index int, objectName string, raw json.RawMessage) []ValidationIssue {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var processors []json.RawMessage
	if err := json.Unmarshal(raw, &processors); err != nil {
		return []ValidationIssue{{
			Index: index, ObjectName: objectName, Field: "processors",
			Message: "must be an array",
		}}
	}
	var issues []ValidationIssue
	for j, p := range processors {
		if !IsPatchOperation(p) {
			issues = append(issues, ValidationIssue{
				Index: index, ObjectName: objectName, Field: fmt.Sprintf("processors[%d]", j),
				Message: "must be a patch operation with a supported op and a non-empty path",
			})
		}
	}
	return issues
}

// validateOwnership checks that every desired entry names a rule object.
func validateOwnership(entries []OverrideEntry, objects []string) error {
	known := make(map[string]bool, len(objects))
	for _, obj := range objects {
		known[obj] = true
	}
	var issues []ValidationIssue
	for i, entry := range entries {
		if !known[entry.ObjectName] {
			issues = append(issues, ValidationIssue{
				Index: i, ObjectName: entry.ObjectName, Field: "@objectName",
				Message: "object is not defined in the rule file",
			})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
