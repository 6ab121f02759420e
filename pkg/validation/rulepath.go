// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Rule paths arrive from HTTP queries, request bodies and CLI arguments and
// are forwarded to the rules API as path identifiers. Validating them here
// rejects path traversal and header or query injection before any remote
// call is made.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxRulePathLength bounds a rule path identifier in bytes.
const MaxRulePathLength = 1024

// ErrInvalidRulePath is wrapped by every rule path validation failure.
var ErrInvalidRulePath = errors.New("invalid rule path")

// ValidateRulePath validates a slash-separated rule path identifier.
//
// Valid paths:
//   - 1-1024 bytes after trimming surrounding slashes
//   - No empty, "." or ".." segments
//   - No backslashes or control characters
//
// Family and vendor checks are left to the location resolver.
//
// Example:
//
//	if err := validation.ValidateRulePath(fileID); err != nil {
//	    return fmt.Errorf("file_id: %w", err)
//	}
func ValidateRulePath(p string) error {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidRulePath)
	}
	if len(trimmed) > MaxRulePathLength {
		return fmt.Errorf("%w: path exceeds %d bytes", ErrInvalidRulePath, MaxRulePathLength)
	}
	for _, r := range trimmed {
		if r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidRulePath, p)
		}
	}
	for _, seg := range strings.Split(trimmed, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidRulePath, p)
		}
	}
	return nil
}

// SanitizeRulePath normalizes and validates a rule path.
// Returns the path without surrounding whitespace and slashes.
//
//	node, err := validation.SanitizeRulePath(c.Query("node"))
//	if err != nil {
//	    return err
//	}
func SanitizeRulePath(p string) (string, error) {
	normalized := strings.Trim(strings.TrimSpace(p), "/")
	if err := ValidateRulePath(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
