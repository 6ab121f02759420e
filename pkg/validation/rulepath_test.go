// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRulePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		// Valid paths
		{"rule file", "core/default/processing/event/fcom/_objects/trap/acme/device.json", false},
		{"folder", "core/default/processing/event/fcom/overrides", false},
		{"surrounding slashes", "/core/default/", false},
		{"single segment", "core", false},
		{"dots inside a name", "acme.if-mib.ifdown.override.json", false},

		// Invalid paths
		{"empty", "", true},
		{"only slashes", "///", true},
		{"parent traversal", "core/../../etc/passwd", true},
		{"current dir segment", "core/./default", true},
		{"empty segment", "core//default", true},
		{"backslash", `core\default`, true},
		{"newline injection", "core/default\nX-Injected: 1", true},
		{"nul byte", "core/default\x00.json", true},
		{"too long", strings.Repeat("a", MaxRulePathLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRulePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRulePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRulePath) {
				t.Errorf("ValidateRulePath(%q) error %v does not wrap ErrInvalidRulePath", tt.path, err)
			}
		})
	}
}

func TestSanitizeRulePath(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"core/default", "core/default", false},
		{"  /core/default/  ", "core/default", false},
		{"", "", true},
		{"core/../x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := SanitizeRulePath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeRulePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeRulePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
