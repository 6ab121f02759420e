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
	"regexp"
	"strings"
)

const overrideSuffix = ".override.json"

var (
	disallowedRun = regexp.MustCompile(`[^a-z0-9.-]+`)
	dashRun       = regexp.MustCompile(`-+`)
	dotRun        = regexp.MustCompile(`\.{2,}`)
	revisionNum   = regexp.MustCompile(`(?i)r(\d+)`)
	bracketValue  = regexp.MustCompile(`\[([^\]]+)\]`)
)

// patchVerbs lists the accepted processor operations.
var patchVerbs = map[string]bool{
	"add":     true,
	"replace": true,
	"test":    true,
	"remove":  true,
	"move":    true,
	"copy":    true,
}

// NormalizeSegment lowercases a name part and replaces disallowed
// characters so it can be used in an override file name.
//
// "::" becomes ".", runs outside [a-z0-9.-] become "-", repeated dashes and
// dots collapse, and leading or trailing separators are trimmed.
func NormalizeSegment(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = strings.ReplaceAll(s, "::", ".")
	s = disallowedRun.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	s = dotRun.ReplaceAllString(s, ".")
	s = strings.Trim(s, "-")
	s = strings.Trim(s, ".")
	return s
}

// SplitObjectName splits "MIB::object" into its parts.
//
// A name without "::" is treated as both the MIB and the object.
func SplitObjectName(objectName string) (mib, object string) {
	parts := strings.Split(objectName, "::")
	mib = parts[0]
	if len(parts) > 1 {
		object = parts[1]
	}
	if object == "" {
		object = mib
	}
	if mib == "" {
		mib = "unknown"
	}
	if object == "" {
		object = "object"
	}
	return mib, object
}

// BuildOverrideFileName returns the per-object override file name,
// "<vendor>.<mib>.<object>.override.json".
func BuildOverrideFileName(vendor, objectName string) string {
	mib, object := SplitObjectName(objectName)
	return orDefault(NormalizeSegment(vendor), "vendor") + "." +
		orDefault(NormalizeSegment(mib), "mib") + "." +
		orDefault(NormalizeSegment(object), "object") + overrideSuffix
}

// BuildLegacyOverrideFileNames returns legacy file names in preference
// order: "<vendor>.<method>.override.json" when method is known, then
// "<vendor>.override.json".
func BuildLegacyOverrideFileNames(vendor, method string) []string {
	vendorPart := orDefault(NormalizeSegment(vendor), "vendor")
	names := make([]string, 0, 2)
	if methodPart := NormalizeSegment(method); methodPart != "" {
		names = append(names, vendorPart+"."+methodPart+overrideSuffix)
	}
	fallback := vendorPart + overrideSuffix
	if len(names) == 0 || names[0] != fallback {
		names = append(names, fallback)
	}
	return names
}

// IsPatchOperation reports whether raw is an object whose "op" is an
// accepted verb and whose "path" is a non-empty string.
func IsPatchOperation(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return false
	}
	var op, path string
	if err := json.Unmarshal(fields["op"], &op); err != nil {
		return false
	}
	if err := json.Unmarshal(fields["path"], &path); err != nil {
		return false
	}
	return patchVerbs[op] && path != ""
}

// IsOverrideEntry reports whether raw is an object whose "_type" equals
// "override", ignoring case.
func IsOverrideEntry(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return false
	}
	var typ string
	if err := json.Unmarshal(fields["_type"], &typ); err != nil {
		return false
	}
	return strings.EqualFold(typ, "override")
}

// RevisionName holds values parsed from a revision label such as
// "r42 [2025-01-01 10:00][jdoe]".
type RevisionName struct {
	Revision string
	Date     string
	User     string
}

// ParseRevisionName extracts the revision number and bracketed date/user
// values from a revision label.
func ParseRevisionName(name string) RevisionName {
	var out RevisionName
	if m := revisionNum.FindStringSubmatch(name); m != nil {
		out.Revision = m[1]
	}
	brackets := bracketValue.FindAllStringSubmatch(name, -1)
	if len(brackets) > 0 {
		out.Date = strings.TrimSpace(brackets[0][1])
	}
	if len(brackets) > 1 {
		out.User = strings.TrimSpace(brackets[1][1])
	}
	return out
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
