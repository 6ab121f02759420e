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
	"fmt"
	"path"
	"strings"
)

// DefaultFamilyMarker is the processing family segment used to anchor
// override locations.
const DefaultFamilyMarker = "fcom"

const objectsSegment = "_objects"

var methodSegments = map[string]bool{
	"trap":   true,
	"syslog": true,
}

// ResolveLocation maps a rule file identifier to its override location.
//
// # Description
//
// Finds the last occurrence of the family marker segment; the path up to and
// including it is the base path. The method search starts after the marker,
// or after an "_objects" segment that follows it. When a method segment
// (trap or syslog) is found, the following segment is the vendor; otherwise
// the segment right after the search start is the vendor.
//
// # Inputs
//
//   - fileID: Rule file path, e.g. "core/default/processing/event/fcom/_objects/trap/acme/device.json".
//   - marker: Family marker segment. Empty means DefaultFamilyMarker.
//
// # Outputs
//
//   - Location: Derived override placement.
//   - error: ErrInvalidPath when no marker or vendor can be found.
//
// # Examples
//
//	loc, _ := ResolveLocation("core/default/processing/event/fcom/_objects/trap/acme/device.json", "")
//	// loc.OverrideRoot == "core/default/processing/event/fcom/overrides"
//	// loc.OverrideFileName == "acme.override.json"
func ResolveLocation(fileID, marker string) (Location, error) {
	if marker == "" {
		marker = DefaultFamilyMarker
	}

	segments := splitPath(fileID)
	baseIndex := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == marker {
			baseIndex = i
			break
		}
	}
	if baseIndex < 0 {
		return Location{}, fmt.Errorf("%w: no %q segment in %q", ErrInvalidPath, marker, fileID)
	}

	searchStart := baseIndex
	for i := baseIndex + 1; i < len(segments); i++ {
		if segments[i] == objectsSegment {
			searchStart = i
			break
		}
	}

	var method, vendor string
	for i := searchStart + 1; i < len(segments); i++ {
		if methodSegments[segments[i]] {
			method = segments[i]
			if i+1 < len(segments) {
				vendor = segments[i+1]
			}
			break
		}
	}
	if method == "" && searchStart+1 < len(segments) {
		vendor = segments[searchStart+1]
	}
	if vendor == "" {
		return Location{}, fmt.Errorf("%w: no vendor segment in %q", ErrInvalidPath, fileID)
	}

	basePath := strings.Join(segments[:baseIndex+1], "/")
	overrideRoot := basePath + "/overrides"
	fileName := vendor + ".override.json"

	return Location{
		BasePath:         basePath,
		Vendor:           vendor,
		Method:           method,
		OverrideRoot:     overrideRoot,
		OverrideFileName: fileName,
		OverridePath:     overrideRoot + "/" + fileName,
	}, nil
}

// ParentNode returns the directory holding fileID.
func ParentNode(fileID string) string {
	dir := path.Dir(strings.Join(splitPath(fileID), "/"))
	if dir == "." {
		return ""
	}
	return dir
}

func splitPath(p string) []string {
	raw := strings.Split(strings.Trim(p, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
