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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// objectNameKeys are checked in order when naming a rule object.
var objectNameKeys = []string{"@objectName", "name", "objectName"}

// RuleObjectNames returns the object names defined by rule text, in file
// order, without duplicates.
//
// Objects come from the "objects" array when present, otherwise from the
// top-level array, otherwise the top-level object itself. An array element
// is either an object definition or a bare object name.
func RuleObjectNames(ruleText string) ([]string, error) {
	clean := bytes.TrimSpace(jsonc.ToJSON([]byte(strings.TrimSpace(ruleText))))
	if len(clean) == 0 {
		return nil, nil
	}

	var root any
	if err := json.Unmarshal(clean, &root); err != nil {
		return nil, fmt.Errorf("parse rule text: %w", err)
	}

	var objects []any
	switch v := root.(type) {
	case map[string]any:
		if list, ok := v["objects"].([]any); ok {
			objects = list
		} else {
			objects = []any{v}
		}
	case []any:
		objects = v
	}

	seen := make(map[string]bool, len(objects))
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		var name string
		switch v := obj.(type) {
		case map[string]any:
			name = objectName(v)
		case string:
			name = strings.TrimSpace(v)
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

func objectName(m map[string]any) string {
	for _, key := range objectNameKeys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
