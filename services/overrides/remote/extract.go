// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/ohler55/ojg/jp"
)

// Rules API responses are loosely shaped across server versions, so fields
// are located with JSONPath chains and the first match wins.
var (
	ruleTextPaths = []jp.Expr{
		jp.MustParseString("$.content.data[0].RuleText"),
		jp.MustParseString("$.data[0].RuleText"),
		jp.MustParseString("$.RuleText"),
	}

	recordArrayPaths = []jp.Expr{
		jp.MustParseString("$.data"),
		jp.MustParseString("$.history"),
		jp.MustParseString("$.entries"),
	}

	totalPaths = []jp.Expr{
		jp.MustParseString("$.total"),
		jp.MustParseString("$.totalCount"),
		jp.MustParseString("$.count"),
	}
)

var (
	revisionKeys     = []string{"LastRevision", "Revision", "Rev", "revision", "commit_id"}
	modifiedKeys     = []string{"ModificationTime", "LastModified", "Modified", "Date", "date", "timestamp"}
	modifiedByKeys   = []string{"ModifiedBy", "LastModifiedBy", "Modifier", "User", "Author", "author", "username", "user"}
	revisionNameKeys = []string{"RevisionName", "revisionName", "RevisionLabel", "revisionLabel"}
)

func firstMatch(exprs []jp.Expr, data any) any {
	for _, x := range exprs {
		if v := x.First(data); v != nil {
			return v
		}
	}
	return nil
}

// documentFromResponse builds a Document from a decoded read response.
//
// String RuleText is used as is. Object or array RuleText is re-encoded.
func documentFromResponse(pathID string, body any) *Document {
	doc := &Document{PathID: pathID, RuleTextType: "undefined"}
	if m, ok := body.(map[string]any); ok {
		doc.ResponseKeys = make([]string, 0, len(m))
		for k := range m {
			doc.ResponseKeys = append(doc.ResponseKeys, k)
		}
		sort.Strings(doc.ResponseKeys)
	}

	switch v := firstMatch(ruleTextPaths, body).(type) {
	case string:
		doc.RuleText = v
		doc.HasRuleText = true
		doc.RuleTextType = "string"
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			doc.RuleText = string(data)
			doc.HasRuleText = true
		}
		doc.RuleTextType = "object"
	case nil:
	default:
		doc.RuleTextType = jsonType(v)
	}
	return doc
}

// recordArray returns the record list of a listing or history response.
func recordArray(body any) []any {
	if list, ok := firstMatch(recordArrayPaths, body).([]any); ok {
		return list
	}
	if list, ok := body.([]any); ok {
		return list
	}
	return nil
}

func entriesFromListing(body any) ([]Entry, int) {
	records := recordArray(body)
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		entry := Entry{
			PathID:     stringOf(m, "PathID", "id"),
			PathName:   stringOf(m, "PathName", "name"),
			Revision:   stringOf(m, revisionKeys...),
			Modified:   stringOf(m, modifiedKeys[:3]...),
			ModifiedBy: stringOf(m, modifiedByKeys[:4]...),
			IsFolder:   isFolder(m),
		}
		if entry.PathID == "" && entry.PathName == "" {
			continue
		}
		entries = append(entries, entry)
	}

	total := 0
	if n, ok := firstMatch(totalPaths, body).(float64); ok {
		total = int(n)
	}
	return entries, total
}

func revisionsFromHistory(body any) []Revision {
	records := recordArray(body)
	out := make([]Revision, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Revision{
			Revision:     stringOf(m, revisionKeys...),
			RevisionName: stringOf(m, revisionNameKeys...),
			Modified:     stringOf(m, modifiedKeys...),
			ModifiedBy:   stringOf(m, modifiedByKeys...),
		})
	}
	return out
}

// stringOf returns the first non-empty scalar under keys, formatted as text.
func stringOf(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func isFolder(m map[string]any) bool {
	for _, k := range []string{"IsFolder", "isFolder", "folder"} {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	if leaf, ok := m["leaf"].(bool); ok {
		return !leaf
	}
	return false
}

func jsonType(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "undefined"
	}
}
