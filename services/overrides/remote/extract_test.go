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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, text string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	return v
}

func TestDocumentFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		hasText  bool
		textType string
		text     string
		keys     []string
	}{
		{
			name:     "nested content data",
			body:     `{"success":true,"content":{"data":[{"RuleText":"{\"a\":1}"}]}}`,
			hasText:  true,
			textType: "string",
			text:     `{"a":1}`,
			keys:     []string{"content", "success"},
		},
		{
			name:     "top level data",
			body:     `{"data":[{"RuleText":"x"}]}`,
			hasText:  true,
			textType: "string",
			text:     "x",
			keys:     []string{"data"},
		},
		{
			name:     "object rule text is re-encoded",
			body:     `{"RuleText":{"a":1}}`,
			hasText:  true,
			textType: "object",
			text:     "{\n  \"a\": 1\n}",
			keys:     []string{"RuleText"},
		},
		{
			name:     "missing",
			body:     `{"success":true,"message":"ok"}`,
			textType: "undefined",
			keys:     []string{"message", "success"},
		},
		{
			name:     "numeric",
			body:     `{"RuleText":3}`,
			textType: "number",
			keys:     []string{"RuleText"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := documentFromResponse("p", decode(t, tt.body))
			assert.Equal(t, "p", doc.PathID)
			assert.Equal(t, tt.hasText, doc.HasRuleText)
			assert.Equal(t, tt.textType, doc.RuleTextType)
			assert.Equal(t, tt.text, doc.RuleText)
			assert.Equal(t, tt.keys, doc.ResponseKeys)
		})
	}
}

func TestEntriesFromListing(t *testing.T) {
	body := decode(t, `{
		"success": true,
		"total": 3,
		"data": [
			{"PathID": "r/a.json", "PathName": "a.json", "LastRevision": 7, "ModificationTime": "2025-01-01", "ModifiedBy": "bob"},
			{"id": "r/sub", "name": "sub", "leaf": false},
			{"unrelated": true},
			"junk"
		]
	}`)

	entries, total := entriesFromListing(body)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{
		PathID:     "r/a.json",
		PathName:   "a.json",
		Revision:   "7",
		Modified:   "2025-01-01",
		ModifiedBy: "bob",
	}, entries[0])
	assert.Equal(t, Entry{PathID: "r/sub", PathName: "sub", IsFolder: true}, entries[1])
}

func TestRevisionsFromHistory(t *testing.T) {
	body := decode(t, `{"history":[
		{"Revision":"3","RevisionName":"r3 [2025][carol] edit","Date":"2025-02-02","Author":"carol"},
		{"commit_id":"2","timestamp":"2025-01-01","username":"dave"}
	]}`)

	revs := revisionsFromHistory(body)
	require.Len(t, revs, 2)
	assert.Equal(t, Revision{Revision: "3", RevisionName: "r3 [2025][carol] edit", Modified: "2025-02-02", ModifiedBy: "carol"}, revs[0])
	assert.Equal(t, Revision{Revision: "2", Modified: "2025-01-01", ModifiedBy: "dave"}, revs[1])

	assert.Len(t, revisionsFromHistory(decode(t, `[{"Revision":"1"}]`)), 1)
	assert.Empty(t, revisionsFromHistory(decode(t, `{"success":true}`)))
}
