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
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Shape is the serialized form of an override file.
type Shape int

const (
	// ShapeSingle is a file holding one entry as a bare JSON object.
	ShapeSingle Shape = iota

	// ShapeArray is a file holding a JSON array of entries.
	ShapeArray
)

// String returns the wire name of the shape.
func (s Shape) String() string {
	if s == ShapeArray {
		return "array"
	}
	return "object"
}

// errNotOverrideRoot is returned for files whose root is neither an
// object nor an array.
var errNotOverrideRoot = errors.New("override file must be a JSON array or object at the root")

// RecordEntry is one entry of a parsed override file.
//
// Raw is the entry as stored, preserved so that rewriting a file keeps
// entries the engine did not change byte-equivalent after indentation.
type RecordEntry struct {
	Raw   json.RawMessage
	Entry OverrideEntry
}

// FileRecord is a parsed override file, tagged with the shape it was
// stored in.
type FileRecord struct {
	Shape   Shape
	Entries []RecordEntry
}

// ParseRecord parses override file text.
//
// Empty text and "{}" yield a single-shape record with no entries. Comments
// and trailing commas are tolerated.
func ParseRecord(text string) (*FileRecord, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &FileRecord{Shape: ShapeSingle}, nil
	}

	clean := bytes.TrimSpace(jsonc.ToJSON([]byte(trimmed)))
	if len(clean) == 0 {
		return &FileRecord{Shape: ShapeSingle}, nil
	}

	switch clean[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(clean, &raws); err != nil {
			return nil, fmt.Errorf("parse override array: %w", err)
		}
		record := &FileRecord{Shape: ShapeArray, Entries: make([]RecordEntry, 0, len(raws))}
		for _, raw := range raws {
			record.Entries = append(record.Entries, RecordEntry{Raw: raw, Entry: decodeEntry(raw)})
		}
		return record, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(clean, &fields); err != nil {
			return nil, fmt.Errorf("parse override object: %w", err)
		}
		record := &FileRecord{Shape: ShapeSingle}
		if len(fields) > 0 {
			raw := json.RawMessage(clean)
			record.Entries = []RecordEntry{{Raw: raw, Entry: decodeEntry(raw)}}
		}
		return record, nil

	default:
		return nil, errNotOverrideRoot
	}
}

// Lookup returns the entry for objectName.
func (r *FileRecord) Lookup(objectName string) (RecordEntry, bool) {
	for _, e := range r.Entries {
		if e.Entry.ObjectName == objectName {
			return e, true
		}
	}
	return RecordEntry{}, false
}

// Index maps object names to entries. The first entry wins on duplicates.
func (r *FileRecord) Index() map[string]RecordEntry {
	out := make(map[string]RecordEntry, len(r.Entries))
	for _, e := range r.Entries {
		if e.Entry.ObjectName == "" {
			continue
		}
		if _, dup := out[e.Entry.ObjectName]; !dup {
			out[e.Entry.ObjectName] = e
		}
	}
	return out
}

// Without returns a record with the entries for the given object names
// removed. The result keeps the array shape unless the source was a single
// object and exactly one entry remains.
func (r *FileRecord) Without(objectNames map[string]bool) *FileRecord {
	out := &FileRecord{Shape: ShapeArray}
	for _, e := range r.Entries {
		if objectNames[e.Entry.ObjectName] {
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	if r.Shape == ShapeSingle && len(out.Entries) == 1 {
		out.Shape = ShapeSingle
	}
	return out
}

// Serialize renders the record with two-space indentation.
func (r *FileRecord) Serialize() (string, error) {
	if r.Shape == ShapeSingle {
		if len(r.Entries) == 0 {
			return "{}", nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.Entries[0].Raw, "", "  "); err != nil {
			return "", fmt.Errorf("serialize override object: %w", err)
		}
		return buf.String(), nil
	}

	raws := make([]json.RawMessage, 0, len(r.Entries))
	for _, e := range r.Entries {
		raws = append(raws, e.Raw)
	}
	data, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize override array: %w", err)
	}
	return string(data), nil
}

// SerializeEntry renders a single entry the way per-object files are stored.
func SerializeEntry(entry OverrideEntry) (string, error) {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize override entry: %w", err)
	}
	return string(data), nil
}

// decodeEntry reads the known fields of an override entry without failing
// on unexpected value types.
func decodeEntry(raw json.RawMessage) OverrideEntry {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return OverrideEntry{}
	}

	entry := OverrideEntry{
		Name:        stringField(fields, "name"),
		Description: stringField(fields, "description"),
		Domain:      stringField(fields, "domain"),
		Method:      stringField(fields, "method"),
		Scope:       stringField(fields, "scope"),
		ObjectName:  stringField(fields, "@objectName"),
		Type:        stringField(fields, "_type"),
		Version:     stringField(fields, "version"),
	}
	if entry.ObjectName == "" {
		entry.ObjectName = stringField(fields, "objectName")
	}

	var processors []json.RawMessage
	if err := json.Unmarshal(fields["processors"], &processors); err == nil {
		entry.Processors = processors
	}
	return entry
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		return ""
	}
	return s
}
