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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
)

const (
	testRuleID     = "core/default/processing/event/fcom/_objects/trap/vendor-x/device.json"
	testRuleDir    = "core/default/processing/event/fcom/_objects/trap/vendor-x"
	testRoot       = "core/default/processing/event/fcom/overrides"
	ifDownFile     = testRoot + "/vendor-x.if-mib.ifdown.override.json"
	ifUpFile       = testRoot + "/vendor-x.if-mib.ifup.override.json"
	legacyTrapFile = testRoot + "/vendor-x.trap.override.json"
	legacyFile     = testRoot + "/vendor-x.override.json"

	ifDown = "IF-MIB::ifDown"
	ifUp   = "IF-MIB::ifUp"

	testRuleText = `{"objects":[{"@objectName":"IF-MIB::ifDown","event":{"Severity":"minor"}},{"@objectName":"IF-MIB::ifUp","event":{"Severity":"clear"}}]}`

	opCritical = `{"op":"replace","path":"/event/severity","value":"critical"}`
	opMajor    = `{"op":"replace","path":"/event/severity","value":"major"}`
	opMinor    = `{"op":"replace","path":"/event/severity","value":"minor"}`
	opTag      = `{"op":"add","path":"/event/tag","value":"legacy"}`
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore returns a store holding the two-object test rule file.
func newTestStore(t *testing.T) *remote.MemoryStore {
	t.Helper()
	store := remote.NewMemoryStore("tester")
	store.Seed(testRuleID, testRuleText)
	return store
}

// newTestEngine returns an engine with a discarded logger.
func newTestEngine(opts ...Option) *Engine {
	return New(DefaultConfig(), append([]Option{WithLogger(testLogger())}, opts...)...)
}

// override builds a desired override entry with the given processors.
func override(objectName string, ops ...string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"_type":"override","@objectName":%q,"processors":[%s]}`,
		objectName, strings.Join(ops, ",")))
}

// storedOverride is an override entry as another tool might have written it.
func storedOverride(objectName string, ops ...string) string {
	return string(override(objectName, ops...))
}

func saveRequest(entries ...json.RawMessage) SaveRequest {
	return SaveRequest{
		FileID:        testRuleID,
		Overrides:     entries,
		CommitMessage: "test save",
		ServerID:      "ua-test",
	}
}

// seedMigrationScenario seeds a per-object file for ifUp and a legacy file
// holding ifDown. Saving ifDown=critical and ifUp=major against it plans
// create, update and delete.
func seedMigrationScenario(store *remote.MemoryStore) {
	store.Seed(ifUpFile, storedOverride(ifUp, opMinor))
	store.Seed(legacyTrapFile, "["+storedOverride(ifDown, opTag)+"]")
}

func migrationRequest() SaveRequest {
	req := saveRequest(override(ifDown, opCritical), override(ifUp, opMajor))
	req.CommitMessage = "Raise ifDown severity"
	return req
}

// recordingHook records cache hook calls.
type recordingHook struct {
	mu       sync.Mutex
	folders  []string
	overview []string
	err      error
}

func (h *recordingHook) RefreshFolder(_ context.Context, serverID, node string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.folders = append(h.folders, serverID+":"+node)
	return h.err
}

func (h *recordingHook) RefreshOverviewNode(_ context.Context, serverID, node string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overview = append(h.overview, serverID+":"+node)
	return h.err
}

// recordingRecorder keeps incidents in memory.
type recordingRecorder struct {
	mu        sync.Mutex
	incidents []*Incident
}

func (r *recordingRecorder) Record(_ context.Context, incident *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, incident)
	return nil
}

// progressLog collects progress events.
type progressLog struct {
	events []Progress
}

func (l *progressLog) record(p Progress) {
	l.events = append(l.events, p)
}

// statusesFor returns the statuses reported for one file, in order.
func (l *progressLog) statusesFor(pathID string) []FileStatus {
	var out []FileStatus
	for _, e := range l.events {
		if e.PathID == pathID {
			out = append(out, e.Status)
		}
	}
	return out
}
