// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/cache"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/engine"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/observability"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/servers"
)

const ifUp = "IF-MIB::ifUp"

type incidentList struct {
	Incidents []engine.Incident `json:"incidents"`
	Count     int               `json:"count"`
}

func listIncidents(t *testing.T, env *testEnv, query string) incidentList {
	t.Helper()
	w := env.do(http.MethodGet, "/api/v1/overrides/reconciliation"+query, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out incidentList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// =============================================================================
// Reconciliation
// =============================================================================

func TestReconciliation_IncompleteRollbackIsJournaled(t *testing.T) {
	env := newTestEnv(t, editor)

	// The first create succeeds, the second fails, and its compensation
	// (deleting the first file) fails too.
	creates := 0
	env.store.InjectFault(func(c remote.Call) error {
		switch c.Method {
		case remote.MethodCreate:
			creates++
			if creates > 1 {
				return errInjected
			}
		case remote.MethodDelete:
			return errInjected
		}
		return nil
	})

	w := env.do(http.MethodPost, "/api/v1/overrides/save",
		saveBody(override(ifDown, opCritical), override(ifUp, opCritical)))
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	body := decode(t, w)
	rollback, ok := body["rollback"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(engine.RollbackIncomplete), rollback["status"])
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SavesTotal.WithLabelValues(
		string(observability.EndpointSave), observability.OutcomeIncomplete)))

	list := listIncidents(t, env, "")
	require.Equal(t, 1, list.Count)
	incident := list.Incidents[0]
	assert.Equal(t, testRuleID, incident.FileID)
	assert.Equal(t, servers.LocalServerID, incident.ServerID)
	assert.Equal(t, "test save", incident.CommitMessage)
	require.Len(t, incident.Unreverted, 1)

	w = env.do(http.MethodPost, "/api/v1/overrides/reconciliation/"+incident.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, incident.ID, decode(t, w)["resolved"])
	assert.Len(t, env.audit.ofType(extensions.EventIncidentResolved), 1)

	assert.Zero(t, listIncidents(t, env, "").Count)
}

func TestReconciliation_ListFiltersAndLimits(t *testing.T) {
	env := newTestEnv(t, editor)
	ctx := context.Background()
	for _, serverID := range []string{servers.LocalServerID, "other", servers.LocalServerID, ""} {
		require.NoError(t, env.journal.Record(ctx, &engine.Incident{FileID: testRuleID, ServerID: serverID}))
	}

	assert.Equal(t, 3, listIncidents(t, env, "").Count, "incidents of other servers are hidden")
	assert.Equal(t, 2, listIncidents(t, env, "?limit=2").Count)

	w := env.do(http.MethodGet, "/api/v1/overrides/reconciliation?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodGet, "/api/v1/overrides/reconciliation?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconciliation_ResolveUnknown(t *testing.T) {
	env := newTestEnv(t, editor)
	w := env.do(http.MethodPost, "/api/v1/overrides/reconciliation/missing/resolve", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Incident not found", decode(t, w)["error"])
	assert.Empty(t, env.audit.ofType(extensions.EventIncidentResolved))
}

func TestReconciliation_ResolveRequiresEditor(t *testing.T) {
	env := newTestEnv(t, viewer)
	require.NoError(t, env.journal.Record(context.Background(), &engine.Incident{ID: "inc-1", FileID: testRuleID}))

	w := env.do(http.MethodPost, "/api/v1/overrides/reconciliation/inc-1/resolve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := env.journal.Get(context.Background(), "inc-1")
	assert.NoError(t, err)
}

// =============================================================================
// Folders
// =============================================================================

type folderResponse struct {
	Summary cache.FolderSummary `json:"summary"`
	Cached  bool                `json:"cached"`
}

func folderSummary(t *testing.T, env *testEnv, node string) folderResponse {
	t.Helper()
	w := env.do(http.MethodGet, "/api/v1/folders/summary?node="+node, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out folderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestFolders_SummaryIsCachedAndInvalidatedBySave(t *testing.T) {
	env := newTestEnv(t, editor)

	first := folderSummary(t, env, testRoot)
	assert.False(t, first.Cached)
	assert.Zero(t, first.Summary.OverrideFiles)

	second := folderSummary(t, env, testRoot)
	assert.True(t, second.Cached)

	w := env.do(http.MethodPost, "/api/v1/overrides/save", saveBody(override(ifDown, opCritical)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	after := folderSummary(t, env, testRoot)
	assert.False(t, after.Cached, "save invalidates the override root")
	assert.Equal(t, 1, after.Summary.OverrideFiles)

	rules := folderSummary(t, env, testRuleDir)
	assert.Equal(t, 1, rules.Summary.Files)
}

func TestFolders_Errors(t *testing.T) {
	env := newTestEnv(t, viewer)

	w := env.do(http.MethodGet, "/api/v1/folders/summary", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing node", decode(t, w)["error"])

	w = env.do(http.MethodGet, "/api/v1/folders/summary?node=core/../secrets", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid node", decode(t, w)["error"])

	w = env.do(http.MethodGet, "/api/v1/folders/summary?node=core/nowhere", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Folder not found", decode(t, w)["error"])
}
