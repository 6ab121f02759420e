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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *UAClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewUAClient(UAConfig{
		BaseURL:     srv.URL + "/api/",
		Credentials: StaticCredentials{Username: "ua", Password: "secret"},
		HTTPClient:  srv.Client(),
		MaxTries:    2,
	})
	require.NoError(t, err)
	return c
}

func TestNewUAClient_Validation(t *testing.T) {
	_, err := NewUAClient(UAConfig{})
	assert.ErrorContains(t, err, "base URL")

	_, err = NewUAClient(UAConfig{BaseURL: "https://ua.example.com/api"})
	assert.ErrorContains(t, err, "credentials")

	_, err = NewUAClient(UAConfig{BaseURL: "https://ua.example.com/api", CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.ErrorContains(t, err, "client certificate")
}

func TestUAClient_Read(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/rule/Rules/core/my%20rules/a.json", r.URL.EscapedPath())
		assert.Equal(t, "HEAD", r.URL.Query().Get("revision"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ua", user)
		assert.Equal(t, "secret", pass)

		_, _ = io.WriteString(w, `{"success":true,"data":[{"RuleText":"{}"}]}`)
	})

	doc, err := c.Read(context.Background(), "core/my rules/a.json", "")
	require.NoError(t, err)
	assert.True(t, doc.HasRuleText)
	assert.Equal(t, "{}", doc.RuleText)
}

func TestUAClient_List(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rule/Rules/read", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "core/overrides", q.Get("node"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("start"))
		assert.Equal(t, "10", q.Get("limit"))
		_, _ = io.WriteString(w, `{"success":true,"total":11,"data":[{"PathID":"core/overrides/a.json","PathName":"a.json"}]}`)
	})

	page, err := c.List(context.Background(), "core/overrides", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "a.json", page.Entries[0].PathName)
}

func TestUAClient_Writes(t *testing.T) {
	var got []map[string]any
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		paths = append(paths, r.Method+" "+r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, CreateRequest{Name: "a.json", ParentNode: "core/overrides", Content: "{}", Message: "add"}))
	require.NoError(t, c.Update(ctx, "core/overrides/a.json", `{"x":1}`, "edit"))
	require.NoError(t, c.Delete(ctx, "core/overrides/a.json", "drop"))
	require.NoError(t, c.CreateFolder(ctx, "core/overrides"))

	assert.Equal(t, []string{
		"POST /api/rule/Rules",
		"PUT /api/rule/Rules/core/overrides/a.json",
		"DELETE /api/rule/Rules/core/overrides/a.json",
		"POST /api/rule/Rules/executeCreateFolder",
	}, paths)

	assert.Equal(t, "a.json", got[0]["name"])
	assert.Equal(t, "core/overrides", got[0]["path"])
	assert.Equal(t, "add", got[0]["commit_message"])
	assert.Equal(t, `{"x":1}`, got[1]["RuleText"])
	assert.Equal(t, "a.json", got[1]["PathName"])
	assert.Equal(t, "edit", got[1]["CommitLog"])
	assert.Equal(t, "drop", got[2]["commit_message"])
	assert.Equal(t, "core/overrides", got[3]["path"])
}

func TestUAClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found status", http.StatusNotFound, `{"message":"missing"}`, ErrNotFound},
		{"conflict status", http.StatusConflict, `{}`, ErrAlreadyExists},
		{"unauthorized", http.StatusUnauthorized, ``, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ``, ErrUnauthorized},
		{"already exists message", http.StatusBadRequest, `{"message":"File already exists"}`, ErrAlreadyExists},
		{"success false not found", http.StatusOK, `{"success":false,"message":"Path not found"}`, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.Read(context.Background(), "a.json", "")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestUAClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"RuleText":"ok"}]}`)
	})

	doc, err := c.Read(context.Background(), "a.json", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.RuleText)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUAClient_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"message":"maintenance"}`)
	})

	_, err := c.Read(context.Background(), "a.json", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
	assert.Equal(t, int32(2), calls.Load())
}

func TestUAClient_PostIsSentOnce(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Create(context.Background(), CreateRequest{Name: "a.json", Content: "{}", ParentNode: "core/overrides"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	err = c.CreateFolder(context.Background(), "core/overrides")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRulePath(t *testing.T) {
	assert.Equal(t, "/rule/Rules/a/b%20c/d.json", rulePath("/a/b c/d.json"))
}
