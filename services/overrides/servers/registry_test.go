// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package servers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tones-Lab/ua-com-navigator-sub002/pkg/extensions"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/remote"
	"github.com/Tones-Lab/ua-com-navigator-sub002/services/overrides/session"
)

func newTestRegistry(t *testing.T, h http.HandlerFunc) (*Registry, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sessions := session.NewStore(session.Config{})
	reg, err := NewRegistry([]Server{{ID: "ua-prod", Name: "Production", BaseURL: srv.URL + "/api"}}, sessions, nil)
	require.NoError(t, err)
	reg.httpClient = srv.Client()
	return reg, sessions
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry([]Server{{ID: "a"}}, nil, nil)
	assert.ErrorContains(t, err, "base_url")

	_, err = NewRegistry([]Server{
		{ID: "a", BaseURL: "https://a"},
		{ID: "a", BaseURL: "https://b"},
	}, nil, nil)
	assert.ErrorContains(t, err, "duplicate")
}

func TestRegistry_List(t *testing.T) {
	reg, err := NewRegistry([]Server{
		{ID: "zeta", BaseURL: "https://z"},
		{ID: "alpha", BaseURL: "https://a"},
	}, nil, nil)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)

	_, ok := reg.Server("alpha")
	assert.True(t, ok)
	_, ok = reg.Server("missing")
	assert.False(t, ok)
}

func TestRegistry_AuthenticateBasic(t *testing.T) {
	reg, _ := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Login/executeLogin", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "pw", pass)
		_, _ = io.WriteString(w, `{"success":true,"data":{"Permissions":{"rule":{"Rules":{"update":"1"}}}}}`)
	})

	res, err := reg.Authenticate(context.Background(), Login{
		ServerID: "ua-prod", AuthType: AuthBasic, Username: "alice", Password: "pw",
	})
	require.NoError(t, err)
	assert.True(t, res.CanEditRules)
}

func TestRegistry_AuthenticateCertificate(t *testing.T) {
	reg, _ := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rule/Rules/read", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"data":[]}`)
	})

	res, err := reg.Authenticate(context.Background(), Login{ServerID: "ua-prod", AuthType: AuthCertificate})
	require.NoError(t, err)
	assert.False(t, res.CanEditRules)
}

func TestRegistry_AuthenticateErrors(t *testing.T) {
	reg, _ := newTestRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	ctx := context.Background()

	_, err := reg.Authenticate(ctx, Login{ServerID: "nope", AuthType: AuthBasic})
	assert.True(t, errors.Is(err, ErrUnknownServer))

	_, err = reg.Authenticate(ctx, Login{ServerID: "ua-prod", AuthType: "kerberos"})
	assert.True(t, errors.Is(err, ErrUnsupportedAuth))

	_, err = reg.Authenticate(ctx, Login{ServerID: "ua-prod", AuthType: AuthBasic, Username: "a", Password: "b"})
	assert.True(t, errors.Is(err, remote.ErrUnauthorized))
}

func TestRegistry_StoreForUsesSessionCredentials(t *testing.T) {
	var calls atomic.Int32
	reg, sessions := newTestRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "alice", user)
		assert.Equal(t, "pw", pass)
		_, _ = io.WriteString(w, `{"success":true,"data":[]}`)
	})

	sess, err := sessions.Create(session.CreateRequest{
		UserID: "alice", ServerID: "ua-prod", Username: "alice", Password: "pw",
	})
	require.NoError(t, err)
	info := &extensions.AuthInfo{UserID: "alice", SessionID: sess.ID, ServerID: "ua-prod"}

	store, err := reg.StoreFor(context.Background(), info)
	require.NoError(t, err)
	_, err = store.List(context.Background(), "/", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	again, err := reg.StoreFor(context.Background(), info)
	require.NoError(t, err)
	assert.Same(t, store, again, "client should be cached per session")

	reg.Forget(sess.ID)
	fresh, err := reg.StoreFor(context.Background(), info)
	require.NoError(t, err)
	assert.NotSame(t, store, fresh)
}

func TestRegistry_StoreForErrors(t *testing.T) {
	reg, sessions := newTestRegistry(t, func(http.ResponseWriter, *http.Request) {})
	ctx := context.Background()

	_, err := reg.StoreFor(ctx, nil)
	assert.True(t, errors.Is(err, extensions.ErrUnauthorized))

	_, err = reg.StoreFor(ctx, &extensions.AuthInfo{SessionID: "s", ServerID: "nope"})
	assert.True(t, errors.Is(err, ErrUnknownServer))

	_, err = reg.StoreFor(ctx, &extensions.AuthInfo{SessionID: "gone", ServerID: "ua-prod"})
	assert.True(t, errors.Is(err, extensions.ErrUnauthorized))

	cert, err := sessions.Create(session.CreateRequest{UserID: "api", ServerID: "ua-prod", AuthMethod: AuthCertificate})
	require.NoError(t, err)
	_, err = reg.StoreFor(ctx, &extensions.AuthInfo{SessionID: cert.ID, ServerID: "ua-prod"})
	assert.ErrorContains(t, err, "no basic-auth credentials")
}

func TestStatic(t *testing.T) {
	store := remote.NewMemoryStore("tester")
	s := NewStatic("", store)

	_, ok := s.Server(LocalServerID)
	assert.True(t, ok)
	assert.Len(t, s.List(), 1)

	res, err := s.Authenticate(context.Background(), Login{ServerID: LocalServerID, AuthType: AuthBasic})
	require.NoError(t, err)
	assert.True(t, res.CanEditRules)

	_, err = s.Authenticate(context.Background(), Login{ServerID: "other"})
	assert.True(t, errors.Is(err, ErrUnknownServer))

	got, err := s.StoreFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, store, got)
}
