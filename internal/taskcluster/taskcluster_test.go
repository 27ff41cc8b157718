// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package taskcluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_ListArtifacts(t *testing.T) {
	want := []Artifact{
		{Name: BuildArtifactName, Expires: time.Now().Add(time.Hour).UTC().Truncate(time.Second)},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/task/foo/artifacts", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(artifactsResponse{Artifacts: want}))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", nil, 0)
	require.NoError(t, err)

	got, err := client.ListArtifacts(context.Background(), "foo")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestClient_ListArtifacts_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", nil, 0)
	require.NoError(t, err)

	_, err = client.ListArtifacts(context.Background(), "foo")
	require.Error(t, err)

	var tcErr *Error
	require.ErrorAs(t, err, &tcErr)
	require.Equal(t, NotFound, tcErr.Kind)
}

func TestFindBuildArtifact(t *testing.T) {
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		artifacts := []Artifact{{Name: BuildArtifactName, Expires: now.Add(time.Hour)}}
		a, err := FindBuildArtifact(artifacts, now)
		require.NoError(t, err)
		require.Equal(t, BuildArtifactName, a.Name)
	})

	t.Run("absent", func(t *testing.T) {
		_, err := FindBuildArtifact(nil, now)
		var tcErr *Error
		require.ErrorAs(t, err, &tcErr)
		require.Equal(t, NotFound, tcErr.Kind)
	})

	t.Run("expired", func(t *testing.T) {
		expiry := now.Add(-24 * time.Hour)
		artifacts := []Artifact{{Name: BuildArtifactName, Expires: expiry}}
		_, err := FindBuildArtifact(artifacts, now)
		var tcErr *Error
		require.ErrorAs(t, err, &tcErr)
		require.Equal(t, Expired, tcErr.Kind)
		require.True(t, tcErr.Expires.Equal(expiry))
	})

	t.Run("expires exactly now is expired", func(t *testing.T) {
		artifacts := []Artifact{{Name: BuildArtifactName, Expires: now}}
		_, err := FindBuildArtifact(artifacts, now)
		var tcErr *Error
		require.ErrorAs(t, err, &tcErr)
		require.Equal(t, Expired, tcErr.Kind)
	})
}

func TestClient_StreamArtifact(t *testing.T) {
	content := []byte("this-is-a-fake-zip-body")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/task/foo/artifacts/public/build/target.zip", r.URL.Path)
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", nil, 0)
	require.NoError(t, err)

	var dst bytes.Buffer
	require.NoError(t, client.StreamArtifact(context.Background(), "foo", BuildArtifactName, &dst))
	require.Equal(t, content, dst.Bytes())
}
