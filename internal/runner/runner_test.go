// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mozilla/fxrecord/internal/protocol"
	"github.com/mozilla/fxrecord/internal/restart"
	"github.com/mozilla/fxrecord/internal/taskcluster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubArtifactService struct {
	artifacts   []taskcluster.Artifact
	listErr     error
	streamErr   error
	streamedZip []byte
}

func (s *stubArtifactService) ListArtifacts(ctx context.Context, taskID string) ([]taskcluster.Artifact, error) {
	return s.artifacts, s.listErr
}

func (s *stubArtifactService) StreamArtifact(ctx context.Context, taskID, name string, w io.Writer) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	_, err := w.Write(s.streamedZip)
	return err
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func TestRunner_HandshakeReplyNoRestart(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := New(protocol.NewCodec(server), restart.StubRestarter{}, &stubArtifactService{}, discardLogger())

	ctx := context.Background()
	errs := make(chan error, 1)
	go func() { errs <- r.HandshakeReply(ctx) }()

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.Handshake{Restart: false}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	msg, err := peer.RecvExpecting(ctx, protocol.KindHandshakeReply)
	if err != nil {
		t.Fatalf("peer recv: %v", err)
	}
	if hr := msg.(protocol.HandshakeReply); hr.Err != nil {
		t.Errorf("unexpected error in reply: %s", *hr.Err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("HandshakeReply: %v", err)
	}
}

func TestRunner_HandshakeReplyRestartFailure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wantErr := os.ErrPermission
	r := New(protocol.NewCodec(server), restart.StubRestarter{Err: wantErr}, &stubArtifactService{}, discardLogger())

	ctx := context.Background()
	errs := make(chan error, 1)
	go func() { errs <- r.HandshakeReply(ctx) }()

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.Handshake{Restart: true}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	msg, err := peer.RecvExpecting(ctx, protocol.KindHandshakeReply)
	if err != nil {
		t.Fatalf("peer recv: %v", err)
	}
	hr := msg.(protocol.HandshakeReply)
	if hr.Err == nil || *hr.Err != wantErr.Error() {
		t.Fatalf("expected reply error %q, got %v", wantErr.Error(), hr.Err)
	}

	err = <-errs
	var shutdownErr *ShutdownError
	if err == nil {
		t.Fatal("expected ShutdownError")
	}
	if se, ok := err.(*ShutdownError); !ok {
		t.Errorf("expected *ShutdownError, got %T", err)
	} else {
		shutdownErr = se
	}
	if shutdownErr != nil && shutdownErr.Cause != wantErr {
		t.Errorf("expected cause %v, got %v", wantErr, shutdownErr.Cause)
	}
}

func TestRunner_DownloadBuildReplySuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	exeName := "firefox/firefox"
	buildZipBytes := buildZip(t, map[string][]byte{exeName: []byte("#!/bin/sh\n")})

	svc := &stubArtifactService{
		artifacts: []taskcluster.Artifact{
			{Name: taskcluster.BuildArtifactName, Expires: time.Now().Add(time.Hour)},
		},
		streamedZip: buildZipBytes,
	}

	downloadDir := t.TempDir()
	r := New(protocol.NewCodec(server), restart.StubRestarter{}, svc, discardLogger())

	ctx := context.Background()
	errs := make(chan error, 1)
	go func() { errs <- r.DownloadBuildReply(ctx, downloadDir) }()

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.DownloadBuild{TaskID: "abc"}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	msg, err := peer.RecvExpecting(ctx, protocol.KindDownloadBuildReply)
	if err != nil {
		t.Fatalf("peer recv: %v", err)
	}
	if dr := msg.(protocol.DownloadBuildReply); dr.Err != nil {
		t.Fatalf("unexpected error: %s", *dr.Err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("DownloadBuildReply: %v", err)
	}

	if _, err := os.Stat(filepath.Join(downloadDir, "build", exeName)); err != nil {
		t.Errorf("expected extracted executable: %v", err)
	}
}

func TestRunner_DownloadBuildReplyNotFound(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	svc := &stubArtifactService{artifacts: nil}
	r := New(protocol.NewCodec(server), restart.StubRestarter{}, svc, discardLogger())

	ctx := context.Background()
	errs := make(chan error, 1)
	go func() { errs <- r.DownloadBuildReply(ctx, t.TempDir()) }()

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.DownloadBuild{TaskID: "abc"}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	msg, err := peer.RecvExpecting(ctx, protocol.KindDownloadBuildReply)
	if err != nil {
		t.Fatalf("peer recv: %v", err)
	}
	dr := msg.(protocol.DownloadBuildReply)
	if dr.Err == nil {
		t.Fatal("expected reply error for missing artifact")
	}
	err = <-errs
	if tcErr, ok := err.(*taskcluster.Error); !ok || tcErr.Kind != taskcluster.NotFound {
		t.Fatalf("expected *taskcluster.Error{Kind: NotFound} from DownloadBuildReply, got %T: %v", err, err)
	}
}

func TestRunner_SendProfileReplyNone(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := New(protocol.NewCodec(server), restart.StubRestarter{}, &stubArtifactService{}, discardLogger())

	ctx := context.Background()
	type result struct {
		root string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		root, err := r.SendProfileReply(ctx, t.TempDir())
		results <- result{root, err}
	}()

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.SendProfile{}); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	if _, err := peer.RecvExpecting(ctx, protocol.KindSendProfileReply); err != nil {
		t.Fatalf("peer recv: %v", err)
	}

	res := <-results
	if res.err != nil {
		t.Fatalf("SendProfileReply: %v", res.err)
	}
	if res.root != "" {
		t.Errorf("expected empty profile root, got %q", res.root)
	}
}

func TestRunner_SendProfileReplyWithFile(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := New(protocol.NewCodec(server), restart.StubRestarter{}, &stubArtifactService{}, discardLogger())
	downloadDir := t.TempDir()

	ctx := context.Background()
	type result struct {
		root string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		root, err := r.SendProfileReply(ctx, downloadDir)
		results <- result{root, err}
	}()

	profileZip := buildZip(t, map[string][]byte{"places.sqlite": []byte("db")})
	size := uint64(len(profileZip))

	peer := protocol.NewCodec(client)
	if err := peer.Send(ctx, protocol.SendProfile{ProfileSize: &size}); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	msg, err := peer.RecvExpecting(ctx, protocol.KindSendProfileReply)
	if err != nil {
		t.Fatalf("peer recv downloading: %v", err)
	}
	if status := msg.(protocol.SendProfileReply).Status; status == nil || *status != protocol.Downloading {
		t.Fatalf("expected Downloading status, got %v", status)
	}

	if _, err := peer.Raw().Write(profileZip); err != nil {
		t.Fatalf("writing profile bytes: %v", err)
	}

	msg, err = peer.RecvExpecting(ctx, protocol.KindSendProfileReply)
	if err != nil {
		t.Fatalf("peer recv downloaded: %v", err)
	}
	if status := msg.(protocol.SendProfileReply).Status; status == nil || *status != protocol.Downloaded {
		t.Fatalf("expected Downloaded status, got %v", status)
	}

	msg, err = peer.RecvExpecting(ctx, protocol.KindSendProfileReply)
	if err != nil {
		t.Fatalf("peer recv extracted: %v", err)
	}
	if status := msg.(protocol.SendProfileReply).Status; status == nil || *status != protocol.Extracted {
		t.Fatalf("expected Extracted status, got %v", status)
	}

	res := <-results
	if res.err != nil {
		t.Fatalf("SendProfileReply: %v", res.err)
	}
	if res.root != filepath.Join(downloadDir, "profile") {
		t.Errorf("unexpected profile root: %q", res.root)
	}
}
