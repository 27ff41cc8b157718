// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package runner implements the server-side mirror of the recorder's state
// machine: it replies to handshakes, restarts the host when asked, fetches
// and extracts Firefox builds, and accepts an optional profile upload
// (§4.4 of the design).
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mozilla/fxrecord/internal/archive"
	"github.com/mozilla/fxrecord/internal/protocol"
	"github.com/mozilla/fxrecord/internal/restart"
	"github.com/mozilla/fxrecord/internal/taskcluster"
)

// ArtifactService resolves and streams a task's build artifact. It is
// satisfied by *taskcluster.Client; tests supply a stub.
type ArtifactService interface {
	ListArtifacts(ctx context.Context, taskID string) ([]taskcluster.Artifact, error)
	StreamArtifact(ctx context.Context, taskID, name string, w io.Writer) error
}

// ShutdownError wraps a failure to initiate the post-handshake restart.
type ShutdownError struct {
	Cause error
}

func (e *ShutdownError) Error() string { return fmt.Sprintf("runner: initiating restart: %v", e.Cause) }
func (e *ShutdownError) Unwrap() error { return e.Cause }

// Runner drives one connection's worth of server-side protocol handling.
// A fresh Runner is constructed per accepted connection; the recorder's
// two-connection session is reflected here as two separate Runner values
// sharing the same restarter and artifact service.
type Runner struct {
	logger    *slog.Logger
	codec     *protocol.Codec
	restarter restart.Restarter
	artifacts ArtifactService
}

// New wraps an accepted connection's codec with the capabilities the
// runner needs: a restarter to reboot the host, and an artifact service to
// fetch builds. A fresh Runner is constructed per accepted connection.
func New(codec *protocol.Codec, restarter restart.Restarter, artifacts ArtifactService, logger *slog.Logger) *Runner {
	return &Runner{
		logger:    logger.With("component", "runner"),
		codec:     codec,
		restarter: restarter,
		artifacts: artifacts,
	}
}

// HandshakeReply receives a Handshake and answers it. When the recorder
// asked for a restart, the reply is held until the restart capability has
// been attempted: on failure the reply carries the stringified error and
// HandshakeReply also returns it wrapped in a *ShutdownError so the
// runner process can decide whether to keep serving this connection; on
// success the reply is a plain acknowledgement, same as the no-restart
// case.
func (r *Runner) HandshakeReply(ctx context.Context) error {
	msg, err := r.codec.RecvExpecting(ctx, protocol.KindHandshake)
	if err != nil {
		return err
	}
	hs := msg.(protocol.Handshake)

	r.logger.Info("received handshake", "restart", hs.Restart)

	if !hs.Restart {
		return r.codec.Send(ctx, protocol.HandshakeReply{})
	}

	r.logger.Info("initiating restart")
	if err := r.restarter.InitiateRestart(ctx, "fxrunner: recording session handshake"); err != nil {
		r.logger.Error("restart failed", "error", err)
		msg := err.Error()
		if sendErr := r.codec.Send(ctx, protocol.HandshakeReply{Err: &msg}); sendErr != nil {
			return sendErr
		}
		return &ShutdownError{Cause: err}
	}

	return r.codec.Send(ctx, protocol.HandshakeReply{})
}

// DownloadBuildReply receives a DownloadBuild request, resolves and streams
// the task's build artifact into downloadDir, and extracts it. Any failure
// is reported to the recorder as a foreign error and then returned to the
// caller in its structured form.
func (r *Runner) DownloadBuildReply(ctx context.Context, downloadDir string) error {
	msg, err := r.codec.RecvExpecting(ctx, protocol.KindDownloadBuild)
	if err != nil {
		return err
	}
	db := msg.(protocol.DownloadBuild)

	r.logger.Info("received download_build", "task_id", db.TaskID)

	if ferr := r.downloadBuild(ctx, db.TaskID, downloadDir); ferr != nil {
		r.logger.Error("build download failed", "error", ferr)
		msg := ferr.Error()
		if sendErr := r.codec.Send(ctx, protocol.DownloadBuildReply{Err: &msg}); sendErr != nil {
			return sendErr
		}
		return ferr
	}

	return r.codec.Send(ctx, protocol.DownloadBuildReply{})
}

func (r *Runner) downloadBuild(ctx context.Context, taskID, downloadDir string) error {
	artifacts, err := r.artifacts.ListArtifacts(ctx, taskID)
	if err != nil {
		return err
	}

	artifact, err := taskcluster.FindBuildArtifact(artifacts, time.Now())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}

	zipPath := filepath.Join(downloadDir, "target.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("creating build archive: %w", err)
	}

	streamErr := r.artifacts.StreamArtifact(ctx, taskID, artifact.Name, f)
	closeErr := f.Close()
	if streamErr != nil {
		return streamErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing build archive: %w", closeErr)
	}

	buildDir := filepath.Join(downloadDir, "build")
	if err := archive.Extract(zipPath, buildDir); err != nil {
		return fmt.Errorf("extracting build archive: %w", err)
	}

	return archive.VerifyBuild(buildDir)
}

// SendProfileReply receives a SendProfile request. If the recorder is not
// sending a profile this session, it acknowledges and returns immediately.
// Otherwise it streams the profile bytes into downloadDir, acknowledges
// each stage of the raw transfer, and extracts the resulting zip.
func (r *Runner) SendProfileReply(ctx context.Context, downloadDir string) (string, error) {
	msg, err := r.codec.RecvExpecting(ctx, protocol.KindSendProfile)
	if err != nil {
		return "", err
	}
	sp := msg.(protocol.SendProfile)

	if sp.ProfileSize == nil {
		r.logger.Info("no profile sent this session")
		return "", r.codec.Send(ctx, protocol.SendProfileReply{})
	}

	root, ferr := r.receiveProfile(ctx, *sp.ProfileSize, downloadDir)
	if ferr != nil {
		r.logger.Error("send_profile failed", "error", ferr)
		msg := ferr.Error()
		return "", r.codec.Send(ctx, protocol.SendProfileReply{Err: &msg})
	}
	return root, nil
}

func (r *Runner) receiveProfile(ctx context.Context, size uint64, downloadDir string) (string, error) {
	downloading := protocol.Downloading
	if err := r.codec.Send(ctx, protocol.SendProfileReply{Status: &downloading}); err != nil {
		return "", err
	}

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}

	zipPath := filepath.Join(downloadDir, "profile.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("creating profile archive: %w", err)
	}

	r.logger.Info("receiving profile bytes", "size", size)
	copyErr := protocol.CopyExactly(ctx, f, r.codec.Raw(), size)
	closeErr := f.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", fmt.Errorf("closing profile archive: %w", closeErr)
	}

	downloaded := protocol.Downloaded
	if err := r.codec.Send(ctx, protocol.SendProfileReply{Status: &downloaded}); err != nil {
		return "", err
	}

	profileDir := filepath.Join(downloadDir, "profile")
	if err := archive.Extract(zipPath, profileDir); err != nil {
		return "", fmt.Errorf("extracting profile archive: %w", err)
	}

	root, err := archive.FindProfileRoot(profileDir)
	if err != nil {
		return "", err
	}

	extracted := protocol.Extracted
	if err := r.codec.Send(ctx, protocol.SendProfileReply{Status: &extracted}); err != nil {
		return "", err
	}

	return root, nil
}
