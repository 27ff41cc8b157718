// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package recorder implements the client-side state machine driving a
// recording session: handshake, reconnect across the runner's reboot,
// build download, and optional profile upload (§4.3 of the design).
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/mozilla/fxrecord/internal/protocol"
	"github.com/mozilla/fxrecord/internal/retry"
)

// State names one point in the session's lifecycle. Methods assert the
// state they require and panic on misuse: a caller invoking procedures out
// of order is a programming error, never something the wire protocol
// itself can produce.
type State int

const (
	StateFresh State = iota
	StateHandshook1
	StateReconnected
	StateHandshook2
	StateBuildDownloaded
	StateProfileSent
	StateDone
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateHandshook1:
		return "Handshook1"
	case StateReconnected:
		return "Reconnected"
	case StateHandshook2:
		return "Handshook2"
	case StateBuildDownloaded:
		return "BuildDownloaded"
	case StateProfileSent:
		return "ProfileSent"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Dialer opens a fresh TCP connection to the runner. It is called once up
// front for the first connection, and again (through the retry harness) to
// reconnect after the runner reboots.
type Dialer func(ctx context.Context) (net.Conn, error)

// Recorder drives one recording session across its two TCP connections.
type Recorder struct {
	logger *slog.Logger
	dial   Dialer
	codec  *protocol.Codec
	conn   net.Conn
	state  State

	retryBase        time.Duration
	retryMaxAttempts int
}

// New creates a Recorder bound to an already-open first connection. dial is
// used only by Reconnect, to reopen the connection after the runner
// reboots.
func New(conn net.Conn, dial Dialer, retryBase time.Duration, retryMaxAttempts int, logger *slog.Logger) *Recorder {
	return &Recorder{
		logger:           logger.With("component", "recorder"),
		dial:             dial,
		codec:            protocol.NewCodec(conn),
		conn:             conn,
		state:            StateFresh,
		retryBase:        retryBase,
		retryMaxAttempts: retryMaxAttempts,
	}
}

// State reports the recorder's current position in its lifecycle.
func (r *Recorder) State() State { return r.state }

func (r *Recorder) requireState(want State) {
	if r.state != want {
		panic(fmt.Sprintf("recorder: called in state %s, expected %s", r.state, want))
	}
}

// Handshake sends a Handshake{Restart: restart} and waits for the
// HandshakeReply. It is called with restart=true on the first connection
// and restart=false after Reconnect.
func (r *Recorder) Handshake(ctx context.Context, restart bool) error {
	if restart {
		r.requireState(StateFresh)
	} else {
		r.requireState(StateReconnected)
	}

	r.logger.Info("sending handshake", "restart", restart)

	if err := r.codec.Send(ctx, protocol.Handshake{Restart: restart}); err != nil {
		return err
	}

	reply, err := r.codec.RecvExpecting(ctx, protocol.KindHandshakeReply)
	if err != nil {
		return err
	}

	hr := reply.(protocol.HandshakeReply)
	if hr.Err != nil {
		r.logger.Error("handshake failed", "error", *hr.Err)
		return protocol.ForeignError(*hr.Err)
	}

	if restart {
		r.state = StateHandshook1
	} else {
		r.state = StateHandshook2
	}
	return nil
}

// Reconnect closes the first connection and reopens a fresh one, retrying
// with delayed exponential backoff (§4.5). It must be called after
// Handshake(ctx, true) and before Handshake(ctx, false).
func (r *Recorder) Reconnect(ctx context.Context) error {
	r.requireState(StateHandshook1)

	r.conn.Close()

	var conn net.Conn
	attempt := func(ctx context.Context) error {
		r.logger.Info("attempting re-connection to runner")
		c, err := r.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	if err := retry.DelayedExponentialRetry(ctx, attempt, r.retryBase, r.retryMaxAttempts); err != nil {
		r.logger.Error("could not connect to runner", "error", err)
		return err
	}

	r.logger.Info("re-connected")
	r.conn = conn
	r.codec = protocol.NewCodec(conn)
	r.state = StateReconnected
	return nil
}

// DownloadBuild asks the runner to fetch and extract the given task's
// build. It must be called after Handshake(ctx, false) on the second
// connection.
func (r *Recorder) DownloadBuild(ctx context.Context, taskID string) error {
	r.requireState(StateHandshook2)

	r.logger.Info("requesting build download", "task_id", taskID)

	if err := r.codec.Send(ctx, protocol.DownloadBuild{TaskID: taskID}); err != nil {
		return err
	}

	reply, err := r.codec.RecvExpecting(ctx, protocol.KindDownloadBuildReply)
	if err != nil {
		return err
	}

	dr := reply.(protocol.DownloadBuildReply)
	if dr.Err != nil {
		r.logger.Error("build download failed", "error", *dr.Err)
		return protocol.ForeignError(*dr.Err)
	}

	r.state = StateBuildDownloaded
	return nil
}

// SendProfile uploads the profile zip at zipPath, or signals that no
// profile is being sent this session when zipPath is empty.
func (r *Recorder) SendProfile(ctx context.Context, zipPath string) error {
	r.requireState(StateBuildDownloaded)

	if zipPath == "" {
		return r.sendNoProfile(ctx)
	}
	return r.sendProfileFile(ctx, zipPath)
}

func (r *Recorder) sendNoProfile(ctx context.Context) error {
	r.logger.Info("sending send_profile", "profile", "none")

	if err := r.codec.Send(ctx, protocol.SendProfile{}); err != nil {
		return err
	}

	if _, err := r.recvSendProfileReply(ctx, nil); err != nil {
		return err
	}

	r.state = StateDone
	return nil
}

func (r *Recorder) sendProfileFile(ctx context.Context, zipPath string) error {
	info, err := os.Stat(zipPath)
	if err != nil {
		return fmt.Errorf("recorder: statting profile zip: %w", err)
	}
	size := uint64(info.Size())

	r.logger.Info("sending send_profile", "profile", zipPath, "size", size)

	if err := r.codec.Send(ctx, protocol.SendProfile{ProfileSize: &size}); err != nil {
		return err
	}

	downloading := protocol.Downloading
	if _, err := r.recvSendProfileReply(ctx, &downloading); err != nil {
		return err
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return fmt.Errorf("recorder: opening profile zip: %w", err)
	}
	defer f.Close()

	r.logger.Info("streaming profile bytes", "size", size)
	if err := protocol.CopyExactly(ctx, r.codec.Raw(), f, size); err != nil {
		return err
	}

	downloaded := protocol.Downloaded
	if _, err := r.recvSendProfileReply(ctx, &downloaded); err != nil {
		return err
	}

	extracted := protocol.Extracted
	if _, err := r.recvSendProfileReply(ctx, &extracted); err != nil {
		return err
	}

	r.state = StateDone
	return nil
}

// recvSendProfileReply receives one SendProfileReply and enforces that its
// status exactly matches want (both nil, or both holding the same value).
func (r *Recorder) recvSendProfileReply(ctx context.Context, want *protocol.DownloadStatus) (protocol.SendProfileReply, error) {
	msg, err := r.codec.RecvExpecting(ctx, protocol.KindSendProfileReply)
	if err != nil {
		return protocol.SendProfileReply{}, err
	}

	reply := msg.(protocol.SendProfileReply)
	if reply.Err != nil {
		r.logger.Error("send_profile failed", "error", *reply.Err)
		return protocol.SendProfileReply{}, protocol.ForeignError(*reply.Err)
	}

	if !statusEqual(want, reply.Status) {
		return protocol.SendProfileReply{}, &protocol.SendProfileMismatchError{
			Expected: want,
			Received: reply.Status,
		}
	}
	return reply, nil
}

func statusEqual(a, b *protocol.DownloadStatus) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
