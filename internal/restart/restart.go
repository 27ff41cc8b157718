// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package restart abstracts the OS-specific mechanism the runner uses to
// reboot its own host. The protocol core never calls an OS reboot API
// directly; it depends only on the Restarter interface so tests can inject
// a deterministic stub (§9 of the design notes).
package restart

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Restarter requests that the current host reboot. InitiateRestart is
// synchronous: on success the caller may assume the OS will imminently
// reboot this host, but the reboot itself happens asynchronously after the
// call returns.
type Restarter interface {
	InitiateRestart(ctx context.Context, reason string) error
}

// OSRestarter issues a real reboot via the platform's native command. It is
// meant for production runner deployments only.
type OSRestarter struct{}

// InitiateRestart shells out to the platform reboot command.
func (OSRestarter) InitiateRestart(ctx context.Context, reason string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "shutdown", "/r", "/t", "0", "/c", reason)
	case "darwin":
		cmd = exec.CommandContext(ctx, "shutdown", "-r", "now", reason)
	default:
		cmd = exec.CommandContext(ctx, "shutdown", "-r", "now", reason)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restart: initiating reboot: %w", err)
	}
	return nil
}

// StubRestarter is a deterministic test double: it either always succeeds
// or always fails with Err.
type StubRestarter struct {
	Err error
}

// InitiateRestart returns s.Err without touching the host.
func (s StubRestarter) InitiateRestart(context.Context, string) error {
	return s.Err
}
