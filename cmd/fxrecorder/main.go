// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Command fxrecorder drives one recording session against a runner host:
// handshake, reconnect across its reboot, request a build download, and
// optionally upload a profile.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mozilla/fxrecord/internal/config"
	"github.com/mozilla/fxrecord/internal/logging"
	"github.com/mozilla/fxrecord/internal/recorder"
)

func main() {
	app := &cli.App{
		Name:  "fxrecorder",
		Usage: "drive a recording session against a runner host",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to recorder config YAML"},
			&cli.StringFlag{Name: "task-id", Required: true, Usage: "taskcluster task id whose build to record"},
			&cli.StringFlag{Name: "profile", Usage: "path to a profile zip to upload; omit to send no profile"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fxrecorder:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadRecorderConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	dial := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", cfg.Host)
	}

	ctx := context.Background()
	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to runner: %w", err)
	}

	rec := recorder.New(conn, dial, cfg.Retry.BaseDelay, cfg.Retry.MaxAttempts, logger)

	logger.Info("starting recording session", "host", cfg.Host, "task_id", c.String("task-id"))

	if err := rec.Handshake(ctx, true); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := rec.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnecting after restart: %w", err)
	}
	if err := rec.Handshake(ctx, false); err != nil {
		return fmt.Errorf("post-reconnect handshake: %w", err)
	}
	if err := rec.DownloadBuild(ctx, c.String("task-id")); err != nil {
		return fmt.Errorf("downloading build: %w", err)
	}
	if err := rec.SendProfile(ctx, c.String("profile")); err != nil {
		return fmt.Errorf("sending profile: %w", err)
	}

	logger.Info("recording session complete")
	return nil
}
