// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Command fxrunner serves recording sessions: it answers handshakes,
// restarts the host on request, fetches and extracts builds, and accepts
// an optional profile upload. It also exposes a health subcommand that
// checks reachability without entering the session protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mozilla/fxrecord/internal/config"
	"github.com/mozilla/fxrecord/internal/logging"
	"github.com/mozilla/fxrecord/internal/protocol"
	"github.com/mozilla/fxrecord/internal/restart"
	"github.com/mozilla/fxrecord/internal/runner"
	"github.com/mozilla/fxrecord/internal/taskcluster"
)

func main() {
	app := &cli.App{
		Name:  "fxrunner",
		Usage: "serve recording sessions on this bench host",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "accept and serve recording sessions",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to runner config YAML"},
				},
			},
			{
				Name:      "health",
				Usage:     "check that a runner is reachable",
				ArgsUsage: "<host:port>",
				Action:    health,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fxrunner:", err)
		os.Exit(1)
	}
}

func health(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return fmt.Errorf("usage: fxrunner health <host:port>")
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("runner at %s is not reachable: %w", addr, err)
	}
	conn.Close()

	fmt.Printf("runner at %s is reachable\n", addr)
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.LoadRunnerConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	httpClient := &http.Client{Timeout: cfg.Taskcluster.HTTPTimeout}
	artifacts, err := taskcluster.NewClient(cfg.Taskcluster.QueueBaseURL, httpClient, cfg.Taskcluster.DownloadRateBytes)
	if err != nil {
		return fmt.Errorf("building artifact client: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Host)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Host, err)
	}
	defer listener.Close()

	logger.Info("fxrunner listening", "host", cfg.Host)

	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Error("accept failed", "error", err)
			continue
		}
		serveConn(conn, cfg.RequestsDir, artifacts, logger)
	}
}

// serveConn handles one connection's worth of session procedures. Per the
// protocol's Non-goals there is no concurrency here: the runner serves one
// connection fully before accepting the next, which is exactly the
// recorder's own reconnect-and-continue shape.
func serveConn(conn net.Conn, requestsDir string, artifacts runner.ArtifactService, logger *slog.Logger) {
	defer conn.Close()

	ctx := context.Background()
	r := runner.New(protocol.NewCodec(conn), restart.OSRestarter{}, artifacts, logger)

	if err := r.HandshakeReply(ctx); err != nil {
		logger.Error("handshake failed", "error", err)
		return
	}

	sessionDir := filepath.Join(requestsDir, fmt.Sprintf("session-%d", time.Now().UnixNano()))

	if err := r.DownloadBuildReply(ctx, sessionDir); err != nil {
		logger.Error("download_build reply failed", "error", err)
		return
	}

	profileRoot, err := r.SendProfileReply(ctx, sessionDir)
	if err != nil {
		logger.Error("send_profile reply failed", "error", err)
		return
	}

	logger.Info("session complete", "session_dir", sessionDir, "profile_root", profileRoot)
}
