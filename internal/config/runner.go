// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunnerConfig is the configuration for fxrunner.
type RunnerConfig struct {
	Host        string            `yaml:"host"`
	RequestsDir string            `yaml:"requests_dir"`
	Taskcluster TaskclusterConfig `yaml:"taskcluster"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TaskclusterConfig points the runner at the artifact-service queue.
type TaskclusterConfig struct {
	QueueBaseURL      string        `yaml:"queue_base_url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	DownloadRateBytes int64         `yaml:"download_rate_bytes"` // 0 = unthrottled
}

// LoadRunnerConfig reads and validates the runner's YAML config file.
func LoadRunnerConfig(path string) (*RunnerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runner config: %w", err)
	}

	var cfg RunnerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing runner config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating runner config: %w", err)
	}

	return &cfg, nil
}

func (c *RunnerConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.RequestsDir == "" {
		return fmt.Errorf("requests_dir is required")
	}
	if c.Taskcluster.QueueBaseURL == "" {
		return fmt.Errorf("taskcluster.queue_base_url is required")
	}
	if c.Taskcluster.HTTPTimeout <= 0 {
		c.Taskcluster.HTTPTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
