package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirokit/boardreport/pkg/export"
)

// FileConfig is the YAML tuning file. Every field is optional; zero values
// fall back to the production defaults.
type FileConfig struct {
	Window       int `yaml:"window"`
	PageSize     int `yaml:"page_size"`
	BoardsBatch  int `yaml:"boards_batch"`
	MembersBatch int `yaml:"members_batch"`

	TeamsCeiling     int `yaml:"teams_retry_ceiling"`
	BoardsCeiling    int `yaml:"boards_retry_ceiling"`
	MembersCeiling   int `yaml:"members_retry_ceiling"`
	BoardRetryRounds int `yaml:"board_retry_rounds"`

	TeamsCooldownSec   int `yaml:"teams_cooldown_seconds"`
	BoardsCooldownSec  int `yaml:"boards_cooldown_seconds"`
	MembersCooldownSec int `yaml:"members_cooldown_seconds"`
	RoundCooldownSec   int `yaml:"round_cooldown_seconds"`

	RequestTimeoutSec int `yaml:"request_timeout_seconds"`
}

// loadFileConfig reads the YAML tuning file. A missing path returns an
// empty config without error.
func loadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

// pipelineConfig merges the file tuning over the production defaults.
func pipelineConfig(orgID string, fc FileConfig) export.Config {
	cfg := export.DefaultConfig(orgID)

	if fc.Window > 0 {
		cfg.Window = fc.Window
	}
	if fc.PageSize > 0 {
		cfg.PageSize = fc.PageSize
	}
	if fc.BoardsBatch > 0 {
		cfg.BoardsBatch = fc.BoardsBatch
	}
	if fc.MembersBatch > 0 {
		cfg.MembersBatch = fc.MembersBatch
	}
	if fc.TeamsCeiling > 0 {
		cfg.TeamsCeiling = fc.TeamsCeiling
	}
	if fc.BoardsCeiling > 0 {
		cfg.BoardsCeiling = fc.BoardsCeiling
	}
	if fc.MembersCeiling > 0 {
		cfg.MembersCeiling = fc.MembersCeiling
	}
	if fc.BoardRetryRounds > 0 {
		cfg.BoardRetryRounds = fc.BoardRetryRounds
	}
	if fc.TeamsCooldownSec > 0 {
		cfg.TeamsCooldown = time.Duration(fc.TeamsCooldownSec) * time.Second
	}
	if fc.BoardsCooldownSec > 0 {
		cfg.BoardsCooldown = time.Duration(fc.BoardsCooldownSec) * time.Second
	}
	if fc.MembersCooldownSec > 0 {
		cfg.MembersCooldown = time.Duration(fc.MembersCooldownSec) * time.Second
	}
	if fc.RoundCooldownSec > 0 {
		cfg.RoundCooldown = time.Duration(fc.RoundCooldownSec) * time.Second
	}
	if fc.RequestTimeoutSec > 0 {
		cfg.RequestTimeout = time.Duration(fc.RequestTimeoutSec) * time.Second
	}

	return cfg
}
