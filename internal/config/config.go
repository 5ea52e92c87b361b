// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package config loads the YAML node configuration used by the
// command-line tools.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Overlay kinds a node can run.
const (
	OverlayChord  = "chord"
	OverlayPastry = "pastry"
)

// Config describes one node process.
type Config struct {
	// Overlay selects the routing protocol: "chord" or "pastry".
	Overlay string `yaml:"overlay"`

	// Host and Port are the listening address. Port 0 lets the
	// kernel pick.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Bootstrap is the host:port of a live overlay member to join
	// through; empty starts a fresh overlay.
	Bootstrap string `yaml:"bootstrap"`

	// StorageDir enables best-effort index persistence when set.
	StorageDir string `yaml:"storage_dir"`

	// Order is the local index branching factor; 0 uses the default.
	Order int `yaml:"order"`

	// LeafSet is the Pastry leaf set size; 0 uses the default.
	LeafSet int `yaml:"leaf_set"`

	Log Log `yaml:"log"`
}

// Log configures the structured logger.
type Log struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// File, when set, sends output to a size-rotated file instead of
	// stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration a bare node runs with.
func Default() Config {
	return Config{
		Overlay: OverlayChord,
		Host:    "127.0.0.1",
		Log: Log{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads path into a Config on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations no node can run with.
func (c Config) Validate() error {
	switch c.Overlay {
	case OverlayChord, OverlayPastry:
	default:
		return errors.Errorf("config: unknown overlay %q", c.Overlay)
	}
	if c.Host == "" {
		return errors.New("config: host required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("config: invalid port %d", c.Port)
	}
	if c.Order < 0 || c.LeafSet < 0 {
		return errors.New("config: order and leaf_set must be non-negative")
	}
	return nil
}
