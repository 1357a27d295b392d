// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the tunneld configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel        = "NOTICE"
	defaultGapTimeout      = 10 * time.Second
	defaultDrainTimeout    = 5 * time.Second
	defaultReorderCapacity = 128
	defaultLinkProtocol    = 4
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Transport is the link transport configuration.
type Transport struct {
	// Network selects the link transport, "tcp" or "quic".
	Network string

	// LinkProtocol is the negotiated link protocol version used for
	// cell framing.
	LinkProtocol uint16
}

func (tCfg *Transport) validate() error {
	switch tCfg.Network {
	case "":
		tCfg.Network = "tcp"
	case "tcp", "quic":
	default:
		return fmt.Errorf("config: Transport: Network '%v' is invalid", tCfg.Network)
	}
	if tCfg.LinkProtocol == 0 {
		tCfg.LinkProtocol = defaultLinkProtocol
	}
	return nil
}

// Tunnel is the tunnel engine configuration.
type Tunnel struct {
	// ReorderCapacity bounds the conflux reorder buffer, in cells.
	ReorderCapacity int

	// GapTimeoutSec bounds how long delivery may stall behind a
	// conflux sequence gap, in seconds.
	GapTimeoutSec int

	// DrainTimeoutSec bounds the flush on close, in seconds.
	DrainTimeoutSec int

	// ParamCacheFile is the consensus parameter cache database, or
	// empty to run from built-in defaults.
	ParamCacheFile string
}

func (tCfg *Tunnel) fixup() {
	if tCfg.ReorderCapacity == 0 {
		tCfg.ReorderCapacity = defaultReorderCapacity
	}
}

// GapTimeout returns the conflux gap timeout as a duration.
func (tCfg *Tunnel) GapTimeout() time.Duration {
	if tCfg.GapTimeoutSec == 0 {
		return defaultGapTimeout
	}
	return time.Duration(tCfg.GapTimeoutSec) * time.Second
}

// DrainTimeout returns the drain timeout as a duration.
func (tCfg *Tunnel) DrainTimeout() time.Duration {
	if tCfg.DrainTimeoutSec == 0 {
		return defaultDrainTimeout
	}
	return time.Duration(tCfg.DrainTimeoutSec) * time.Second
}

// Debug is the debug configuration.
type Debug struct {
	// ForceFixedWindow forces the legacy fixed window congestion
	// control algorithm regardless of consensus parameters.
	ForceFixedWindow bool
}

// Config is the top-level configuration.
type Config struct {
	Logging   *Logging
	Transport *Transport
	Tunnel    *Tunnel
	Debug     *Debug
}

// FixupAndValidate applies defaults and validates the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if c.Transport == nil {
		c.Transport = new(Transport)
	}
	if c.Tunnel == nil {
		c.Tunnel = new(Tunnel)
	}
	if c.Debug == nil {
		c.Debug = new(Debug)
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Transport.validate(); err != nil {
		return err
	}
	c.Tunnel.fixup()
	return nil
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
