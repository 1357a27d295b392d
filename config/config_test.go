// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(""))
	require.NoError(err)
	require.Equal("NOTICE", cfg.Logging.Level)
	require.Equal("tcp", cfg.Transport.Network)
	require.Equal(uint16(4), cfg.Transport.LinkProtocol)
	require.Equal(128, cfg.Tunnel.ReorderCapacity)
	require.Equal(10*time.Second, cfg.Tunnel.GapTimeout())
	require.Equal(5*time.Second, cfg.Tunnel.DrainTimeout())
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	const raw = `
[Logging]
Level = "debug"

[Transport]
Network = "quic"
LinkProtocol = 5

[Tunnel]
ReorderCapacity = 64
GapTimeoutSec = 3
`
	cfg, err := Load([]byte(raw))
	require.NoError(err)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("quic", cfg.Transport.Network)
	require.Equal(uint16(5), cfg.Transport.LinkProtocol)
	require.Equal(64, cfg.Tunnel.ReorderCapacity)
	require.Equal(3*time.Second, cfg.Tunnel.GapTimeout())
}

func TestLoadRejectsBadValues(t *testing.T) {
	require := require.New(t)

	_, err := Load([]byte("[Logging]\nLevel = \"shout\"\n"))
	require.Error(err)

	_, err = Load([]byte("[Transport]\nNetwork = \"carrier-pigeon\"\n"))
	require.Error(err)
}
