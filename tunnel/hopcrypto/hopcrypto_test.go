// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package hopcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

func testKey() []byte {
	key := make([]byte, KeyLen)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	client, err := NewChaChaCryptor(testKey())
	require.NoError(err)
	peer, err := NewChaChaCryptorPeer(testKey())
	require.NoError(err)

	outer := &relay.MsgOuter{
		StreamID: 7,
		Msg:      &relay.DataMsg{Body: []byte("onion")},
	}
	payload, err := outer.Encode()
	require.NoError(err)
	require.Len(payload, cell.PayloadLen)

	// Client to relay direction.
	require.NoError(client.EncryptOutbound(payload))
	recognized, err := peer.DecryptInbound(payload)
	require.NoError(err)
	require.True(recognized)

	got, err := relay.DecodeMsgOuter(payload)
	require.NoError(err)
	require.Equal(outer.StreamID, got.StreamID)
	require.Equal(outer.Msg, got.Msg)

	// Relay to client direction.
	payload, err = outer.Encode()
	require.NoError(err)
	require.NoError(peer.EncryptOutbound(payload))
	recognized, err = client.DecryptInbound(payload)
	require.NoError(err)
	require.True(recognized)
}

func TestUnrecognized(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	client, err := NewChaChaCryptor(testKey())
	require.NoError(err)

	other := make([]byte, KeyLen)
	peer, err := NewChaChaCryptorPeer(other)
	require.NoError(err)

	payload, err := (&relay.MsgOuter{Msg: &relay.ConnectedMsg{}}).Encode()
	require.NoError(err)
	require.NoError(client.EncryptOutbound(payload))

	// Wrong keys: the payload must not be recognized.
	recognized, err := peer.DecryptInbound(payload)
	require.NoError(err)
	require.False(recognized)
}

func TestBadKeyLength(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := NewChaChaCryptor([]byte("short"))
	require.Error(err)
}
