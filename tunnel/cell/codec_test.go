// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package cell

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestCodecVersionGuard(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	for _, v := range []uint16{0, 1, 2, 3, 6, 99} {
		_, err := NewCodec(v)
		require.Error(err, "version %d must be rejected", v)
		require.IsType(&UnsupportedVersionError{}, err)
	}
	for _, v := range []uint16{4, 5} {
		c, err := NewCodec(v)
		require.NoError(err)
		require.Equal(v, c.Version())
	}
}

func TestFixedCellRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(4)
	require.NoError(err)

	payload := make([]byte, 5)
	payload[0] = 0x02 // DESTROY reason
	in := &Cell{
		CircID:  7,
		Command: Destroy,
		Payload: payload,
	}
	b, err := codec.Encode(in)
	require.NoError(err)
	require.Len(b, CellLen)

	// Wire prefix: circid 7, command DESTROY(4), reason 2.
	require.True(bytes.HasPrefix(b, mustHex(t, "000000070402000000")))

	out, n, err := codec.Decode(b)
	require.NoError(err)
	require.Equal(CellLen, n)
	require.Equal(in.CircID, out.CircID)
	require.Equal(in.Command, out.Command)
	require.Len(out.Payload, PayloadLen)
	require.Equal(byte(0x02), out.Payload[0])
}

func TestVariableCellRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(4)
	require.NoError(err)

	in := &Cell{
		CircID:  0,
		Command: Certs,
		Payload: []byte{0x00},
	}
	b, err := codec.Encode(in)
	require.NoError(err)
	require.Equal(mustHex(t, "0000000081000100"), b)

	out, n, err := codec.Decode(b)
	require.NoError(err)
	require.Equal(len(b), n)
	require.Equal(in.CircID, out.CircID)
	require.Equal(in.Command, out.Command)
	require.Equal(in.Payload, out.Payload)
}

func TestDecodeNeedMoreData(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(4)
	require.NoError(err)

	full, err := codec.Encode(&Cell{CircID: 1, Command: Relay, Payload: []byte("hello")})
	require.NoError(err)

	// Every truncation of a valid cell yields need-more-data, never an
	// error or a partial parse.
	for i := 0; i < len(full); i++ {
		c, n, err := codec.Decode(full[:i])
		require.NoError(err, "truncated at %d", i)
		require.Nil(c, "truncated at %d", i)
		require.Zero(n, "truncated at %d", i)
	}

	// Same for a variable-length cell.
	full, err = codec.Encode(&Cell{CircID: 0, Command: AuthChallenge, Payload: make([]byte, 38)})
	require.NoError(err)
	for i := 0; i < len(full); i++ {
		c, n, err := codec.Decode(full[:i])
		require.NoError(err, "truncated at %d", i)
		require.Nil(c, "truncated at %d", i)
		require.Zero(n, "truncated at %d", i)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(4)
	require.NoError(err)

	b := make([]byte, CellLen)
	b[4] = 42 // not a defined command
	_, _, err = codec.Decode(b)
	require.ErrorIs(err, ErrUnknownCommand)

	_, err = codec.Encode(&Cell{Command: Cmd(42)})
	require.ErrorIs(err, ErrUnknownCommand)
}

func TestDecodeStream(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(5)
	require.NoError(err)

	// Two cells back to back; decode must stop at each cell boundary.
	c1, err := codec.Encode(&Cell{CircID: 7, Command: Destroy, Payload: []byte{0x02}})
	require.NoError(err)
	c2, err := codec.Encode(&Cell{CircID: 0, Command: Certs, Payload: []byte{0x00}})
	require.NoError(err)
	buf := append(append([]byte{}, c1...), c2...)

	out1, n1, err := codec.Decode(buf)
	require.NoError(err)
	require.Equal(Destroy, out1.Command)
	out2, n2, err := codec.Decode(buf[n1:])
	require.NoError(err)
	require.Equal(Certs, out2.Command)
	require.Equal(len(buf), n1+n2)
}

func TestEncodeOversizedPayload(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	codec, err := NewCodec(4)
	require.NoError(err)

	_, err = codec.Encode(&Cell{Command: Relay, Payload: make([]byte, PayloadLen+1)})
	require.ErrorIs(err, ErrPayloadSize)
}
