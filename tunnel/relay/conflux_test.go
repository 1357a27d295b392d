// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testLinkPayload() V1LinkPayload {
	var nonce LinkNonce
	for i := range nonce {
		nonce[i] = byte(0xa0 + i)
	}
	return V1LinkPayload{
		Nonce:         nonce,
		LastSeqnoSent: 0x0102030405060708,
		LastSeqnoRecv: 0x1112131415161718,
		DesiredUX:     UXMinLatency,
	}
}

func TestLinkRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &LinkMsg{Payload: testLinkPayload()}
	body, err := in.EncodeBody()
	require.NoError(err)
	require.Len(body, linkBodyLen)
	require.Equal(byte(LinkVersion), body[0])

	out, err := DecodeBody(ConfluxLink, body)
	require.NoError(err)
	require.Equal(in, out)
}

func TestLinkedRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &LinkedMsg{Payload: testLinkPayload()}
	body, err := in.EncodeBody()
	require.NoError(err)

	out, err := DecodeBody(ConfluxLinked, body)
	require.NoError(err)
	require.Equal(in, out)
}

func TestLinkVersionGuard(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	body, err := (&LinkMsg{Payload: testLinkPayload()}).EncodeBody()
	require.NoError(err)

	// Any version byte other than 1 must yield ErrUnrecognizedVersion,
	// regardless of the validity of the remaining bytes.
	for _, v := range []byte{0, 2, 3, 0xff} {
		bad := append([]byte{}, body...)
		bad[0] = v
		_, err := DecodeBody(ConfluxLink, bad)
		require.ErrorIs(err, ErrUnrecognizedVersion, "version %d", v)
		_, err = DecodeBody(ConfluxLinked, bad)
		require.ErrorIs(err, ErrUnrecognizedVersion, "version %d", v)
	}
}

func TestLinkExtraneousBytes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	body, err := (&LinkMsg{Payload: testLinkPayload()}).EncodeBody()
	require.NoError(err)

	_, err = DecodeBody(ConfluxLink, append(body, 0))
	require.ErrorIs(err, ErrExtraneousBytes)
}

func TestLinkedAck(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	body, err := (&LinkedAckMsg{}).EncodeBody()
	require.NoError(err)
	require.Empty(body)

	_, err = DecodeBody(ConfluxLinkedAck, nil)
	require.NoError(err)

	// LINKED_ACK mandates an empty body.
	_, err = DecodeBody(ConfluxLinkedAck, []byte{0})
	require.ErrorIs(err, ErrExtraneousBytes)
}

func TestSwitch(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &SwitchMsg{Seqno: 0xdeadbeef}
	body, err := in.EncodeBody()
	require.NoError(err)
	require.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, body)

	out, err := DecodeBody(ConfluxSwitch, body)
	require.NoError(err)
	require.Equal(in, out)

	_, err = DecodeBody(ConfluxSwitch, body[:3])
	require.ErrorIs(err, ErrTruncated)
	_, err = DecodeBody(ConfluxSwitch, append(body, 0))
	require.ErrorIs(err, ErrExtraneousBytes)
}

func TestDesiredUXString(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	require.Equal("NO_OPINION", UXNoOpinion.String())
	require.Equal("HIGH_THROUGHPUT", UXHighThroughput.String())
	require.Equal("DesiredUX(9)", DesiredUX(9).String())
}
