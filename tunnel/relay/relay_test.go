// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	body, err := m.EncodeBody()
	require.NoError(t, err)
	out, err := DecodeBody(m.Cmd(), body)
	require.NoError(t, err)
	require.Equal(t, m.Cmd(), out.Cmd())
	return out
}

func TestBegin(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &BeginMsg{Addr: "www.example.com", Port: 443, Flags: 5}
	out := roundTrip(t, in).(*BeginMsg)
	require.Equal(in, out)

	// Missing NUL terminator.
	_, err := DecodeBody(Begin, []byte("www.example.com:443"))
	require.ErrorIs(err, ErrTruncated)

	// Missing port.
	_, err = DecodeBody(Begin, append([]byte("no-port-here"), 0))
	require.IsType(&BadMessageError{}, err)
}

func TestData(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &DataMsg{Body: []byte("hello world")}
	out := roundTrip(t, in).(*DataMsg)
	require.Equal(in.Body, out.Body)

	_, err := (&DataMsg{Body: make([]byte, MaxBodyLen+1)}).EncodeBody()
	require.IsType(&BadMessageError{}, err)
}

func TestEnd(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &EndMsg{Reason: EndReasonDone}
	out := roundTrip(t, in).(*EndMsg)
	require.Equal(in.Reason, out.Reason)

	// Empty END body defaults to REASON_MISC.
	m, err := DecodeBody(End, nil)
	require.NoError(err)
	require.Equal(EndReasonMisc, m.(*EndMsg).Reason)
}

func TestSendme(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	tag := make([]byte, SendmeTagLen)
	for i := range tag {
		tag[i] = byte(i)
	}
	in := &SendmeMsg{Version: 1, Tag: tag}
	out := roundTrip(t, in).(*SendmeMsg)
	require.Equal(in, out)

	// Version 0: empty body.
	m, err := DecodeBody(Sendme, nil)
	require.NoError(err)
	require.Equal(byte(0), m.(*SendmeMsg).Version)

	// Unknown version is distinct from a generic parse error.
	_, err = DecodeBody(Sendme, []byte{9, 0, 20})
	require.ErrorIs(err, ErrUnrecognizedVersion)

	// Bad tag length field.
	_, err = DecodeBody(Sendme, []byte{1, 0, 19})
	require.ErrorIs(err, ErrBadLengthValue)

	// Trailing bytes after the tag.
	body, err := in.EncodeBody()
	require.NoError(err)
	_, err = DecodeBody(Sendme, append(body, 0))
	require.ErrorIs(err, ErrExtraneousBytes)
}

func TestRoundTripAllVariants(t *testing.T) {
	t.Parallel()

	var nonce LinkNonce
	for i := range nonce {
		nonce[i] = byte(i)
	}
	payload := V1LinkPayload{
		Nonce:         nonce,
		LastSeqnoSent: 123456789,
		LastSeqnoRecv: 987654321,
		DesiredUX:     UXHighThroughput,
	}

	msgs := []Message{
		&BeginMsg{Addr: "host", Port: 80, Flags: 1},
		&DataMsg{Body: []byte("payload")},
		&EndMsg{Reason: EndReasonTimeout},
		&ConnectedMsg{},
		&SendmeMsg{Version: 0},
		&LinkMsg{Payload: payload},
		&LinkedMsg{Payload: payload},
		&LinkedAckMsg{},
		&SwitchMsg{Seqno: 4242},
	}
	for _, m := range msgs {
		roundTrip(t, m)
	}
}

func TestTruncationAllVariants(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var nonce LinkNonce
	msgs := []Message{
		&SendmeMsg{Version: 1, Tag: make([]byte, SendmeTagLen)},
		&LinkMsg{Payload: V1LinkPayload{Nonce: nonce}},
		&LinkedMsg{Payload: V1LinkPayload{Nonce: nonce}},
		&SwitchMsg{Seqno: 1},
	}
	// Removing the last byte of any fixed-layout message must yield
	// ErrTruncated, never a panic or a silent wrong-value parse.
	for _, m := range msgs {
		body, err := m.EncodeBody()
		require.NoError(err)
		require.NotEmpty(body)
		_, err = DecodeBody(m.Cmd(), body[:len(body)-1])
		require.ErrorIs(err, ErrTruncated, "%v", m.Cmd())
	}
}

func TestMsgOuter(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	in := &MsgOuter{
		StreamID: 42,
		Msg:      &DataMsg{Body: []byte("stream data")},
	}
	p, err := in.Encode()
	require.NoError(err)

	out, err := DecodeMsgOuter(p)
	require.NoError(err)
	require.Equal(in.StreamID, out.StreamID)
	require.Equal(in.Msg, out.Msg)

	// A length field pointing past the end of the payload is a hard
	// error, not a short read.
	p[9] = 0xff
	p[10] = 0xff
	_, err = DecodeMsgOuter(p)
	require.ErrorIs(err, ErrBadLengthValue)

	_, err = DecodeMsgOuter(p[:5])
	require.ErrorIs(err, ErrTruncated)
}

func TestUnknownRelayCommand(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := DecodeBody(Cmd(200), nil)
	require.IsType(&BadMessageError{}, err)
	require.Equal("Cmd(200)", Cmd(200).String())
}
