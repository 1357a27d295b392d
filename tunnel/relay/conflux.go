// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"encoding/binary"
	"fmt"
)

const (
	// LinkVersion is the single supported CONFLUX_LINK version.
	LinkVersion = 1

	// LinkNonceLen is the length of the nonce in a v1 link payload.
	LinkNonceLen = 32

	// linkBodyLen is the exact body length of a v1 CONFLUX_LINK or
	// CONFLUX_LINKED message: version, nonce, two seqnos, desired UX.
	linkBodyLen = 1 + LinkNonceLen + 8 + 8 + 1

	// switchBodyLen is the exact body length of a CONFLUX_SWITCH message.
	switchBodyLen = 4
)

// LinkNonce is the 256 bit secret associating two circuit legs.
type LinkNonce [LinkNonceLen]byte

// DesiredUX is the UX preference carried in a V1LinkPayload.  Values not
// yet defined by the protocol are preserved numerically.
type DesiredUX byte

// Defined UX preferences.
const (
	UXNoOpinion        DesiredUX = 0
	UXMinLatency       DesiredUX = 1
	UXLowMemLatency    DesiredUX = 2
	UXHighThroughput   DesiredUX = 3
	UXLowMemThroughput DesiredUX = 4
)

func (u DesiredUX) String() string {
	switch u {
	case UXNoOpinion:
		return "NO_OPINION"
	case UXMinLatency:
		return "MIN_LATENCY"
	case UXLowMemLatency:
		return "LOW_MEM_LATENCY"
	case UXHighThroughput:
		return "HIGH_THROUGHPUT"
	case UXLowMemThroughput:
		return "LOW_MEM_THROUGHPUT"
	default:
		return fmt.Sprintf("DesiredUX(%d)", byte(u))
	}
}

// V1LinkPayload is the v1 payload shared by CONFLUX_LINK and
// CONFLUX_LINKED messages.
type V1LinkPayload struct {
	// Nonce associates the two legs of a conflux tunnel.  It is unique
	// per link attempt.
	Nonce LinkNonce

	// LastSeqnoSent is the last sequence number the sender transmitted.
	LastSeqnoSent uint64

	// LastSeqnoRecv is the last sequence number the sender received.
	LastSeqnoRecv uint64

	// DesiredUX is the sender's scheduling preference.
	DesiredUX DesiredUX
}

func encodeLinkBody(p *V1LinkPayload) []byte {
	out := make([]byte, linkBodyLen)
	out[0] = LinkVersion
	copy(out[1:1+LinkNonceLen], p.Nonce[:])
	binary.BigEndian.PutUint64(out[33:41], p.LastSeqnoSent)
	binary.BigEndian.PutUint64(out[41:49], p.LastSeqnoRecv)
	out[49] = byte(p.DesiredUX)
	return out
}

func decodeLinkBody(b []byte) (*V1LinkPayload, error) {
	if len(b) < 1 {
		return nil, ErrTruncated
	}
	if b[0] != LinkVersion {
		return nil, ErrUnrecognizedVersion
	}
	if len(b) < linkBodyLen {
		return nil, ErrTruncated
	}
	if len(b) > linkBodyLen {
		return nil, ErrExtraneousBytes
	}
	p := new(V1LinkPayload)
	copy(p.Nonce[:], b[1:1+LinkNonceLen])
	p.LastSeqnoSent = binary.BigEndian.Uint64(b[33:41])
	p.LastSeqnoRecv = binary.BigEndian.Uint64(b[41:49])
	p.DesiredUX = DesiredUX(b[49])
	return p, nil
}

// LinkMsg is a CONFLUX_LINK message, sent to propose linking the circuit
// it arrives on into a conflux tunnel.
type LinkMsg struct {
	Payload V1LinkPayload
}

// Cmd implements Message.
func (m *LinkMsg) Cmd() Cmd { return ConfluxLink }

// EncodeBody implements Message.
func (m *LinkMsg) EncodeBody() ([]byte, error) {
	return encodeLinkBody(&m.Payload), nil
}

func decodeLink(b []byte) (Message, error) {
	p, err := decodeLinkBody(b)
	if err != nil {
		return nil, err
	}
	return &LinkMsg{Payload: *p}, nil
}

// LinkedMsg is a CONFLUX_LINKED message, confirming a CONFLUX_LINK.
type LinkedMsg struct {
	Payload V1LinkPayload
}

// Cmd implements Message.
func (m *LinkedMsg) Cmd() Cmd { return ConfluxLinked }

// EncodeBody implements Message.
func (m *LinkedMsg) EncodeBody() ([]byte, error) {
	return encodeLinkBody(&m.Payload), nil
}

func decodeLinked(b []byte) (Message, error) {
	p, err := decodeLinkBody(b)
	if err != nil {
		return nil, err
	}
	return &LinkedMsg{Payload: *p}, nil
}

// LinkedAckMsg confirms receipt of a CONFLUX_LINKED message.  Its body is
// empty; switching must not begin before it is received.
type LinkedAckMsg struct{}

// Cmd implements Message.
func (m *LinkedAckMsg) Cmd() Cmd { return ConfluxLinkedAck }

// EncodeBody implements Message.
func (m *LinkedAckMsg) EncodeBody() ([]byte, error) {
	return nil, nil
}

func decodeLinkedAck(b []byte) (Message, error) {
	if len(b) != 0 {
		return nil, ErrExtraneousBytes
	}
	return &LinkedAckMsg{}, nil
}

// SwitchMsg announces that the sender moves its egress to the leg this
// message arrives on, as of the given relative sequence number.
type SwitchMsg struct {
	Seqno uint32
}

// Cmd implements Message.
func (m *SwitchMsg) Cmd() Cmd { return ConfluxSwitch }

// EncodeBody implements Message.
func (m *SwitchMsg) EncodeBody() ([]byte, error) {
	out := make([]byte, switchBodyLen)
	binary.BigEndian.PutUint32(out, m.Seqno)
	return out, nil
}

func decodeSwitch(b []byte) (Message, error) {
	if len(b) < switchBodyLen {
		return nil, ErrTruncated
	}
	if len(b) > switchBodyLen {
		return nil, ErrExtraneousBytes
	}
	return &SwitchMsg{Seqno: binary.BigEndian.Uint32(b)}, nil
}
