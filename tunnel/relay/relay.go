// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay implements the variable-length messages carried inside a
// decrypted relay cell, including the conflux sub-protocol.
package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
)

const (
	// headerLen is the length of the relay message header: command,
	// recognized, stream id, digest, body length.
	headerLen = 1 + 2 + 2 + 4 + 2

	// MaxBodyLen is the maximum body length of a single relay message.
	MaxBodyLen = cell.PayloadLen - headerLen
)

// Cmd is a relay message command.
type Cmd byte

// Relay commands.  The numeric values are part of the wire protocol.
const (
	Begin     Cmd = 1
	Data      Cmd = 2
	End       Cmd = 3
	Connected Cmd = 4
	Sendme    Cmd = 5
	Extend2   Cmd = 14
	Extended2 Cmd = 15

	ConfluxLink      Cmd = 19
	ConfluxLinked    Cmd = 20
	ConfluxLinkedAck Cmd = 21
	ConfluxSwitch    Cmd = 22
)

func (c Cmd) String() string {
	switch c {
	case Begin:
		return "BEGIN"
	case Data:
		return "DATA"
	case End:
		return "END"
	case Connected:
		return "CONNECTED"
	case Sendme:
		return "SENDME"
	case Extend2:
		return "EXTEND2"
	case Extended2:
		return "EXTENDED2"
	case ConfluxLink:
		return "CONFLUX_LINK"
	case ConfluxLinked:
		return "CONFLUX_LINKED"
	case ConfluxLinkedAck:
		return "CONFLUX_LINKED_ACK"
	case ConfluxSwitch:
		return "CONFLUX_SWITCH"
	default:
		return fmt.Sprintf("Cmd(%d)", byte(c))
	}
}

// IsStreamCmd reports whether the command is addressed to an individual
// stream (carries a meaningful nonzero stream id).
func (c Cmd) IsStreamCmd() bool {
	switch c {
	case Begin, Data, End, Connected:
		return true
	default:
		return false
	}
}

// Message is the common interface of all relay message bodies.  A Message
// is constructed and consumed entirely within one encode/decode call.
type Message interface {
	// Cmd returns the relay command of this message.
	Cmd() Cmd

	// EncodeBody serializes the message body and returns the resulting
	// slice.
	EncodeBody() ([]byte, error)
}

// DecodeBody parses the body of a relay message with the given command.
//
// Messages whose type mandates an exact-length body reject trailing bytes
// with ErrExtraneousBytes; bodies shorter than their fixed-size fields
// yield ErrTruncated.
func DecodeBody(cmd Cmd, body []byte) (Message, error) {
	switch cmd {
	case Begin:
		return decodeBegin(body)
	case Data:
		return decodeData(body)
	case End:
		return decodeEnd(body)
	case Connected:
		return decodeConnected(body)
	case Sendme:
		return decodeSendme(body)
	case ConfluxLink:
		return decodeLink(body)
	case ConfluxLinked:
		return decodeLinked(body)
	case ConfluxLinkedAck:
		return decodeLinkedAck(body)
	case ConfluxSwitch:
		return decodeSwitch(body)
	default:
		return nil, &BadMessageError{Cmd: cmd, Msg: "unknown relay command"}
	}
}

// BeginMsg requests that the far hop open a stream to Addr:Port.
type BeginMsg struct {
	Addr  string
	Port  uint16
	Flags uint32
}

// Cmd implements Message.
func (m *BeginMsg) Cmd() Cmd { return Begin }

// EncodeBody implements Message.
func (m *BeginMsg) EncodeBody() ([]byte, error) {
	// ADDRPORT is "addr:port\0", flags follow.
	addrPort := fmt.Sprintf("%s:%d", m.Addr, m.Port)
	out := make([]byte, 0, len(addrPort)+1+4)
	out = append(out, []byte(addrPort)...)
	out = append(out, 0)
	var flags [4]byte
	binary.BigEndian.PutUint32(flags[:], m.Flags)
	return append(out, flags[:]...), nil
}

func decodeBegin(b []byte) (Message, error) {
	nul := -1
	for i, c := range b {
		if c == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return nil, ErrTruncated
	}
	addrPort := string(b[:nul])
	rest := b[nul+1:]

	var flags uint32
	switch {
	case len(rest) == 0:
		// Flags are optional.
	case len(rest) >= 4:
		flags = binary.BigEndian.Uint32(rest[:4])
	default:
		return nil, ErrTruncated
	}

	colon := -1
	for i := len(addrPort) - 1; i >= 0; i-- {
		if addrPort[i] == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return nil, &BadMessageError{Cmd: Begin, Msg: "missing port"}
	}
	var port uint16
	if _, err := fmt.Sscanf(addrPort[colon+1:], "%d", &port); err != nil {
		return nil, &BadMessageError{Cmd: Begin, Msg: "unparseable port"}
	}
	return &BeginMsg{
		Addr:  addrPort[:colon],
		Port:  port,
		Flags: flags,
	}, nil
}

// DataMsg carries ordinary stream data.
type DataMsg struct {
	Body []byte
}

// Cmd implements Message.
func (m *DataMsg) Cmd() Cmd { return Data }

// EncodeBody implements Message.
func (m *DataMsg) EncodeBody() ([]byte, error) {
	if len(m.Body) > MaxBodyLen {
		return nil, &BadMessageError{Cmd: Data, Msg: "body exceeds relay cell capacity"}
	}
	return m.Body, nil
}

func decodeData(b []byte) (Message, error) {
	body := make([]byte, len(b))
	copy(body, b)
	return &DataMsg{Body: body}, nil
}

// EndReason is the reason carried by an END message.
type EndReason byte

// END reasons.  The numeric values are part of the wire protocol.
const (
	EndReasonMisc           EndReason = 1
	EndReasonResolveFailed  EndReason = 2
	EndReasonConnectRefused EndReason = 3
	EndReasonExitPolicy     EndReason = 4
	EndReasonDestroy        EndReason = 5
	EndReasonDone           EndReason = 6
	EndReasonTimeout        EndReason = 7
)

func (r EndReason) String() string {
	switch r {
	case EndReasonMisc:
		return "MISC"
	case EndReasonResolveFailed:
		return "RESOLVEFAILED"
	case EndReasonConnectRefused:
		return "CONNECTREFUSED"
	case EndReasonExitPolicy:
		return "EXITPOLICY"
	case EndReasonDestroy:
		return "DESTROY"
	case EndReasonDone:
		return "DONE"
	case EndReasonTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("EndReason(%d)", byte(r))
	}
}

// EndMsg terminates a stream.
type EndMsg struct {
	Reason EndReason
}

// Cmd implements Message.
func (m *EndMsg) Cmd() Cmd { return End }

// EncodeBody implements Message.
func (m *EndMsg) EncodeBody() ([]byte, error) {
	return []byte{byte(m.Reason)}, nil
}

func decodeEnd(b []byte) (Message, error) {
	if len(b) < 1 {
		// An empty END is treated as REASON_MISC by deployed peers.
		return &EndMsg{Reason: EndReasonMisc}, nil
	}
	return &EndMsg{Reason: EndReason(b[0])}, nil
}

// ConnectedMsg confirms stream establishment.  The optional address body
// is not interpreted by this layer.
type ConnectedMsg struct{}

// Cmd implements Message.
func (m *ConnectedMsg) Cmd() Cmd { return Connected }

// EncodeBody implements Message.
func (m *ConnectedMsg) EncodeBody() ([]byte, error) {
	return nil, nil
}

func decodeConnected(b []byte) (Message, error) {
	return &ConnectedMsg{}, nil
}

// SendmeTagLen is the length of the authenticated SENDME tag.
const SendmeTagLen = 20

// SendmeMsg is a flow control acknowledgement.  Version 1 SENDMEs carry
// an authentication tag binding the acknowledgement to traffic actually
// received.
type SendmeMsg struct {
	Version byte
	Tag     []byte
}

// Cmd implements Message.
func (m *SendmeMsg) Cmd() Cmd { return Sendme }

// EncodeBody implements Message.
func (m *SendmeMsg) EncodeBody() ([]byte, error) {
	switch m.Version {
	case 0:
		return nil, nil
	case 1:
		if len(m.Tag) != SendmeTagLen {
			return nil, &BadMessageError{Cmd: Sendme, Msg: "bad tag length"}
		}
		out := make([]byte, 3, 3+SendmeTagLen)
		out[0] = m.Version
		binary.BigEndian.PutUint16(out[1:3], SendmeTagLen)
		return append(out, m.Tag...), nil
	default:
		return nil, ErrUnrecognizedVersion
	}
}

func decodeSendme(b []byte) (Message, error) {
	if len(b) == 0 {
		// Version 0: empty body.
		return &SendmeMsg{Version: 0}, nil
	}
	version := b[0]
	if version != 1 {
		return nil, ErrUnrecognizedVersion
	}
	if len(b) < 3 {
		return nil, ErrTruncated
	}
	tagLen := int(binary.BigEndian.Uint16(b[1:3]))
	if tagLen != SendmeTagLen {
		return nil, ErrBadLengthValue
	}
	if len(b) < 3+tagLen {
		return nil, ErrTruncated
	}
	if len(b) > 3+tagLen {
		return nil, ErrExtraneousBytes
	}
	tag := make([]byte, tagLen)
	copy(tag, b[3:])
	return &SendmeMsg{Version: version, Tag: tag}, nil
}
