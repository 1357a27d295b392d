// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned when a cell carries a command byte
	// that is not defined for the negotiated link protocol.  This is a
	// hard decode error; the link cannot be resynchronized past it.
	ErrUnknownCommand = errors.New("cell: unknown command for negotiated link protocol")

	// ErrPayloadSize is returned by Encode when a fixed-size cell's
	// payload exceeds PayloadLen, or when a variable-length body is too
	// large to represent on the wire.
	ErrPayloadSize = errors.New("cell: invalid payload size")
)

// UnsupportedVersionError is returned by NewCodec for link protocol
// versions this implementation does not speak.
type UnsupportedVersionError struct {
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("cell: unsupported link protocol version %d", e.Version)
}

// Codec frames and deframes cells for one negotiated link protocol
// version.  It holds no long-lived state besides the version, so a single
// Codec may be shared by the read and write halves of a link.
type Codec struct {
	version uint16
}

// NewCodec creates a Codec for the given negotiated link protocol
// version.  Only versions 4 and 5 (4 byte circuit ids) are supported.
func NewCodec(version uint16) (*Codec, error) {
	if version < 4 || version > 5 {
		return nil, &UnsupportedVersionError{Version: version}
	}
	return &Codec{version: version}, nil
}

// Version returns the negotiated link protocol version.
func (c *Codec) Version() uint16 {
	return c.version
}

// isKnownCmd reports whether the command is defined for the negotiated
// link protocol.
func (c *Codec) isKnownCmd(cmd Cmd) bool {
	switch cmd {
	case Padding, Create, Created, Relay, Destroy, CreateFast, CreatedFast,
		Versions, NetInfo, RelayEarly, Create2, Created2, PaddingNegotiate,
		VPadding, Certs, AuthChallenge, Authenticate:
		return true
	default:
		return false
	}
}

// Encode serializes the cell and returns the resulting slice.  Fixed-size
// cells are zero padded to CellLen.
func (c *Codec) Encode(cell *Cell) ([]byte, error) {
	if !c.isKnownCmd(cell.Command) {
		return nil, ErrUnknownCommand
	}

	if cell.Command.IsVariableLength() {
		if len(cell.Payload) > MaxVarCellBodyLen {
			return nil, ErrPayloadSize
		}
		out := make([]byte, varCellHeaderLen, varCellHeaderLen+len(cell.Payload))
		binary.BigEndian.PutUint32(out[0:4], cell.CircID)
		out[4] = byte(cell.Command)
		binary.BigEndian.PutUint16(out[5:7], uint16(len(cell.Payload)))
		return append(out, cell.Payload...), nil
	}

	if len(cell.Payload) > PayloadLen {
		return nil, ErrPayloadSize
	}
	out := make([]byte, CellLen)
	binary.BigEndian.PutUint32(out[0:4], cell.CircID)
	out[4] = byte(cell.Command)
	copy(out[CircIDLen+CmdLen:], cell.Payload)
	return out, nil
}

// Decode deframes one cell from the head of b.  It returns the cell and
// the number of bytes consumed.  A (nil, 0, nil) return means that b does
// not yet hold a complete cell and more data is needed; b is left
// untouched.  Decoding never reads past one cell boundary.
func (c *Codec) Decode(b []byte) (*Cell, int, error) {
	if len(b) < CircIDLen+CmdLen {
		return nil, 0, nil
	}

	circID := binary.BigEndian.Uint32(b[0:4])
	cmd := Cmd(b[4])
	if !c.isKnownCmd(cmd) {
		return nil, 0, ErrUnknownCommand
	}

	if cmd.IsVariableLength() {
		if len(b) < varCellHeaderLen {
			return nil, 0, nil
		}
		bodyLen := int(binary.BigEndian.Uint16(b[5:7]))
		total := varCellHeaderLen + bodyLen
		if len(b) < total {
			return nil, 0, nil
		}
		body := make([]byte, bodyLen)
		copy(body, b[varCellHeaderLen:total])
		return &Cell{
			CircID:  circID,
			Command: cmd,
			Payload: body,
		}, total, nil
	}

	if len(b) < CellLen {
		return nil, 0, nil
	}
	payload := make([]byte, PayloadLen)
	copy(payload, b[CircIDLen+CmdLen:CellLen])
	return &Cell{
		CircID:  circID,
		Command: cmd,
		Payload: payload,
	}, CellLen, nil
}
