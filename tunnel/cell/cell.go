// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package cell implements framing and deframing of fixed-format cells on
// one physical link.
package cell

import (
	"fmt"
)

const (
	// PayloadLen is the length of the fixed-size payload of a cell.
	PayloadLen = 509

	// CircIDLen is the length of the circuit identifier, in bytes.
	CircIDLen = 4

	// CmdLen is the length of the command field, in bytes.
	CmdLen = 1

	// CellLen is the on-wire length of a fixed-size cell.
	CellLen = CircIDLen + CmdLen + PayloadLen

	// varCellHeaderLen is the header length of a variable-length cell:
	// circuit id, command, and a 16 bit body length.
	varCellHeaderLen = CircIDLen + CmdLen + 2

	// MaxVarCellBodyLen is the maximum body length accepted for a
	// variable-length cell.
	MaxVarCellBodyLen = 65535
)

// Cmd is a cell command byte.
type Cmd byte

// Cell commands.  The numeric values are part of the wire protocol.
const (
	Padding          Cmd = 0
	Create           Cmd = 1
	Created          Cmd = 2
	Relay            Cmd = 3
	Destroy          Cmd = 4
	CreateFast       Cmd = 5
	CreatedFast      Cmd = 6
	Versions         Cmd = 7
	NetInfo          Cmd = 8
	RelayEarly       Cmd = 9
	Create2          Cmd = 10
	Created2         Cmd = 11
	PaddingNegotiate Cmd = 12

	VPadding      Cmd = 128
	Certs         Cmd = 129
	AuthChallenge Cmd = 130
	Authenticate  Cmd = 131
)

// IsVariableLength returns true if the command designates a
// variable-length cell, carrying an explicit body length on the wire
// instead of a fixed padded payload.
func (c Cmd) IsVariableLength() bool {
	return c == Versions || byte(c) >= 128
}

func (c Cmd) String() string {
	switch c {
	case Padding:
		return "PADDING"
	case Create:
		return "CREATE"
	case Created:
		return "CREATED"
	case Relay:
		return "RELAY"
	case Destroy:
		return "DESTROY"
	case CreateFast:
		return "CREATE_FAST"
	case CreatedFast:
		return "CREATED_FAST"
	case Versions:
		return "VERSIONS"
	case NetInfo:
		return "NETINFO"
	case RelayEarly:
		return "RELAY_EARLY"
	case Create2:
		return "CREATE2"
	case Created2:
		return "CREATED2"
	case PaddingNegotiate:
		return "PADDING_NEGOTIATE"
	case VPadding:
		return "VPADDING"
	case Certs:
		return "CERTS"
	case AuthChallenge:
		return "AUTH_CHALLENGE"
	case Authenticate:
		return "AUTHENTICATE"
	default:
		return fmt.Sprintf("Cmd(%d)", byte(c))
	}
}

// Cell is one deframed unit from a physical link.  For fixed-size cells
// Payload is always exactly PayloadLen bytes; for variable-length cells
// it is the body as carried on the wire.
type Cell struct {
	// CircID identifies the circuit this cell belongs to on this link.
	CircID uint32

	// Command is the cell command.
	Command Cmd

	// Payload is the cell body.
	Payload []byte
}
