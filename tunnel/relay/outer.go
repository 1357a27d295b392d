// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"encoding/binary"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
)

// StreamID identifies a stream within one hop of a circuit.  Zero is
// reserved for messages addressed to the circuit itself.
type StreamID uint16

// MsgOuter is a relay message together with its addressing header, as
// carried in the decrypted payload of one relay cell.
//
// The 2 byte recognized field and the 4 byte digest field belong to the
// per-hop crypto layer: they are zeroed on encode and ignored on decode,
// since the caller has already authenticated the payload before handing
// it to this codec.
type MsgOuter struct {
	StreamID StreamID
	Msg      Message
}

// Encode serializes the message into a full relay cell payload, zero
// padded to the fixed cell payload length.
func (o *MsgOuter) Encode() ([]byte, error) {
	body, err := o.Msg.EncodeBody()
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyLen {
		return nil, &BadMessageError{Cmd: o.Msg.Cmd(), Msg: "body exceeds relay cell capacity"}
	}
	out := make([]byte, cell.PayloadLen)
	out[0] = byte(o.Msg.Cmd())
	binary.BigEndian.PutUint16(out[3:5], uint16(o.StreamID))
	binary.BigEndian.PutUint16(out[9:11], uint16(len(body)))
	copy(out[headerLen:], body)
	return out, nil
}

// DecodeMsgOuter parses one decrypted relay cell payload.
func DecodeMsgOuter(p []byte) (*MsgOuter, error) {
	if len(p) < headerLen {
		return nil, ErrTruncated
	}
	cmd := Cmd(p[0])
	streamID := StreamID(binary.BigEndian.Uint16(p[3:5]))
	bodyLen := int(binary.BigEndian.Uint16(p[9:11]))
	if bodyLen > len(p)-headerLen {
		return nil, ErrBadLengthValue
	}
	msg, err := DecodeBody(cmd, p[headerLen:headerLen+bodyLen])
	if err != nil {
		return nil, err
	}
	return &MsgOuter{StreamID: streamID, Msg: msg}, nil
}
