// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"net"
	"sync"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
)

// Channel is one physical link to a relay, carrying framed cells.  The
// link protocol handshake (VERSIONS/CERTS/NETINFO) has already completed
// by the time a Channel is handed to a tunnel; what remains is a
// reliable, ordered, authenticated cell pipe.
type Channel interface {
	// SendCell frames and writes one cell.  Serialized by the caller.
	SendCell(c *cell.Cell) error

	// RecvCell blocks until one whole cell is available or the link
	// dies.  Exactly one goroutine may call it at a time.
	RecvCell() (*cell.Cell, error)

	// Close tears down the link.  RecvCell unblocks with an error.
	Close() error
}

// connChannel adapts a net.Conn into a Channel with a resumable decode
// buffer on the read side.
type connChannel struct {
	conn  net.Conn
	codec *cell.Codec

	writeLock sync.Mutex

	readBuf []byte
}

// NewConnChannel wraps an established, handshake-complete connection
// with cell framing for the given negotiated link protocol version.
func NewConnChannel(conn net.Conn, version uint16) (Channel, error) {
	codec, err := cell.NewCodec(version)
	if err != nil {
		return nil, err
	}
	return &connChannel{
		conn:  conn,
		codec: codec,
	}, nil
}

func (ch *connChannel) SendCell(c *cell.Cell) error {
	b, err := ch.codec.Encode(c)
	if err != nil {
		return err
	}
	ch.writeLock.Lock()
	defer ch.writeLock.Unlock()
	_, err = ch.conn.Write(b)
	return err
}

func (ch *connChannel) RecvCell() (*cell.Cell, error) {
	for {
		c, n, err := ch.codec.Decode(ch.readBuf)
		if err != nil {
			return nil, err
		}
		if c != nil {
			ch.readBuf = ch.readBuf[n:]
			return c, nil
		}

		// Need more data.
		tmp := make([]byte, cell.CellLen)
		n, err = ch.conn.Read(tmp)
		if n > 0 {
			ch.readBuf = append(ch.readBuf, tmp[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (ch *connChannel) Close() error {
	return ch.conn.Close()
}
