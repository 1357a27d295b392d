// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport establishes the reliable, ordered byte streams that
// cell framing runs on top of, over either TCP or a single QUIC stream.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

const alpn = "h3"

// Dial connects to a relay link address.  network is "tcp" or "quic".
func Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp":
		d := new(net.Dialer)
		return d.DialContext(ctx, network, addr)
	case "quic":
		conn, err := quic.DialAddr(ctx, addr, &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
		}, nil)
		if err != nil {
			return nil, err
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			return nil, err
		}
		// The stream is lazily initiated; force the first flight so the
		// far side's AcceptStream returns.
		if _, err := stream.Write([]byte{}); err != nil {
			return nil, err
		}
		return &QuicConn{Conn: conn, Stream: stream}, nil
	default:
		return nil, fmt.Errorf("transport: unsupported network %q", network)
	}
}

// Listen binds a relay link listener.  network is "tcp" or "quic".
func Listen(network, addr string) (net.Listener, error) {
	switch network {
	case "tcp":
		return net.Listen(network, addr)
	case "quic":
		ql, err := quic.ListenAddr(addr, GenerateTLSConfig(), nil)
		if err != nil {
			return nil, err
		}
		return &QuicListener{Listener: ql}, nil
	default:
		return nil, fmt.Errorf("transport: unsupported network %q", network)
	}
}
