// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QuicConn wraps a connection and a single stream and implements
// net.Conn.
type QuicConn struct {
	Stream *quic.Stream
	Conn   *quic.Conn
}

// LocalAddr implements net.Conn.
func (q *QuicConn) LocalAddr() net.Addr {
	return q.Conn.LocalAddr()
}

// RemoteAddr implements net.Conn.
func (q *QuicConn) RemoteAddr() net.Addr {
	return q.Conn.RemoteAddr()
}

// SetDeadline implements net.Conn.
func (q *QuicConn) SetDeadline(t time.Time) error {
	return q.Stream.SetDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (q *QuicConn) SetReadDeadline(t time.Time) error {
	return q.Stream.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.
func (q *QuicConn) SetWriteDeadline(t time.Time) error {
	return q.Stream.SetWriteDeadline(t)
}

// Close implements net.Conn.
func (q *QuicConn) Close() error {
	return q.Stream.Close()
}

// Read implements net.Conn.
func (q *QuicConn) Read(b []byte) (n int, err error) {
	return q.Stream.Read(b)
}

// Write implements net.Conn.
func (q *QuicConn) Write(b []byte) (n int, err error) {
	return q.Stream.Write(b)
}

// QuicListener implements net.Listener.
type QuicListener struct {
	Listener *quic.Listener
}

// Accept implements net.Listener.  It accepts a single QUIC stream and
// returns a QuicConn carrying that one stream.
func (l *QuicListener) Accept() (net.Conn, error) {
	ctx := context.Background()
	conn, err := l.Listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &QuicConn{Conn: conn, Stream: stream}, nil
}

// Addr implements net.Listener.
func (l *QuicListener) Addr() net.Addr {
	return l.Listener.Addr()
}

// Close implements net.Listener.
func (l *QuicListener) Close() error {
	return l.Listener.Close()
}

// GenerateTLSConfig sets up a bare-bones TLS config for the listening
// side of a QUIC link.
func GenerateTLSConfig() *tls.Config {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, privKey)
	if err != nil {
		panic(err)
	}
	pkb, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: pkb})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	// ALPN is externally visible in the handshake, so advertise a
	// common protocol rather than something uniquely fingerprintable.
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, NextProtos: []string{alpn}}
}
